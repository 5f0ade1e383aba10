// Package review re-evaluates every order still pending at the broker.
// Price drift since submission decides whether each order is kept,
// re-priced, or cancelled; the broker's answer to a cancel or modify that
// lost a race with a fill is benign and resolved by re-query.
package review

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"github.com/BenLeung-moon/tiger-trader/internal/broker"
	"github.com/BenLeung-moon/tiger-trader/internal/engine"
	"github.com/BenLeung-moon/tiger-trader/internal/ledger"
	"github.com/BenLeung-moon/tiger-trader/internal/obs"
	"github.com/BenLeung-moon/tiger-trader/internal/ratelimit"
	"github.com/BenLeung-moon/tiger-trader/internal/schema"
)

// Action is the reviewer's verdict on one open order.
type Action string

const (
	ActionKeep   Action = "KEEP"
	ActionModify Action = "MODIFY"
	ActionCancel Action = "CANCEL"
)

// Decision records one reviewed order for the report.
type Decision struct {
	OrderID  string
	Symbol   string
	Action   Action
	Reason   string
	NewPrice decimal.Decimal
}

// Report summarizes one review pass.
type Report struct {
	Reviewed  int
	Kept      int
	Modified  int
	Cancelled int
	Races     int
	Failures  int
	Decisions []Decision
}

// Config holds the drift and staleness thresholds. These are tuned
// empirically per strategy; nothing here is a universal constant.
type Config struct {
	// MaxAge cancels any order resting unfilled longer than this.
	MaxAge time.Duration
	// AdverseDrift cancels when price moved against the order by more
	// than this fraction of the limit price.
	AdverseDrift decimal.Decimal
	// ImproveDrift re-prices when price moved favorably by more than
	// this fraction, leaving the old limit unlikely to fill soon.
	ImproveDrift decimal.Decimal
	// Buffer is applied to the fresh quote when re-pricing, same logic
	// as the engine's market-to-limit conversion.
	Buffer decimal.Decimal
	// CallTimeout bounds each gateway call.
	CallTimeout time.Duration
}

// DefaultConfig matches the thresholds the strategy was run with.
func DefaultConfig() Config {
	return Config{
		MaxAge:       45 * time.Minute,
		AdverseDrift: decimal.NewFromFloat(0.02),
		ImproveDrift: decimal.NewFromFloat(0.01),
		Buffer:       decimal.NewFromFloat(0.02),
		CallTimeout:  10 * time.Second,
	}
}

// Reviewer walks the open-order set on its own cadence.
type Reviewer struct {
	cfg     Config
	ledger  *ledger.Ledger
	gateway broker.Gateway
	limiter *ratelimit.Limiter
	halt    *broker.Halt
	metrics *obs.Metrics
	now     func() time.Time
}

// New creates a reviewer sharing the engine's halt latch.
func New(cfg Config, led *ledger.Ledger, gw broker.Gateway, limiter *ratelimit.Limiter, halt *broker.Halt, metrics *obs.Metrics) *Reviewer {
	def := DefaultConfig()
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.AdverseDrift.IsZero() {
		cfg.AdverseDrift = def.AdverseDrift
	}
	if cfg.ImproveDrift.IsZero() {
		cfg.ImproveDrift = def.ImproveDrift
	}
	if cfg.Buffer.IsZero() {
		cfg.Buffer = def.Buffer
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	return &Reviewer{
		cfg:     cfg,
		ledger:  led,
		gateway: gw,
		limiter: limiter,
		halt:    halt,
		metrics: metrics,
		now:     time.Now,
	}
}

// ReviewAll evaluates every non-terminal order once. Individual failures
// are counted, logged, and skipped; the pass itself never aborts early
// except on context cancellation or an auth halt.
func (r *Reviewer) ReviewAll(ctx context.Context) (Report, error) {
	var report Report
	if r.halt != nil && r.halt.Active() {
		return report, nil
	}

	for _, order := range r.ledger.OpenOrders() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Reviewed++

		decision, err := r.reviewOne(ctx, order)
		if err != nil {
			report.Failures++
			r.metrics.ObserveError(err)
			logs.Warnf("review of order %s failed: %v", order.ID, err)
			if broker.ClassOf(err) == broker.ClassAuthFailure {
				if r.halt != nil {
					r.halt.Trip()
				}
				return report, err
			}
			continue
		}

		report.Decisions = append(report.Decisions, decision)
		switch decision.Action {
		case ActionKeep:
			report.Kept++
			r.metrics.IncReviewKeep()
		case ActionModify:
			report.Modified++
			r.metrics.IncReviewModify()
		case ActionCancel:
			report.Cancelled++
			r.metrics.IncReviewCancel()
		}
		if decision.Reason == raceReason {
			report.Races++
			r.metrics.IncReviewRace()
		}
	}
	return report, nil
}

const raceReason = "superseded by broker fill"

func (r *Reviewer) reviewOne(ctx context.Context, order schema.Order) (Decision, error) {
	if err := r.limiter.Acquire(ctx, ratelimit.ClassQuote); err != nil {
		return Decision{}, err
	}
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	quote, err := r.gateway.GetQuote(callCtx, order.Symbol, order.Market)
	cancel()
	if err != nil {
		return Decision{}, err
	}

	now := r.now()
	decision := r.decide(order, quote.Last, now)

	var raced bool
	switch decision.Action {
	case ActionCancel:
		raced, err = r.apply(ctx, order, decision, func(callCtx context.Context) error {
			return r.gateway.CancelOrder(callCtx, order.ID)
		})
	case ActionModify:
		raced, err = r.apply(ctx, order, decision, func(callCtx context.Context) error {
			return r.gateway.ModifyOrder(callCtx, order.ID, decision.NewPrice)
		})
		if err == nil && !raced {
			if uerr := r.ledger.UpdateLimitPrice(order.ID, decision.NewPrice); uerr != nil {
				logs.Warnf("record re-price of %s: %v", order.ID, uerr)
			}
		}
	}
	if err != nil {
		return Decision{}, err
	}
	if raced {
		decision.Reason = raceReason
	}

	if merr := r.ledger.MarkReviewed(order.ID, now); merr != nil {
		logs.Warnf("stamp review of %s: %v", order.ID, merr)
	}
	return decision, nil
}

// apply executes a cancel or modify. A conflict means the order changed
// under us, usually a fill between quote and action: re-query its status
// and downgrade the decision to KEEP; reconciliation settles the rest.
func (r *Reviewer) apply(ctx context.Context, order schema.Order, decision Decision, call func(context.Context) error) (raced bool, err error) {
	if err := r.limiter.Acquire(ctx, ratelimit.ClassOrder); err != nil {
		return false, err
	}
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	err = call(callCtx)
	cancel()
	if err == nil {
		logs.Infof("order %s: %s (%s)", order.ID, decision.Action, decision.Reason)
		return false, nil
	}
	if broker.ClassOf(err) != broker.ClassConflict {
		return false, err
	}

	callCtx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
	refreshed, qerr := r.gateway.GetOrder(callCtx, order.ID)
	cancel()
	if qerr != nil {
		logs.Warnf("re-query of %s after conflict failed: %v", order.ID, qerr)
	} else {
		logs.Infof("order %s raced to %s before %s could apply", order.ID, refreshed.Status, decision.Action)
	}
	return true, nil
}

// decide implements the KEEP / MODIFY / CANCEL policy against the latest
// quote.
func (r *Reviewer) decide(order schema.Order, last decimal.Decimal, now time.Time) Decision {
	decision := Decision{OrderID: order.ID, Symbol: order.Symbol, Action: ActionKeep}

	if !order.SubmittedAt.IsZero() && now.Sub(order.SubmittedAt) > r.cfg.MaxAge && order.FilledQuantity == 0 {
		decision.Action = ActionCancel
		decision.Reason = "resting unfilled beyond max age"
		return decision
	}

	if order.LimitPrice.IsZero() || last.IsZero() {
		return decision
	}

	// Drift of the market relative to the limit, signed so positive is
	// against the order's intent.
	drift := last.Sub(order.LimitPrice).Div(order.LimitPrice)
	adverse := drift
	if order.Side == schema.OrderSideBuy {
		adverse = drift.Neg()
	}

	if adverse.GreaterThan(r.cfg.AdverseDrift) {
		decision.Action = ActionCancel
		decision.Reason = "price moved against order beyond threshold"
		return decision
	}

	if adverse.Neg().GreaterThan(r.cfg.ImproveDrift) {
		one := decimal.NewFromInt(1)
		var fresh decimal.Decimal
		if order.Side == schema.OrderSideBuy {
			fresh = last.Mul(one.Add(r.cfg.Buffer))
		} else {
			fresh = last.Mul(one.Sub(r.cfg.Buffer))
		}
		decision.Action = ActionModify
		decision.Reason = "limit no longer competitive"
		decision.NewPrice = engine.RoundToTick(fresh, order.Market)
		return decision
	}

	return decision
}
