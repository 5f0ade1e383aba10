// Package engine turns decisions into correctly-typed broker orders. It
// sizes each decision against the ledger's available funds, converts
// market orders to bounded limit orders on venues that need it, and
// submits through the rate-limited gateway with bounded retry.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"github.com/BenLeung-moon/tiger-trader/internal/broker"
	"github.com/BenLeung-moon/tiger-trader/internal/clock"
	"github.com/BenLeung-moon/tiger-trader/internal/ledger"
	"github.com/BenLeung-moon/tiger-trader/internal/obs"
	"github.com/BenLeung-moon/tiger-trader/internal/ratelimit"
	"github.com/BenLeung-moon/tiger-trader/internal/schema"
)

// Outcome is the engine's verdict on one decision.
type Outcome string

const (
	OutcomeSubmitted Outcome = "SUBMITTED"
	OutcomeDeferred  Outcome = "DEFERRED"
	OutcomeRejected  Outcome = "REJECTED"
)

// Reason explains a rejection.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonInvalidDecision      Reason = "invalid_decision"
	ReasonPositionConflict     Reason = "position_conflict"
	ReasonInsufficientFunds    Reason = "insufficient_funds"
	ReasonInsufficientPosition Reason = "insufficient_position"
	ReasonBrokerRejected       Reason = "broker_rejected"
	ReasonAuthHalted           Reason = "auth_halted"
	ReasonRetriesExhausted     Reason = "retries_exhausted"
)

// Result reports what the engine did with a decision.
type Result struct {
	Outcome  Outcome
	Reason   Reason
	Order    schema.Order
	Quantity int64 // quantity actually submitted, after clamping
}

// Config holds the engine's tunables. Thresholds are configuration, not
// constants: they are tuned per account and venue.
type Config struct {
	// RiskFraction caps the share of available cash committed to a
	// single new position.
	RiskFraction decimal.Decimal
	// Buffer is the relative price offset applied when converting a
	// market order to a limit order.
	Buffer decimal.Decimal
	// NearCloseBuffer replaces Buffer within NearCloseWindow of the
	// session end, when fills get harder.
	NearCloseBuffer decimal.Decimal
	NearCloseWindow time.Duration
	// MaxRetries bounds transient-failure resubmission attempts.
	MaxRetries int
	// SubmitTimeout bounds each individual gateway call.
	SubmitTimeout time.Duration
	// HKRMBCounterFallback retries a rejected HK order once on the
	// RMB counter (00388 -> 80388).
	HKRMBCounterFallback bool
}

// DefaultConfig mirrors the tunings the strategy was operated with.
func DefaultConfig() Config {
	return Config{
		RiskFraction:    decimal.NewFromFloat(0.2),
		Buffer:          decimal.NewFromFloat(0.02),
		NearCloseBuffer: decimal.NewFromFloat(0.03),
		NearCloseWindow: 15 * time.Minute,
		MaxRetries:      3,
		SubmitTimeout:   10 * time.Second,
	}
}

// Engine executes decisions. It never marks an order filled on its own
// belief; lifecycle truth comes from reconciliation.
type Engine struct {
	cfg     Config
	ledger  *ledger.Ledger
	gateway broker.Gateway
	limiter *ratelimit.Limiter
	halt    *broker.Halt
	metrics *obs.Metrics
	backoff broker.Backoff
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

// New creates an execution engine. halt is shared with the reviewer so an
// auth failure in either loop suspends both.
func New(cfg Config, led *ledger.Ledger, gw broker.Gateway, limiter *ratelimit.Limiter, halt *broker.Halt, metrics *obs.Metrics) *Engine {
	if cfg.RiskFraction.IsZero() {
		cfg.RiskFraction = DefaultConfig().RiskFraction
	}
	if cfg.Buffer.IsZero() {
		cfg.Buffer = DefaultConfig().Buffer
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultConfig().SubmitTimeout
	}
	return &Engine{
		cfg:     cfg,
		ledger:  led,
		gateway: gw,
		limiter: limiter,
		halt:    halt,
		metrics: metrics,
		backoff: broker.DefaultBackoff(),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Execute runs one decision through the full pipeline. A closed market
// defers the decision; the caller retries it on a later cycle, the engine
// does not queue.
func (e *Engine) Execute(ctx context.Context, d schema.Decision) (Result, error) {
	if !d.Market.IsAvailable() || !d.Side.IsAvailable() || d.Quantity <= 0 || !d.TargetPrice.IsPositive() {
		e.metrics.IncRejected()
		return Result{Outcome: OutcomeRejected, Reason: ReasonInvalidDecision}, nil
	}

	if e.halt != nil && e.halt.Active() {
		e.metrics.IncRejected()
		return Result{Outcome: OutcomeRejected, Reason: ReasonAuthHalted}, nil
	}

	now := e.now()
	if !clock.IsOpen(d.Market, now) {
		logs.Infof("market %s closed, deferring %s %s (next open %s)",
			d.Market, d.Side, d.Symbol, clock.NextOpen(d.Market, now).Format(time.RFC3339))
		e.metrics.IncDeferred()
		return Result{Outcome: OutcomeDeferred}, nil
	}

	if open, found := e.ledger.OpenOrderFor(d.Symbol, d.Side); found {
		logs.Infof("open order %s already covers %s %s, rejecting new decision",
			open.ID, d.Side, d.Symbol)
		e.metrics.IncRejected()
		return Result{Outcome: OutcomeRejected, Reason: ReasonPositionConflict}, nil
	}

	qty, reason := e.size(d)
	if reason != ReasonNone {
		e.metrics.IncRejected()
		return Result{Outcome: OutcomeRejected, Reason: reason}, nil
	}

	orderType, limitPrice := e.convert(d, now)

	result, err := e.submit(ctx, d, d.Symbol, qty, orderType, limitPrice)
	if err != nil {
		return result, err
	}

	if result.Reason == ReasonBrokerRejected && e.shouldFallbackToRMBCounter(d.Symbol, d.Market) {
		rmbSymbol := "8" + d.Symbol[1:]
		logs.Infof("retrying rejected HK order on RMB counter: %s -> %s", d.Symbol, rmbSymbol)
		return e.submit(ctx, d, rmbSymbol, qty, orderType, limitPrice)
	}
	return result, nil
}

// size clamps the decision quantity to what the account can carry.
func (e *Engine) size(d schema.Decision) (int64, Reason) {
	if d.Side == schema.OrderSideSell {
		pos, held := e.ledger.PositionOf(d.Symbol)
		if !held || pos.Quantity <= 0 {
			return 0, ReasonInsufficientPosition
		}
		if d.Quantity > pos.Quantity {
			return pos.Quantity, ReasonNone
		}
		return d.Quantity, ReasonNone
	}

	available := e.ledger.AvailableCash(d.Market.Currency())
	budget := available.Mul(e.cfg.RiskFraction)
	maxQty := budget.Div(d.TargetPrice).Floor().IntPart()
	if maxQty <= 0 {
		return 0, ReasonInsufficientFunds
	}
	if d.Quantity > maxQty {
		return maxQty, ReasonNone
	}
	return d.Quantity, ReasonNone
}

// convert applies market-to-limit conversion where the venue has no
// reliable market-order path, offsetting the target price in the
// favorable-to-fill direction and snapping to the venue tick.
func (e *Engine) convert(d schema.Decision, now time.Time) (schema.OrderType, decimal.Decimal) {
	if d.OrderType == schema.OrderTypeMarket && !requiresLimit(d.Market) {
		return schema.OrderTypeMarket, decimal.Zero
	}

	price := d.TargetPrice
	if d.OrderType == schema.OrderTypeMarket {
		buffer := e.cfg.Buffer
		if !e.cfg.NearCloseBuffer.IsZero() && clock.NearClose(d.Market, now, e.cfg.NearCloseWindow) {
			buffer = e.cfg.NearCloseBuffer
		}
		if d.Side == schema.OrderSideBuy {
			price = price.Mul(decimal.NewFromInt(1).Add(buffer))
		} else {
			price = price.Mul(decimal.NewFromInt(1).Sub(buffer))
		}
	}
	return schema.OrderTypeLimit, RoundToTick(price, d.Market)
}

func requiresLimit(market schema.Market) bool {
	switch market {
	case schema.MarketHK, schema.MarketCN:
		return true
	default:
		return false
	}
}

// submit pushes the order through the rate limiter and gateway with
// bounded retry on transient failures.
func (e *Engine) submit(ctx context.Context, d schema.Decision, symbol string, qty int64, orderType schema.OrderType, limitPrice decimal.Decimal) (Result, error) {
	req := broker.SubmitRequest{
		Ref:        uuid.NewString(),
		Symbol:     symbol,
		Market:     d.Market,
		Side:       d.Side,
		Quantity:   qty,
		Type:       orderType,
		LimitPrice: limitPrice,
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := e.limiter.Acquire(ctx, ratelimit.ClassOrder); err != nil {
			if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
				lastErr = err
				e.metrics.ObserveError(broker.NewError(broker.ClassRateLimited, "submit_order", err))
				if serr := e.sleep(ctx, e.backoff.Next(attempt)); serr != nil {
					return Result{Outcome: OutcomeRejected, Reason: ReasonRetriesExhausted}, serr
				}
				continue
			}
			return Result{Outcome: OutcomeRejected, Reason: ReasonRetriesExhausted}, err
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
		order, err := e.gateway.SubmitOrder(callCtx, req)
		cancel()
		if err == nil {
			order.Status = schema.OrderStatusSubmitted
			if order.SubmittedAt.IsZero() {
				order.SubmittedAt = e.now()
			}
			if regErr := e.ledger.RegisterOrder(order, d.Reason); regErr != nil {
				logs.Warnf("order %s submitted but not registered: %v", order.ID, regErr)
			}
			logs.Infof("submitted %s %d %s @ %s (order %s)",
				order.Side, order.Quantity, order.Symbol, order.LimitPrice, order.ID)
			e.metrics.IncSubmitted()
			return Result{Outcome: OutcomeSubmitted, Order: order, Quantity: qty}, nil
		}

		e.metrics.ObserveError(err)
		switch broker.ClassOf(err) {
		case broker.ClassRejected:
			logs.Warnf("broker rejected %s %s: %v", d.Side, symbol, err)
			e.metrics.IncRejected()
			return Result{Outcome: OutcomeRejected, Reason: ReasonBrokerRejected, Quantity: qty}, nil
		case broker.ClassAuthFailure:
			logs.Errorf("auth failure submitting %s %s, halting trading: %v", d.Side, symbol, err)
			if e.halt != nil {
				e.halt.Trip()
			}
			e.metrics.IncRejected()
			return Result{Outcome: OutcomeRejected, Reason: ReasonAuthHalted}, err
		default:
			lastErr = err
			logs.Warnf("transient submit failure for %s (attempt %d/%d): %v",
				symbol, attempt, e.cfg.MaxRetries, err)
			if serr := e.sleep(ctx, e.backoff.Next(attempt)); serr != nil {
				return Result{Outcome: OutcomeRejected, Reason: ReasonRetriesExhausted}, serr
			}
		}
	}

	e.metrics.IncRejected()
	return Result{Outcome: OutcomeRejected, Reason: ReasonRetriesExhausted},
		fmt.Errorf("submit retries exhausted: %w", lastErr)
}

func (e *Engine) shouldFallbackToRMBCounter(symbol string, market schema.Market) bool {
	if !e.cfg.HKRMBCounterFallback || market != schema.MarketHK {
		return false
	}
	if len(symbol) != 5 || symbol[0] != '0' {
		return false
	}
	for _, r := range symbol {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
