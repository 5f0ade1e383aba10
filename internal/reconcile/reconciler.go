// Package reconcile pulls the broker's authoritative account, position,
// and order state and overwrites the ledger with it. It is the single
// writer of authoritative truth: the engine and reviewer only propose,
// this loop confirms or overrides.
package reconcile

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/BenLeung-moon/tiger-trader/internal/broker"
	"github.com/BenLeung-moon/tiger-trader/internal/ledger"
	"github.com/BenLeung-moon/tiger-trader/internal/obs"
	"github.com/BenLeung-moon/tiger-trader/internal/ratelimit"
	"github.com/BenLeung-moon/tiger-trader/internal/schema"
)

// Config holds the reconciler's tunables.
type Config struct {
	// CallTimeout bounds each gateway call.
	CallTimeout time.Duration
	// EquityEvery persists an account-value sample once per this many
	// passes; zero disables sampling.
	EquityEvery int
}

// Reconciler refreshes the ledger from broker ground truth on its own
// cadence, typically more often than the order reviewer runs.
type Reconciler struct {
	cfg     Config
	ledger  *ledger.Ledger
	gateway broker.Gateway
	limiter *ratelimit.Limiter
	halt    *broker.Halt
	metrics *obs.Metrics
	store   *ledger.Store
	passes  int
}

// New creates a reconciler. store may be nil; halt is the shared auth
// latch, cleared here once an authenticated pull succeeds again.
func New(cfg Config, led *ledger.Ledger, gw broker.Gateway, limiter *ratelimit.Limiter, halt *broker.Halt, metrics *obs.Metrics, store *ledger.Store) *Reconciler {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	return &Reconciler{
		cfg:     cfg,
		ledger:  led,
		gateway: gw,
		limiter: limiter,
		halt:    halt,
		metrics: metrics,
		store:   store,
	}
}

// Reconcile runs one authoritative pass. Orders the ledger knows but the
// broker no longer lists as open are re-queried individually so their
// terminal status and fills reach the trade history.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	accounts, err := r.fetchAccounts(ctx)
	if err != nil {
		r.metrics.ObserveError(err)
		return errors.Wrap(err, "fetch account snapshot")
	}

	positions, err := r.fetchPositions(ctx)
	if err != nil {
		r.metrics.ObserveError(err)
		return errors.Wrap(err, "fetch positions")
	}

	open, err := r.fetchOpenOrders(ctx)
	if err != nil {
		r.metrics.ObserveError(err)
		return errors.Wrap(err, "fetch open orders")
	}

	orders := make([]schema.Order, 0, len(open)+4)
	openIDs := make(map[string]struct{}, len(open))
	for _, order := range open {
		openIDs[order.ID] = struct{}{}
		orders = append(orders, order)
	}

	for _, known := range r.ledger.OpenOrders() {
		if _, stillOpen := openIDs[known.ID]; stillOpen {
			continue
		}
		resolved, rerr := r.fetchOrder(ctx, known.ID)
		if rerr != nil {
			// Leave the stale entry for the next pass rather than guess.
			r.metrics.ObserveError(rerr)
			logs.Warnf("resolve disappeared order %s failed: %v", known.ID, rerr)
			continue
		}
		orders = append(orders, resolved)
	}

	r.ledger.ApplyReconciliation(ledger.Reconciled{
		Accounts:  accounts,
		Positions: positions,
		Orders:    orders,
	})
	r.metrics.IncReconcile()

	if r.halt != nil && r.halt.Active() {
		// The authenticated pull went through, so credentials work again.
		logs.Info("authenticated reconciliation succeeded, resuming trading")
		r.halt.Resume()
	}

	r.passes++
	if r.store != nil && r.cfg.EquityEvery > 0 && r.passes%r.cfg.EquityEvery == 0 {
		if serr := r.store.SaveEquity(accounts); serr != nil {
			logs.Warnf("persist equity snapshot: %v", serr)
		}
	}
	return nil
}

func (r *Reconciler) fetchAccounts(ctx context.Context) (map[string]schema.AccountSnapshot, error) {
	if err := r.limiter.Acquire(ctx, ratelimit.ClassAccount); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	return r.gateway.GetAccountSnapshot(callCtx)
}

func (r *Reconciler) fetchPositions(ctx context.Context) ([]schema.Position, error) {
	if err := r.limiter.Acquire(ctx, ratelimit.ClassAccount); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	return r.gateway.GetPositions(callCtx)
}

func (r *Reconciler) fetchOpenOrders(ctx context.Context) ([]schema.Order, error) {
	if err := r.limiter.Acquire(ctx, ratelimit.ClassAccount); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	return r.gateway.GetOpenOrders(callCtx)
}

func (r *Reconciler) fetchOrder(ctx context.Context, orderID string) (schema.Order, error) {
	if err := r.limiter.Acquire(ctx, ratelimit.ClassAccount); err != nil {
		return schema.Order{}, err
	}
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	return r.gateway.GetOrder(callCtx, orderID)
}
