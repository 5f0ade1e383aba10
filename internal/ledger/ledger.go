// Package ledger keeps the local view of cash, positions, and open orders.
//
// State lives in two layers. The base is authoritative and is replaced
// wholesale by the reconciliation loop from broker ground truth. The
// overlay holds provisional local writes: orders the engine just submitted
// and review stamps, superseded the moment reconciliation confirms or
// contradicts them. Reads merge overlay over base.
package ledger

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"github.com/BenLeung-moon/tiger-trader/internal/schema"
)

var (
	ErrDuplicateOrder = errors.New("order already registered")
	ErrUnknownOrder   = errors.New("order not found")
)

// Ledger is safe for concurrent use by the engine, reviewer, and
// reconciliation loops. No lock is ever held across a network call.
type Ledger struct {
	mu sync.RWMutex

	baseAccounts  map[string]schema.AccountSnapshot
	basePositions map[string]schema.Position
	baseOrders    map[string]schema.Order

	overlayOrders map[string]schema.Order

	history []schema.TradeRecord
	store   *Store
}

// New creates an empty ledger. store may be nil for tests and paper runs
// without a database.
func New(store *Store) *Ledger {
	return &Ledger{
		baseAccounts:  make(map[string]schema.AccountSnapshot),
		basePositions: make(map[string]schema.Position),
		baseOrders:    make(map[string]schema.Order),
		overlayOrders: make(map[string]schema.Order),
		store:         store,
	}
}

// AvailableCash returns the funds usable for a new position in the given
// currency. Provisional BUY orders not yet confirmed by reconciliation
// reserve their notional so two decisions cannot spend the same cash.
func (l *Ledger) AvailableCash(currency string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()

	available := l.baseAccounts[currency].AvailableForTrade
	for _, order := range l.overlayOrders {
		if order.Side != schema.OrderSideBuy || order.Market.Currency() != currency {
			continue
		}
		notional := order.LimitPrice.Mul(decimal.NewFromInt(order.Quantity))
		available = available.Sub(notional)
	}
	if available.IsNegative() {
		return decimal.Zero
	}
	return available
}

// Account returns the last reconciled snapshot for a currency.
func (l *Ledger) Account(currency string) (schema.AccountSnapshot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap, ok := l.baseAccounts[currency]
	return snap, ok
}

// PositionOf returns the held position for a symbol, if any.
func (l *Ledger) PositionOf(symbol string) (schema.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.basePositions[symbol]
	return pos, ok
}

// Positions returns all held positions sorted by symbol.
func (l *Ledger) Positions() []schema.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]schema.Position, 0, len(l.basePositions))
	for _, pos := range l.basePositions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// OpenOrders returns every non-terminal order, overlay over base.
func (l *Ledger) OpenOrders() []schema.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()

	merged := make(map[string]schema.Order, len(l.baseOrders)+len(l.overlayOrders))
	for id, order := range l.baseOrders {
		merged[id] = order
	}
	for id, order := range l.overlayOrders {
		merged[id] = order
	}

	out := make([]schema.Order, 0, len(merged))
	for _, order := range merged {
		if !order.Status.IsTerminal() {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OpenOrderFor returns the open order for (symbol, side), if one exists.
// The engine uses this to reject conflicting decisions.
func (l *Ledger) OpenOrderFor(symbol string, side schema.OrderSide) (schema.Order, bool) {
	for _, order := range l.OpenOrders() {
		if order.Symbol == symbol && order.Side == side {
			return order, true
		}
	}
	return schema.Order{}, false
}

// RegisterOrder records a freshly submitted order in the overlay and
// appends the pending trade-history row. The order must carry the broker
// ID returned at submission.
func (l *Ledger) RegisterOrder(order schema.Order, reason string) error {
	l.mu.Lock()
	if _, ok := l.overlayOrders[order.ID]; ok {
		l.mu.Unlock()
		return ErrDuplicateOrder
	}
	if _, ok := l.baseOrders[order.ID]; ok {
		l.mu.Unlock()
		return ErrDuplicateOrder
	}
	l.overlayOrders[order.ID] = order

	record := schema.TradeRecord{
		Timestamp: order.SubmittedAt,
		Symbol:    order.Symbol,
		Market:    order.Market,
		Action:    order.Side,
		Quantity:  order.Quantity,
		Price:     order.LimitPrice,
		OrderID:   order.ID,
		Status:    order.Status,
		Reason:    reason,
	}
	l.history = append(l.history, record)
	l.mu.Unlock()

	l.persistTrade(record)
	return nil
}

// MarkReviewed stamps the order's last review time in the overlay.
func (l *Ledger) MarkReviewed(orderID string, at time.Time) error {
	return l.updateOrder(orderID, func(order *schema.Order) {
		order.LastReviewedAt = at
	})
}

// UpdateLimitPrice records a re-price the broker accepted. Provisional:
// the next reconciliation confirms it from the broker's order record.
func (l *Ledger) UpdateLimitPrice(orderID string, price decimal.Decimal) error {
	return l.updateOrder(orderID, func(order *schema.Order) {
		order.LimitPrice = price
	})
}

func (l *Ledger) updateOrder(orderID string, mutate func(*schema.Order)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	order, ok := l.overlayOrders[orderID]
	if !ok {
		order, ok = l.baseOrders[orderID]
		if !ok {
			return ErrUnknownOrder
		}
	}
	mutate(&order)
	l.overlayOrders[orderID] = order
	return nil
}

// History returns a copy of the trade records, oldest first.
func (l *Ledger) History() []schema.TradeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]schema.TradeRecord, len(l.history))
	copy(out, l.history)
	return out
}

// Reconciled is the broker's authoritative state assembled by one
// reconciliation pass. Orders may include terminal ones the reconciler
// resolved; those are archived into trade history.
type Reconciled struct {
	Accounts  map[string]schema.AccountSnapshot
	Positions []schema.Position
	Orders    []schema.Order
}

// ApplyReconciliation replaces the authoritative base with the broker's
// state. Positions absent from the broker are dropped, terminal orders are
// archived, and overlay entries the broker confirmed or contradicted are
// cleared. Broker wins on every conflict.
func (l *Ledger) ApplyReconciliation(rec Reconciled) {
	var archived []schema.TradeRecord

	l.mu.Lock()

	l.baseAccounts = make(map[string]schema.AccountSnapshot, len(rec.Accounts))
	for cur, snap := range rec.Accounts {
		l.baseAccounts[cur] = snap
	}

	l.basePositions = make(map[string]schema.Position, len(rec.Positions))
	for _, pos := range rec.Positions {
		if pos.Quantity == 0 {
			continue
		}
		l.basePositions[pos.Symbol] = pos
	}

	l.baseOrders = make(map[string]schema.Order, len(rec.Orders))
	for _, order := range rec.Orders {
		if prev, ok := l.overlayOrders[order.ID]; ok {
			// Preserve the local review stamp; everything else is the
			// broker's to decide.
			if order.LastReviewedAt.IsZero() {
				order.LastReviewedAt = prev.LastReviewedAt
			}
			delete(l.overlayOrders, order.ID)
		}
		if order.Status.IsTerminal() {
			record := schema.TradeRecord{
				Timestamp: time.Now().UTC(),
				Symbol:    order.Symbol,
				Market:    order.Market,
				Action:    order.Side,
				Quantity:  order.FilledQuantity,
				Price:     order.AvgFillPrice,
				OrderID:   order.ID,
				Status:    order.Status,
			}
			l.history = append(l.history, record)
			archived = append(archived, record)
			continue
		}
		l.baseOrders[order.ID] = order
	}
	l.mu.Unlock()

	for _, record := range archived {
		l.persistTrade(record)
	}
}

func (l *Ledger) persistTrade(record schema.TradeRecord) {
	if l.store == nil {
		return
	}
	if err := l.store.AppendTrade(record); err != nil {
		logs.Warnf("persist trade for %s failed: %v", record.Symbol, err)
	}
}
