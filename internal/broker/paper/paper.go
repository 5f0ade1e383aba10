// Package paper implements the broker gateway against an in-memory
// simulated brokerage. It backs the trader's paper mode and every test
// that needs deterministic broker behavior: fills, rejects, and races are
// scripted by the caller instead of happening on a live venue.
package paper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BenLeung-moon/tiger-trader/internal/broker"
	"github.com/BenLeung-moon/tiger-trader/internal/schema"
)

var ErrUnknownOrder = errors.New("order not found")

// Broker is a deterministic in-memory brokerage.
type Broker struct {
	mu        sync.Mutex
	nextID    int64
	orders    map[string]schema.Order
	quotes    map[string]schema.Quote
	accounts  map[string]schema.AccountSnapshot
	positions map[string]schema.Position

	submitErr error
	cancelErr error
	modifyErr error
}

// New creates an empty paper brokerage.
func New() *Broker {
	return &Broker{
		orders:    make(map[string]schema.Order),
		quotes:    make(map[string]schema.Quote),
		accounts:  make(map[string]schema.AccountSnapshot),
		positions: make(map[string]schema.Position),
	}
}

var _ broker.Gateway = (*Broker)(nil)

func (b *Broker) SubmitOrder(_ context.Context, req broker.SubmitRequest) (schema.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.submitErr != nil {
		err := b.submitErr
		b.submitErr = nil
		return schema.Order{}, err
	}

	b.nextID++
	order := schema.Order{
		ID:          fmt.Sprintf("paper-%d", b.nextID),
		Ref:         req.Ref,
		Symbol:      req.Symbol,
		Market:      req.Market,
		Side:        req.Side,
		Quantity:    req.Quantity,
		LimitPrice:  req.LimitPrice,
		Type:        req.Type,
		Status:      schema.OrderStatusSubmitted,
		SubmittedAt: time.Now().UTC(),
	}
	b.orders[order.ID] = order
	return order, nil
}

func (b *Broker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancelErr != nil {
		err := b.cancelErr
		b.cancelErr = nil
		return err
	}

	order, ok := b.orders[orderID]
	if !ok {
		return broker.NewError(broker.ClassRejected, "cancel_order", ErrUnknownOrder)
	}
	if order.Status.IsTerminal() {
		return broker.NewError(broker.ClassConflict, "cancel_order",
			fmt.Errorf("order %s already %s", orderID, order.Status))
	}
	order.Status = schema.OrderStatusCancelled
	b.orders[orderID] = order
	return nil
}

func (b *Broker) ModifyOrder(_ context.Context, orderID string, newPrice decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.modifyErr != nil {
		err := b.modifyErr
		b.modifyErr = nil
		return err
	}

	order, ok := b.orders[orderID]
	if !ok {
		return broker.NewError(broker.ClassRejected, "modify_order", ErrUnknownOrder)
	}
	if order.Status.IsTerminal() {
		return broker.NewError(broker.ClassConflict, "modify_order",
			fmt.Errorf("order %s already %s", orderID, order.Status))
	}
	order.LimitPrice = newPrice
	b.orders[orderID] = order
	return nil
}

func (b *Broker) GetOrder(_ context.Context, orderID string) (schema.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return schema.Order{}, broker.NewError(broker.ClassRejected, "get_order", ErrUnknownOrder)
	}
	return order, nil
}

func (b *Broker) GetOpenOrders(_ context.Context) ([]schema.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]schema.Order, 0, len(b.orders))
	for _, order := range b.orders {
		if !order.Status.IsTerminal() {
			out = append(out, order)
		}
	}
	return out, nil
}

func (b *Broker) GetAccountSnapshot(_ context.Context) (map[string]schema.AccountSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]schema.AccountSnapshot, len(b.accounts))
	for cur, snap := range b.accounts {
		out[cur] = snap
	}
	return out, nil
}

func (b *Broker) GetPositions(_ context.Context) ([]schema.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]schema.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, pos)
	}
	return out, nil
}

func (b *Broker) GetQuote(_ context.Context, symbol string, market schema.Market) (schema.Quote, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	quote, ok := b.quotes[symbol]
	if !ok {
		return schema.Quote{}, broker.NewError(broker.ClassTransient, "get_quote",
			fmt.Errorf("no quote for %s", symbol))
	}
	quote.Market = market
	return quote, nil
}

// --- scripting hooks ---

// SetQuote sets the last price returned for a symbol.
func (b *Broker) SetQuote(symbol string, last decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[symbol] = schema.Quote{Symbol: symbol, Last: last, Time: time.Now().UTC()}
}

// SetAccount sets the funds snapshot for a currency.
func (b *Broker) SetAccount(snap schema.AccountSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[snap.Currency] = snap
}

// SetPosition sets a held position; zero quantity removes it.
func (b *Broker) SetPosition(pos schema.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pos.Quantity == 0 {
		delete(b.positions, pos.Symbol)
		return
	}
	b.positions[pos.Symbol] = pos
}

// FailNextSubmit makes the next SubmitOrder return err once.
func (b *Broker) FailNextSubmit(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitErr = err
}

// FailNextCancel makes the next CancelOrder return err once.
func (b *Broker) FailNextCancel(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelErr = err
}

// FailNextModify makes the next ModifyOrder return err once.
func (b *Broker) FailNextModify(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modifyErr = err
}

// Fill applies a broker-side fill: the order's status and fill fields move,
// and positions update so the next reconciliation observes ground truth.
func (b *Broker) Fill(orderID string, qty int64, price decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return ErrUnknownOrder
	}
	if qty <= 0 {
		return fmt.Errorf("fill quantity must be positive, got %d", qty)
	}

	next := schema.OrderStatusPartFilled
	if order.FilledQuantity+qty >= order.Quantity {
		next = schema.OrderStatusFilled
	}
	if !order.Status.CanTransition(next) {
		return fmt.Errorf("cannot fill order %s in status %s", orderID, order.Status)
	}

	order.FilledQuantity += qty
	order.AvgFillPrice = price
	if next == schema.OrderStatusFilled {
		order.FilledQuantity = order.Quantity
	}
	order.Status = next
	b.orders[orderID] = order

	pos := b.positions[order.Symbol]
	pos.Symbol = order.Symbol
	pos.Market = order.Market
	if order.Side == schema.OrderSideBuy {
		pos.Quantity += qty
		pos.AverageCost = price
	} else {
		pos.Quantity -= qty
	}
	if pos.Quantity == 0 {
		delete(b.positions, order.Symbol)
	} else {
		b.positions[order.Symbol] = pos
	}
	return nil
}

// Reject moves a non-terminal order to rejected, as a live venue would for
// an unaffordable or invalid resting order.
func (b *Broker) Reject(orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return ErrUnknownOrder
	}
	order.Status = schema.OrderStatusRejected
	b.orders[orderID] = order
	return nil
}
