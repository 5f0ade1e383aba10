package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BenLeung-moon/tiger-trader/internal/schema"
)

// Snapshot is the serializable view of the ledger served to the dashboard
// collaborator and written to disk across restarts. The schema is stable;
// the first reconciliation pass after a restart overrides whatever was
// loaded from it.
type Snapshot struct {
	Timestamp time.Time           `json:"timestamp"`
	Accounts  []AccountEntry      `json:"accounts"`
	Positions []PositionEntry     `json:"positions"`
	Orders    []OrderEntry        `json:"open_orders"`
	History   []TradeHistoryEntry `json:"trade_history"`
}

type AccountEntry struct {
	Currency           string          `json:"currency"`
	CashBalance        decimal.Decimal `json:"cash_balance"`
	AvailableForTrade  decimal.Decimal `json:"available_for_trade"`
	NetLiquidation     decimal.Decimal `json:"net_liquidation"`
	GrossPositionValue decimal.Decimal `json:"gross_position_value"`
}

type PositionEntry struct {
	Symbol        string          `json:"symbol"`
	Market        schema.Market   `json:"market"`
	Quantity      int64           `json:"quantity"`
	AverageCost   decimal.Decimal `json:"average_cost"`
	MarketPrice   decimal.Decimal `json:"market_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

type OrderEntry struct {
	ID             string             `json:"id"`
	Symbol         string             `json:"symbol"`
	Market         schema.Market      `json:"market"`
	Side           schema.OrderSide   `json:"side"`
	Quantity       int64              `json:"quantity"`
	FilledQuantity int64              `json:"filled_quantity"`
	LimitPrice     decimal.Decimal    `json:"limit_price"`
	Type           schema.OrderType   `json:"order_type"`
	Status         schema.OrderStatus `json:"status"`
	SubmittedAt    time.Time          `json:"submitted_at"`
}

type TradeHistoryEntry struct {
	Timestamp time.Time          `json:"timestamp"`
	Symbol    string             `json:"symbol"`
	Action    schema.OrderSide   `json:"action"`
	Price     decimal.Decimal    `json:"price"`
	Quantity  int64              `json:"quantity"`
	Status    schema.OrderStatus `json:"status"`
	OrderID   string             `json:"order_id,omitempty"`
	Reason    string             `json:"reason,omitempty"`
}

// Snapshot captures the merged ledger state.
func (l *Ledger) Snapshot() Snapshot {
	snap := Snapshot{Timestamp: time.Now().UTC()}

	l.mu.RLock()
	for _, acct := range l.baseAccounts {
		snap.Accounts = append(snap.Accounts, AccountEntry{
			Currency:           acct.Currency,
			CashBalance:        acct.CashBalance,
			AvailableForTrade:  acct.AvailableForTrade,
			NetLiquidation:     acct.NetLiquidation,
			GrossPositionValue: acct.GrossPositionValue,
		})
	}
	l.mu.RUnlock()
	sort.Slice(snap.Accounts, func(i, j int) bool {
		return snap.Accounts[i].Currency < snap.Accounts[j].Currency
	})

	for _, pos := range l.Positions() {
		snap.Positions = append(snap.Positions, PositionEntry{
			Symbol:        pos.Symbol,
			Market:        pos.Market,
			Quantity:      pos.Quantity,
			AverageCost:   pos.AverageCost,
			MarketPrice:   pos.MarketPrice,
			UnrealizedPnL: pos.UnrealizedPnL,
		})
	}

	for _, order := range l.OpenOrders() {
		snap.Orders = append(snap.Orders, OrderEntry{
			ID:             order.ID,
			Symbol:         order.Symbol,
			Market:         order.Market,
			Side:           order.Side,
			Quantity:       order.Quantity,
			FilledQuantity: order.FilledQuantity,
			LimitPrice:     order.LimitPrice,
			Type:           order.Type,
			Status:         order.Status,
			SubmittedAt:    order.SubmittedAt,
		})
	}

	for _, record := range l.History() {
		snap.History = append(snap.History, TradeHistoryEntry{
			Timestamp: record.Timestamp,
			Symbol:    record.Symbol,
			Action:    record.Action,
			Price:     record.Price,
			Quantity:  record.Quantity,
			Status:    record.Status,
			OrderID:   record.OrderID,
			Reason:    record.Reason,
		})
	}

	return snap
}

// Restore seeds the ledger base from a persisted snapshot. Overlay stays
// empty: provisional state does not survive a restart.
func (l *Ledger) Restore(snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.baseAccounts = make(map[string]schema.AccountSnapshot, len(snap.Accounts))
	for _, acct := range snap.Accounts {
		l.baseAccounts[acct.Currency] = schema.AccountSnapshot{
			Currency:           acct.Currency,
			CashBalance:        acct.CashBalance,
			AvailableForTrade:  acct.AvailableForTrade,
			NetLiquidation:     acct.NetLiquidation,
			GrossPositionValue: acct.GrossPositionValue,
		}
	}

	l.basePositions = make(map[string]schema.Position, len(snap.Positions))
	for _, pos := range snap.Positions {
		l.basePositions[pos.Symbol] = schema.Position{
			Symbol:        pos.Symbol,
			Market:        pos.Market,
			Quantity:      pos.Quantity,
			AverageCost:   pos.AverageCost,
			MarketPrice:   pos.MarketPrice,
			UnrealizedPnL: pos.UnrealizedPnL,
		}
	}

	l.baseOrders = make(map[string]schema.Order, len(snap.Orders))
	for _, entry := range snap.Orders {
		l.baseOrders[entry.ID] = schema.Order{
			ID:             entry.ID,
			Symbol:         entry.Symbol,
			Market:         entry.Market,
			Side:           entry.Side,
			Quantity:       entry.Quantity,
			FilledQuantity: entry.FilledQuantity,
			LimitPrice:     entry.LimitPrice,
			Type:           entry.Type,
			Status:         entry.Status,
			SubmittedAt:    entry.SubmittedAt,
		}
	}

	l.history = l.history[:0]
	for _, entry := range snap.History {
		l.history = append(l.history, schema.TradeRecord{
			Timestamp: entry.Timestamp,
			Symbol:    entry.Symbol,
			Action:    entry.Action,
			Price:     entry.Price,
			Quantity:  entry.Quantity,
			Status:    entry.Status,
			OrderID:   entry.OrderID,
			Reason:    entry.Reason,
		})
	}
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
