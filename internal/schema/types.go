package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market identifies the exchange region a symbol trades on.
type Market string

const (
	MarketUS Market = "US"
	MarketHK Market = "HK"
	MarketCN Market = "CN"
)

func (m Market) IsAvailable() bool {
	switch m {
	case MarketUS, MarketHK, MarketCN:
		return true
	default:
		return false
	}
}

// Currency returns the settlement currency for the market.
func (m Market) Currency() string {
	switch m {
	case MarketHK:
		return "HKD"
	case MarketCN:
		return "CNH"
	default:
		return "USD"
	}
}

// OrderSide buy, sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

func (s OrderSide) IsAvailable() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderType limit, market
type OrderType string

const (
	OrderTypeLimit  OrderType = "LMT"
	OrderTypeMarket OrderType = "MKT"
)

// OrderStatus tracks the lifecycle of an order at the broker.
type OrderStatus string

const (
	OrderStatusSubmitted  OrderStatus = "SUBMITTED"
	OrderStatusPartFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled     OrderStatus = "FILLED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRejected   OrderStatus = "REJECTED"
)

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal
// lifecycle step. Terminal states accept nothing.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case OrderStatusSubmitted:
		switch next {
		case OrderStatusPartFilled, OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
			return true
		}
	case OrderStatusPartFilled:
		switch next {
		case OrderStatusPartFilled, OrderStatusFilled, OrderStatusCancelled:
			return true
		}
	}
	return false
}

// Decision is an instruction produced outside this core: buy or sell a
// symbol near a target price. Consumed once, never mutated.
type Decision struct {
	Symbol      string
	Market      Market
	Side        OrderSide
	Quantity    int64
	TargetPrice decimal.Decimal
	OrderType   OrderType
	Reason      string
}

// Order is the engine's view of an order submitted to the broker.
// ID is broker-assigned and empty before submission succeeds; Ref is the
// client-side reference generated at decision time.
type Order struct {
	ID             string
	Ref            string
	Symbol         string
	Market         Market
	Side           OrderSide
	Quantity       int64
	FilledQuantity int64
	LimitPrice     decimal.Decimal
	AvgFillPrice   decimal.Decimal
	Type           OrderType
	Status         OrderStatus
	SubmittedAt    time.Time
	LastReviewedAt time.Time
}

// Position is a per-symbol holding. Quantity is signed, positive = long.
type Position struct {
	Symbol        string
	Market        Market
	Quantity      int64
	AverageCost   decimal.Decimal
	MarketPrice   decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// AccountSnapshot is the broker's wholesale view of one currency's funds.
type AccountSnapshot struct {
	Currency           string
	CashBalance        decimal.Decimal
	AvailableForTrade  decimal.Decimal
	NetLiquidation     decimal.Decimal
	GrossPositionValue decimal.Decimal
}

// Quote is a normalized real-time price for one symbol.
type Quote struct {
	Symbol string
	Market Market
	Last   decimal.Decimal
	Time   time.Time
}

// TradeRecord is one row of the audit trail: every submission is recorded
// when it leaves the engine and finalized when reconciliation observes a
// terminal status.
type TradeRecord struct {
	Timestamp time.Time
	Symbol    string
	Market    Market
	Action    OrderSide
	Quantity  int64
	Price     decimal.Decimal
	OrderID   string
	Status    OrderStatus
	Reason    string
}
