// Package broker defines the gateway to the external brokerage. It is the
// only layer that talks to the remote API; everything it returns is
// normalized into the schema types and every failure is classified.
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/BenLeung-moon/tiger-trader/internal/schema"
)

// SubmitRequest carries everything the brokerage needs to open an order.
// Ref is the client-side reference generated before the broker assigns an ID.
type SubmitRequest struct {
	Ref        string
	Symbol     string
	Market     schema.Market
	Side       schema.OrderSide
	Quantity   int64
	Type       schema.OrderType
	LimitPrice decimal.Decimal
}

// Gateway wraps the brokerage API. Implementations must bound every call
// with the context deadline and return classified errors (see Error).
type Gateway interface {
	SubmitOrder(ctx context.Context, req SubmitRequest) (schema.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	ModifyOrder(ctx context.Context, orderID string, newPrice decimal.Decimal) error
	GetOrder(ctx context.Context, orderID string) (schema.Order, error)
	GetOpenOrders(ctx context.Context) ([]schema.Order, error)
	GetAccountSnapshot(ctx context.Context) (map[string]schema.AccountSnapshot, error)
	GetPositions(ctx context.Context) ([]schema.Position, error)
	GetQuote(ctx context.Context, symbol string, market schema.Market) (schema.Quote, error)
}
