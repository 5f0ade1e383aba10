package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BenLeung-moon/tiger-trader/internal/broker"
	"github.com/BenLeung-moon/tiger-trader/internal/broker/paper"
	"github.com/BenLeung-moon/tiger-trader/internal/ledger"
	"github.com/BenLeung-moon/tiger-trader/internal/obs"
	"github.com/BenLeung-moon/tiger-trader/internal/ratelimit"
	"github.com/BenLeung-moon/tiger-trader/internal/schema"
)

// 2025-06-04 19:00 UTC: Wednesday 15:00 in New York, US session open.
var usOpen = time.Date(2025, 6, 4, 19, 0, 0, 0, time.UTC)

// 2025-06-04 02:30 UTC: Wednesday 10:30 in Hong Kong, morning session.
var hkOpen = time.Date(2025, 6, 4, 2, 30, 0, 0, time.UTC)

// 2025-06-07 is a Saturday everywhere.
var weekend = time.Date(2025, 6, 7, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestEngine(t *testing.T, cfg Config, at time.Time) (*Engine, *ledger.Ledger, *paper.Broker) {
	t.Helper()
	led := ledger.New(nil)
	pb := paper.New()
	limiter := ratelimit.New(time.Second, map[ratelimit.Class]ratelimit.Policy{})
	e := New(cfg, led, pb, limiter, &broker.Halt{}, obs.NewMetrics())
	e.now = func() time.Time { return at }
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e, led, pb
}

func fundUSD(led *ledger.Ledger, amount string) {
	led.ApplyReconciliation(ledger.Reconciled{
		Accounts: map[string]schema.AccountSnapshot{
			"USD": {Currency: "USD", CashBalance: dec(amount), AvailableForTrade: dec(amount)},
		},
	})
}

func TestExecuteClampsBuyToRiskFraction(t *testing.T) {
	e, led, _ := newTestEngine(t, DefaultConfig(), usOpen)
	fundUSD(led, "10000")

	res, err := e.Execute(context.Background(), schema.Decision{
		Symbol:      "AAPL",
		Market:      schema.MarketUS,
		Side:        schema.OrderSideBuy,
		Quantity:    1000,
		TargetPrice: dec("50"),
		OrderType:   schema.OrderTypeLimit,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeSubmitted, res.Outcome)

	// floor(10000 * 0.2 / 50) = 40 shares.
	assert.EqualValues(t, 40, res.Quantity)
	notional := res.Order.LimitPrice.Mul(decimal.NewFromInt(res.Order.Quantity))
	assert.True(t, notional.LessThanOrEqual(dec("2000")))
}

func TestExecuteRejectsSellWithoutPosition(t *testing.T) {
	e, led, _ := newTestEngine(t, DefaultConfig(), usOpen)
	fundUSD(led, "10000")

	res, err := e.Execute(context.Background(), schema.Decision{
		Symbol:      "AAPL",
		Market:      schema.MarketUS,
		Side:        schema.OrderSideSell,
		Quantity:    5,
		TargetPrice: dec("50"),
		OrderType:   schema.OrderTypeLimit,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, ReasonInsufficientPosition, res.Reason)
	_, held := led.PositionOf("AAPL")
	assert.False(t, held)
}

func TestExecuteClampsSellToHeldQuantity(t *testing.T) {
	e, led, _ := newTestEngine(t, DefaultConfig(), usOpen)
	led.ApplyReconciliation(ledger.Reconciled{
		Accounts: map[string]schema.AccountSnapshot{
			"USD": {Currency: "USD", AvailableForTrade: dec("1000")},
		},
		Positions: []schema.Position{
			{Symbol: "AAPL", Market: schema.MarketUS, Quantity: 7, AverageCost: dec("90")},
		},
	})

	res, err := e.Execute(context.Background(), schema.Decision{
		Symbol:      "AAPL",
		Market:      schema.MarketUS,
		Side:        schema.OrderSideSell,
		Quantity:    50,
		TargetPrice: dec("100"),
		OrderType:   schema.OrderTypeLimit,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeSubmitted, res.Outcome)
	assert.EqualValues(t, 7, res.Quantity)
}

func TestExecuteConvertsMarketToLimitWithBuffer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Buffer = dec("0.02")
	e, led, _ := newTestEngine(t, cfg, hkOpen)
	led.ApplyReconciliation(ledger.Reconciled{
		Accounts: map[string]schema.AccountSnapshot{
			"HKD": {Currency: "HKD", AvailableForTrade: dec("100000")},
		},
		Positions: []schema.Position{
			{Symbol: "00700", Market: schema.MarketHK, Quantity: 100},
		},
	})

	buy, err := e.Execute(context.Background(), schema.Decision{
		Symbol:      "00005",
		Market:      schema.MarketHK,
		Side:        schema.OrderSideBuy,
		Quantity:    10,
		TargetPrice: dec("100"),
		OrderType:   schema.OrderTypeMarket,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeSubmitted, buy.Outcome)
	assert.Equal(t, schema.OrderTypeLimit, buy.Order.Type)
	assert.True(t, buy.Order.LimitPrice.Equal(dec("102")), "got %s", buy.Order.LimitPrice)

	sell, err := e.Execute(context.Background(), schema.Decision{
		Symbol:      "00700",
		Market:      schema.MarketHK,
		Side:        schema.OrderSideSell,
		Quantity:    10,
		TargetPrice: dec("100"),
		OrderType:   schema.OrderTypeMarket,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeSubmitted, sell.Outcome)
	assert.True(t, sell.Order.LimitPrice.Equal(dec("98")), "got %s", sell.Order.LimitPrice)
}

func TestExecuteMarketOrderPassesThroughOnUS(t *testing.T) {
	e, led, _ := newTestEngine(t, DefaultConfig(), usOpen)
	fundUSD(led, "10000")

	res, err := e.Execute(context.Background(), schema.Decision{
		Symbol:      "AAPL",
		Market:      schema.MarketUS,
		Side:        schema.OrderSideBuy,
		Quantity:    5,
		TargetPrice: dec("50"),
		OrderType:   schema.OrderTypeMarket,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeSubmitted, res.Outcome)
	assert.Equal(t, schema.OrderTypeMarket, res.Order.Type)
	assert.True(t, res.Order.LimitPrice.IsZero())
}

func TestExecuteDefersWhenMarketClosed(t *testing.T) {
	e, led, pb := newTestEngine(t, DefaultConfig(), weekend)
	fundUSD(led, "10000")

	res, err := e.Execute(context.Background(), schema.Decision{
		Symbol:      "AAPL",
		Market:      schema.MarketUS,
		Side:        schema.OrderSideBuy,
		Quantity:    5,
		TargetPrice: dec("50"),
		OrderType:   schema.OrderTypeLimit,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, res.Outcome)

	// No broker call was made.
	open, err := pb.GetOpenOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestExecuteRejectsPositionConflict(t *testing.T) {
	e, led, _ := newTestEngine(t, DefaultConfig(), usOpen)
	fundUSD(led, "100000")

	first, err := e.Execute(context.Background(), schema.Decision{
		Symbol:      "AAPL",
		Market:      schema.MarketUS,
		Side:        schema.OrderSideBuy,
		Quantity:    5,
		TargetPrice: dec("50"),
		OrderType:   schema.OrderTypeLimit,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeSubmitted, first.Outcome)

	second, err := e.Execute(context.Background(), schema.Decision{
		Symbol:      "AAPL",
		Market:      schema.MarketUS,
		Side:        schema.OrderSideBuy,
		Quantity:    3,
		TargetPrice: dec("51"),
		OrderType:   schema.OrderTypeLimit,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, second.Outcome)
	assert.Equal(t, ReasonPositionConflict, second.Reason)

	var buys int
	for _, order := range led.OpenOrders() {
		if order.Symbol == "AAPL" && order.Side == schema.OrderSideBuy {
			buys++
		}
	}
	assert.Equal(t, 1, buys)
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	e, led, pb := newTestEngine(t, DefaultConfig(), usOpen)
	fundUSD(led, "10000")
	pb.FailNextSubmit(broker.NewError(broker.ClassTransient, "submit_order", errors.New("timeout")))

	res, err := e.Execute(context.Background(), schema.Decision{
		Symbol:      "AAPL",
		Market:      schema.MarketUS,
		Side:        schema.OrderSideBuy,
		Quantity:    5,
		TargetPrice: dec("50"),
		OrderType:   schema.OrderTypeLimit,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmitted, res.Outcome)
}

func TestExecuteDoesNotRetryBrokerRejection(t *testing.T) {
	e, led, pb := newTestEngine(t, DefaultConfig(), usOpen)
	fundUSD(led, "10000")
	pb.FailNextSubmit(broker.NewError(broker.ClassRejected, "submit_order", errors.New("insufficient margin")))

	res, err := e.Execute(context.Background(), schema.Decision{
		Symbol:      "AAPL",
		Market:      schema.MarketUS,
		Side:        schema.OrderSideBuy,
		Quantity:    5,
		TargetPrice: dec("50"),
		OrderType:   schema.OrderTypeLimit,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, ReasonBrokerRejected, res.Reason)
	assert.Empty(t, led.OpenOrders())
}

func TestExecuteAuthFailureHaltsTrading(t *testing.T) {
	e, led, pb := newTestEngine(t, DefaultConfig(), usOpen)
	fundUSD(led, "10000")
	pb.FailNextSubmit(broker.NewError(broker.ClassAuthFailure, "submit_order", errors.New("bad token")))

	decision := schema.Decision{
		Symbol:      "AAPL",
		Market:      schema.MarketUS,
		Side:        schema.OrderSideBuy,
		Quantity:    5,
		TargetPrice: dec("50"),
		OrderType:   schema.OrderTypeLimit,
	}
	res, err := e.Execute(context.Background(), decision)
	require.Error(t, err)
	assert.Equal(t, ReasonAuthHalted, res.Reason)
	assert.True(t, e.halt.Active())

	// While halted every further decision is refused without a broker call.
	res, err = e.Execute(context.Background(), decision)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, ReasonAuthHalted, res.Reason)
}

func TestExecuteFallsBackToRMBCounter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HKRMBCounterFallback = true
	e, led, pb := newTestEngine(t, cfg, hkOpen)
	led.ApplyReconciliation(ledger.Reconciled{
		Accounts: map[string]schema.AccountSnapshot{
			"HKD": {Currency: "HKD", AvailableForTrade: dec("100000")},
		},
	})
	pb.FailNextSubmit(broker.NewError(broker.ClassRejected, "submit_order", errors.New("invalid order type")))

	res, err := e.Execute(context.Background(), schema.Decision{
		Symbol:      "00388",
		Market:      schema.MarketHK,
		Side:        schema.OrderSideBuy,
		Quantity:    10,
		TargetPrice: dec("100"),
		OrderType:   schema.OrderTypeLimit,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeSubmitted, res.Outcome)
	assert.Equal(t, "80388", res.Order.Symbol)
}
