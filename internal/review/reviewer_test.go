package review

import (
	"context"
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

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestReviewer(t *testing.T) (*Reviewer, *ledger.Ledger, *paper.Broker) {
	t.Helper()
	led := ledger.New(nil)
	pb := paper.New()
	limiter := ratelimit.New(time.Second, map[ratelimit.Class]ratelimit.Policy{})
	r := New(DefaultConfig(), led, pb, limiter, &broker.Halt{}, obs.NewMetrics())
	return r, led, pb
}

// seedOrder submits through the paper broker so cancel/modify target a
// real broker-side order, then registers it in the ledger.
func seedOrder(t *testing.T, led *ledger.Ledger, pb *paper.Broker, symbol string, side schema.OrderSide, limit string, age time.Duration) schema.Order {
	t.Helper()
	order, err := pb.SubmitOrder(context.Background(), broker.SubmitRequest{
		Symbol:     symbol,
		Market:     schema.MarketUS,
		Side:       side,
		Quantity:   10,
		Type:       schema.OrderTypeLimit,
		LimitPrice: dec(limit),
	})
	require.NoError(t, err)
	order.SubmittedAt = time.Now().UTC().Add(-age)
	require.NoError(t, led.RegisterOrder(order, "test"))
	return order
}

func TestReviewAllKeepsStableOrder(t *testing.T) {
	r, led, pb := newTestReviewer(t)
	seedOrder(t, led, pb, "AAPL", schema.OrderSideBuy, "100", time.Minute)
	pb.SetQuote("AAPL", dec("100.5"))

	report, err := r.ReviewAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reviewed)
	assert.Equal(t, 1, report.Kept)
	assert.Zero(t, report.Cancelled)
	assert.Zero(t, report.Modified)
}

func TestReviewAllCancelsOnAdverseDrift(t *testing.T) {
	r, led, pb := newTestReviewer(t)
	order := seedOrder(t, led, pb, "AAPL", schema.OrderSideBuy, "100", time.Minute)
	// 3% below the limit with a 2% threshold: holding no longer serves
	// the original intent.
	pb.SetQuote("AAPL", dec("97"))

	report, err := r.ReviewAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cancelled)

	refreshed, err := pb.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusCancelled, refreshed.Status)
}

func TestReviewAllCancelsStaleOrder(t *testing.T) {
	r, led, pb := newTestReviewer(t)
	seedOrder(t, led, pb, "AAPL", schema.OrderSideBuy, "100", 2*time.Hour)
	pb.SetQuote("AAPL", dec("100"))

	report, err := r.ReviewAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cancelled)
}

func TestReviewAllModifiesOnFavorableDrift(t *testing.T) {
	r, led, pb := newTestReviewer(t)
	order := seedOrder(t, led, pb, "AAPL", schema.OrderSideBuy, "100", time.Minute)
	// Market ran away upward: the resting buy limit cannot fill.
	pb.SetQuote("AAPL", dec("102"))

	report, err := r.ReviewAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Modified)

	// Re-priced against the fresh quote with the 2% buffer: 102 * 1.02.
	refreshed, err := pb.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, refreshed.LimitPrice.Equal(dec("104.04")), "got %s", refreshed.LimitPrice)

	// Ledger overlay carries the provisional re-price too.
	open := led.OpenOrders()
	require.Len(t, open, 1)
	assert.True(t, open[0].LimitPrice.Equal(dec("104.04")))
}

func TestReviewAllSellDriftDirections(t *testing.T) {
	r, led, pb := newTestReviewer(t)
	order := seedOrder(t, led, pb, "TSLA", schema.OrderSideSell, "200", time.Minute)
	// Market sagged 2.5% below the sell limit: re-price down to exit.
	pb.SetQuote("TSLA", dec("195"))

	report, err := r.ReviewAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Modified)

	refreshed, err := pb.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	// 195 * 0.98 = 191.10.
	assert.True(t, refreshed.LimitPrice.Equal(dec("191.1")), "got %s", refreshed.LimitPrice)
}

func TestReviewAllTreatsConflictAsBenignRace(t *testing.T) {
	r, led, pb := newTestReviewer(t)
	order := seedOrder(t, led, pb, "AAPL", schema.OrderSideBuy, "100", time.Minute)
	pb.SetQuote("AAPL", dec("97"))
	pb.FailNextCancel(broker.NewError(broker.ClassConflict, "cancel_order",
		paper.ErrUnknownOrder))

	report, err := r.ReviewAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Failures)
	assert.Equal(t, 1, report.Cancelled)

	// The broker-side order is untouched; reconciliation settles it.
	refreshed, err := pb.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusSubmitted, refreshed.Status)
}

func TestReviewAllAuthFailureHalts(t *testing.T) {
	r, led, pb := newTestReviewer(t)
	seedOrder(t, led, pb, "AAPL", schema.OrderSideBuy, "100", time.Minute)
	pb.SetQuote("AAPL", dec("97"))
	pb.FailNextCancel(broker.NewError(broker.ClassAuthFailure, "cancel_order",
		assert.AnError))

	_, err := r.ReviewAll(context.Background())
	require.Error(t, err)
	assert.True(t, r.halt.Active())

	// Halted reviewer refuses further passes without touching the broker.
	report, err := r.ReviewAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Reviewed)
}
