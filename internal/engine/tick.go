package engine

import (
	"github.com/shopspring/decimal"

	"github.com/BenLeung-moon/tiger-trader/internal/schema"
)

// hkTickLadder is the HKEX part-A spread table: below each threshold the
// given tick applies.
var hkTickLadder = []struct {
	below decimal.Decimal
	tick  decimal.Decimal
}{
	{decimal.NewFromFloat(0.25), decimal.NewFromFloat(0.001)},
	{decimal.NewFromFloat(0.50), decimal.NewFromFloat(0.005)},
	{decimal.NewFromInt(10), decimal.NewFromFloat(0.01)},
	{decimal.NewFromInt(20), decimal.NewFromFloat(0.02)},
	{decimal.NewFromInt(100), decimal.NewFromFloat(0.05)},
	{decimal.NewFromInt(200), decimal.NewFromFloat(0.10)},
	{decimal.NewFromInt(500), decimal.NewFromFloat(0.20)},
	{decimal.NewFromInt(1000), decimal.NewFromFloat(0.50)},
	{decimal.NewFromInt(2000), decimal.NewFromInt(1)},
	{decimal.NewFromInt(5000), decimal.NewFromInt(2)},
}

var hkTickTop = decimal.NewFromInt(5)

// TickSize returns the minimum price increment for a symbol's venue.
// US and CN equities quote in cents.
func TickSize(market schema.Market, price decimal.Decimal) decimal.Decimal {
	if market != schema.MarketHK {
		return decimal.NewFromFloat(0.01)
	}
	for _, step := range hkTickLadder {
		if price.LessThan(step.below) {
			return step.tick
		}
	}
	return hkTickTop
}

// RoundToTick snaps a price to the nearest valid tick for the venue.
func RoundToTick(price decimal.Decimal, market schema.Market) decimal.Decimal {
	tick := TickSize(market, price)
	steps := price.Div(tick).Round(0)
	return steps.Mul(tick)
}
