package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/BenLeung-moon/tiger-trader/internal/schema"
)

func TestRoundToTick(t *testing.T) {
	testCases := []struct {
		desc     string
		market   schema.Market
		price    string
		expected string
	}{
		{"us cent", schema.MarketUS, "123.456", "123.46"},
		{"cn cent", schema.MarketCN, "10.444", "10.44"},
		{"hk sub quarter", schema.MarketHK, "0.2431", "0.243"},
		{"hk below ten", schema.MarketHK, "9.876", "9.88"},
		{"hk ten to twenty", schema.MarketHK, "15.03", "15.04"},
		{"hk hundred band", schema.MarketHK, "102.04", "102.05"},
		{"hk five hundred band", schema.MarketHK, "512.3", "512.4"},
		{"hk thousand band", schema.MarketHK, "1001.3", "1001"},
		{"hk top band", schema.MarketHK, "5003", "5005"},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			price := decimal.RequireFromString(tc.price)
			got := RoundToTick(price, tc.market)
			assert.True(t, got.Equal(decimal.RequireFromString(tc.expected)),
				"got %s want %s", got, tc.expected)
		})
	}
}
