package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BenLeung-moon/tiger-trader/internal/schema"
)

func hkTime(t *testing.T, y int, mo time.Month, d, h, m int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Hong_Kong")
	require.NoError(t, err)
	return time.Date(y, mo, d, h, m, 0, 0, loc)
}

func TestIsOpen(t *testing.T) {
	testCases := []struct {
		desc     string
		market   schema.Market
		at       time.Time
		expected bool
	}{
		// 2025-06-04 is a Wednesday.
		{"hk morning session", schema.MarketHK, hkTime(t, 2025, 6, 4, 10, 0), true},
		{"hk lunch break", schema.MarketHK, hkTime(t, 2025, 6, 4, 12, 30), false},
		{"hk afternoon session", schema.MarketHK, hkTime(t, 2025, 6, 4, 15, 59), true},
		{"hk after close", schema.MarketHK, hkTime(t, 2025, 6, 4, 16, 0), false},
		{"hk weekend", schema.MarketHK, hkTime(t, 2025, 6, 7, 10, 0), false},
		{"cn session from hk clock", schema.MarketCN, hkTime(t, 2025, 6, 4, 10, 0), true},
		{"cn closed at hk mid-afternoon", schema.MarketCN, hkTime(t, 2025, 6, 4, 15, 30), false},
		// 22:00 HK Wednesday == 10:00 ET Wednesday (summer).
		{"us open from hk evening", schema.MarketUS, hkTime(t, 2025, 6, 4, 22, 0), true},
		{"us closed from hk morning", schema.MarketUS, hkTime(t, 2025, 6, 4, 10, 0), false},
		{"unknown market", schema.Market("JP"), hkTime(t, 2025, 6, 4, 10, 0), false},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsOpen(tc.market, tc.at))
		})
	}
}

func TestNextOpen(t *testing.T) {
	// Friday after HK close: next open is Monday 09:30.
	friday := hkTime(t, 2025, 6, 6, 17, 0)
	next := NextOpen(schema.MarketHK, friday)
	require.False(t, next.IsZero())
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 30, next.Minute())
	assert.True(t, next.After(friday))

	// During the lunch break the next open is the afternoon session.
	lunch := hkTime(t, 2025, 6, 4, 12, 15)
	next = NextOpen(schema.MarketHK, lunch)
	assert.Equal(t, 13, next.Hour())
	assert.Equal(t, lunch.Day(), next.Day())
}

func TestNearClose(t *testing.T) {
	assert.True(t, NearClose(schema.MarketHK, hkTime(t, 2025, 6, 4, 15, 50), 15*time.Minute))
	assert.False(t, NearClose(schema.MarketHK, hkTime(t, 2025, 6, 4, 14, 0), 15*time.Minute))
	// Morning session end counts too.
	assert.True(t, NearClose(schema.MarketHK, hkTime(t, 2025, 6, 4, 11, 50), 15*time.Minute))
	assert.False(t, NearClose(schema.MarketHK, hkTime(t, 2025, 6, 4, 12, 30), 15*time.Minute))
}
