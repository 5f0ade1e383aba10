// Package clock answers whether an exchange is trading at a point in time.
// It is a pure function of the wall clock and the per-market session table;
// it performs no I/O.
package clock

import (
	"sync"
	"time"

	"github.com/BenLeung-moon/tiger-trader/internal/schema"
)

// Session is a single continuous trading window, expressed in minutes
// since midnight exchange-local time.
type Session struct {
	Open  int
	Close int
}

func minutes(h, m int) int { return h*60 + m }

// schedule describes one market's trading day.
type schedule struct {
	tzName   string
	fallback int // fixed UTC offset in hours when tz data is unavailable
	sessions []Session
}

var schedules = map[schema.Market]schedule{
	schema.MarketUS: {
		tzName:   "America/New_York",
		fallback: -5,
		sessions: []Session{{minutes(9, 30), minutes(16, 0)}},
	},
	schema.MarketHK: {
		tzName:   "Asia/Hong_Kong",
		fallback: 8,
		sessions: []Session{
			{minutes(9, 30), minutes(12, 0)},
			{minutes(13, 0), minutes(16, 0)},
		},
	},
	schema.MarketCN: {
		tzName:   "Asia/Shanghai",
		fallback: 8,
		sessions: []Session{
			{minutes(9, 30), minutes(11, 30)},
			{minutes(13, 0), minutes(15, 0)},
		},
	},
}

var (
	locMu   sync.Mutex
	locByTZ = map[string]*time.Location{}
)

func location(s schedule) *time.Location {
	locMu.Lock()
	defer locMu.Unlock()
	if loc, ok := locByTZ[s.tzName]; ok {
		return loc
	}
	loc, err := time.LoadLocation(s.tzName)
	if err != nil {
		loc = time.FixedZone(s.tzName, s.fallback*3600)
	}
	locByTZ[s.tzName] = loc
	return loc
}

// IsOpen reports whether the market is in a regular trading session at t.
// Unknown markets are treated as closed.
func IsOpen(market schema.Market, t time.Time) bool {
	sched, ok := schedules[market]
	if !ok {
		return false
	}
	local := t.In(location(sched))
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	mins := minutes(local.Hour(), local.Minute())
	for _, s := range sched.sessions {
		if mins >= s.Open && mins < s.Close {
			return true
		}
	}
	return false
}

// NextOpen returns the start of the next trading session strictly after t.
// Returns the zero time for unknown markets.
func NextOpen(market schema.Market, t time.Time) time.Time {
	sched, ok := schedules[market]
	if !ok {
		return time.Time{}
	}
	local := t.In(location(sched))
	for day := 0; day < 10; day++ {
		candidate := local.AddDate(0, 0, day)
		if wd := candidate.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		mins := minutes(candidate.Hour(), candidate.Minute())
		for _, s := range sched.sessions {
			if day == 0 && mins >= s.Open {
				continue
			}
			return time.Date(candidate.Year(), candidate.Month(), candidate.Day(),
				s.Open/60, s.Open%60, 0, 0, candidate.Location())
		}
	}
	return time.Time{}
}

// NearClose reports whether the market is open and the current session
// ends within the given duration. The execution engine widens its limit
// buffer near the close to keep fill probability up.
func NearClose(market schema.Market, t time.Time, within time.Duration) bool {
	sched, ok := schedules[market]
	if !ok {
		return false
	}
	local := t.In(location(sched))
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	mins := minutes(local.Hour(), local.Minute())
	lead := int(within / time.Minute)
	for _, s := range sched.sessions {
		if mins >= s.Open && mins < s.Close && s.Close-mins <= lead {
			return true
		}
	}
	return false
}
