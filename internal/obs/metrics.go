// Package obs collects lightweight counters for the three trading loops.
package obs

import (
	"sync/atomic"

	"github.com/BenLeung-moon/tiger-trader/internal/broker"
)

const maxErrorClass = int(broker.ClassConflict)

// Metrics aggregates loop outcomes. All methods are nil-safe so callers
// can run without observability wired.
type Metrics struct {
	submitted   atomic.Uint64
	deferred    atomic.Uint64
	rejected    atomic.Uint64
	reviewKeep  atomic.Uint64
	reviewMod   atomic.Uint64
	reviewCxl   atomic.Uint64
	reviewRace  atomic.Uint64
	reconciles  atomic.Uint64
	errorCounts [maxErrorClass + 1]atomic.Uint64
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncSubmitted() {
	if m != nil {
		m.submitted.Add(1)
	}
}

func (m *Metrics) IncDeferred() {
	if m != nil {
		m.deferred.Add(1)
	}
}

func (m *Metrics) IncRejected() {
	if m != nil {
		m.rejected.Add(1)
	}
}

func (m *Metrics) IncReviewKeep() {
	if m != nil {
		m.reviewKeep.Add(1)
	}
}

func (m *Metrics) IncReviewModify() {
	if m != nil {
		m.reviewMod.Add(1)
	}
}

func (m *Metrics) IncReviewCancel() {
	if m != nil {
		m.reviewCxl.Add(1)
	}
}

func (m *Metrics) IncReviewRace() {
	if m != nil {
		m.reviewRace.Add(1)
	}
}

func (m *Metrics) IncReconcile() {
	if m != nil {
		m.reconciles.Add(1)
	}
}

// ObserveError counts a classified gateway failure.
func (m *Metrics) ObserveError(err error) {
	if m == nil || err == nil {
		return
	}
	class := broker.ClassOf(err)
	if int(class) <= maxErrorClass {
		m.errorCounts[class].Add(1)
	}
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	Submitted      uint64
	Deferred       uint64
	Rejected       uint64
	ReviewKeeps    uint64
	ReviewModifies uint64
	ReviewCancels  uint64
	ReviewRaces    uint64
	Reconciles     uint64
	ErrorsByClass  map[broker.Class]uint64
}

// Snapshot captures the current values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	errs := make(map[broker.Class]uint64, maxErrorClass+1)
	for i := 0; i <= maxErrorClass; i++ {
		if v := m.errorCounts[i].Load(); v > 0 {
			errs[broker.Class(i)] = v
		}
	}
	return Snapshot{
		Submitted:      m.submitted.Load(),
		Deferred:       m.deferred.Load(),
		Rejected:       m.rejected.Load(),
		ReviewKeeps:    m.reviewKeep.Load(),
		ReviewModifies: m.reviewMod.Load(),
		ReviewCancels:  m.reviewCxl.Load(),
		ReviewRaces:    m.reviewRace.Load(),
		Reconciles:     m.reconciles.Load(),
		ErrorsByClass:  errs,
	}
}
