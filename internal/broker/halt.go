package broker

import "sync/atomic"

// Halt is the latch tripped on authentication failure. While active, the
// engine and reviewer stop submitting and modifying orders; read-only
// reconciliation keeps running. Resume only after credentials are
// confirmed valid again.
type Halt struct {
	active atomic.Bool
}

func (h *Halt) Trip()        { h.active.Store(true) }
func (h *Halt) Resume()      { h.active.Store(false) }
func (h *Halt) Active() bool { return h.active.Load() }
