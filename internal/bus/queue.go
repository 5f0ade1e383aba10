// Package bus carries decisions from their producer (the strategy
// collaborator) to the execution engine through a bounded queue. A full
// queue rejects immediately; decisions are cheap to regenerate next cycle
// and must never block the producer.
package bus

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/BenLeung-moon/tiger-trader/internal/schema"
)

var (
	ErrQueueFull   = errors.New("decision queue full")
	ErrQueueClosed = errors.New("decision queue closed")
)

// Queue is a bounded, non-blocking decision queue.
type Queue struct {
	ch     chan schema.Decision
	closed uint32
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan schema.Decision, capacity)}
}

// TryPublish enqueues a decision without blocking.
func (q *Queue) TryPublish(d schema.Decision) error {
	if atomic.LoadUint32(&q.closed) != 0 {
		return ErrQueueClosed
	}
	select {
	case q.ch <- d:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new decisions.
func (q *Queue) Close() {
	if atomic.CompareAndSwapUint32(&q.closed, 0, 1) {
		close(q.ch)
	}
}

// Run consumes decisions until the context is done or the queue is closed.
func (q *Queue) Run(ctx context.Context, handler func(schema.Decision)) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-q.ch:
			if !ok {
				return
			}
			handler(d)
		}
	}
}
