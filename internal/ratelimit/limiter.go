// Package ratelimit throttles outbound broker calls per endpoint class.
// Brokers impose different ceilings on quote queries and order mutations,
// so each class keeps an independent sliding window.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRateLimitExceeded is returned when a permit cannot be granted within
// the limiter's maximum wait. Callers must treat it as retryable.
var ErrRateLimitExceeded = errors.New("rate limit wait exceeded")

// Class groups broker endpoints that share a ceiling.
type Class string

const (
	ClassQuote   Class = "quote"
	ClassOrder   Class = "order"
	ClassAccount Class = "account"
)

// Policy is a sliding-window ceiling: at most MaxCalls per Window.
type Policy struct {
	MaxCalls int
	Window   time.Duration
}

// Limiter grants permits per endpoint class. Acquire waits cooperatively
// (timer, not spin) and gives up after MaxWait.
type Limiter struct {
	mu       sync.Mutex
	policies map[Class]Policy
	stamps   map[Class][]time.Time
	maxWait  time.Duration
	now      func() time.Time
}

// New creates a limiter. Classes without a policy are unlimited.
func New(maxWait time.Duration, policies map[Class]Policy) *Limiter {
	return &Limiter{
		policies: policies,
		stamps:   make(map[Class][]time.Time, len(policies)),
		maxWait:  maxWait,
		now:      time.Now,
	}
}

// Acquire blocks until a permit is available for the class, the context is
// cancelled, or the wait would exceed MaxWait.
func (l *Limiter) Acquire(ctx context.Context, class Class) error {
	policy, limited := l.policyFor(class)
	if !limited || policy.MaxCalls <= 0 {
		return ctx.Err()
	}

	deadline := l.now().Add(l.maxWait)
	for {
		wait, ok := l.tryAcquire(class, policy)
		if ok {
			return nil
		}
		if l.maxWait > 0 && l.now().Add(wait).After(deadline) {
			return ErrRateLimitExceeded
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire records a call stamp when under the ceiling, otherwise
// returns how long until the oldest stamp leaves the window.
func (l *Limiter) tryAcquire(class Class, policy Policy) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-policy.Window)
	stamps := l.stamps[class]
	kept := stamps[:0]
	for _, s := range stamps {
		if s.After(cutoff) {
			kept = append(kept, s)
		}
	}

	if len(kept) < policy.MaxCalls {
		kept = append(kept, now)
		l.stamps[class] = kept
		return 0, true
	}

	l.stamps[class] = kept
	return kept[0].Sub(cutoff) + time.Millisecond, false
}

func (l *Limiter) policyFor(class Class) (Policy, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.policies[class]
	return p, ok
}
