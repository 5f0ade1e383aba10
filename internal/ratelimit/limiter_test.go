package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireUnderCeiling(t *testing.T) {
	l := New(time.Second, map[Class]Policy{
		ClassOrder: {MaxCalls: 3, Window: time.Minute},
	})
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background(), ClassOrder))
	}
}

func TestAcquireUnlimitedClass(t *testing.T) {
	l := New(time.Millisecond, map[Class]Policy{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Acquire(context.Background(), ClassQuote))
	}
}

func TestAcquireExceedsMaxWait(t *testing.T) {
	l := New(10*time.Millisecond, map[Class]Policy{
		ClassOrder: {MaxCalls: 1, Window: time.Minute},
	})
	require.NoError(t, l.Acquire(context.Background(), ClassOrder))

	err := l.Acquire(context.Background(), ClassOrder)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
}

func TestAcquireWaitsForWindow(t *testing.T) {
	l := New(time.Second, map[Class]Policy{
		ClassQuote: {MaxCalls: 1, Window: 30 * time.Millisecond},
	})
	require.NoError(t, l.Acquire(context.Background(), ClassQuote))

	start := time.Now()
	require.NoError(t, l.Acquire(context.Background(), ClassQuote))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestAcquireRespectsContext(t *testing.T) {
	l := New(time.Minute, map[Class]Policy{
		ClassOrder: {MaxCalls: 1, Window: time.Second},
	})
	require.NoError(t, l.Acquire(context.Background(), ClassOrder))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, ClassOrder)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClassesAreIndependent(t *testing.T) {
	l := New(time.Millisecond, map[Class]Policy{
		ClassOrder: {MaxCalls: 1, Window: time.Minute},
		ClassQuote: {MaxCalls: 1, Window: time.Minute},
	})
	require.NoError(t, l.Acquire(context.Background(), ClassOrder))
	require.NoError(t, l.Acquire(context.Background(), ClassQuote))
}
