package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassUnknown},
		{"plain", errors.New("boom"), ClassUnknown},
		{"classified", NewError(ClassRejected, "submit_order", errors.New("no funds")), ClassRejected},
		{"wrapped", fmt.Errorf("outer: %w", NewError(ClassAuthFailure, "get_quote", nil)), ClassAuthFailure},
		{"deadline", context.DeadlineExceeded, ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewError(ClassTransient, "submit_order", errors.New("timeout"))))
	assert.True(t, IsRetryable(NewError(ClassRateLimited, "submit_order", nil)))
	assert.False(t, IsRetryable(NewError(ClassRejected, "submit_order", nil)))
	assert.False(t, IsRetryable(NewError(ClassConflict, "cancel_order", nil)))
	assert.False(t, IsRetryable(errors.New("unclassified")))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2.0}

	assert.Equal(t, 100*time.Millisecond, b.Next(1))
	assert.Equal(t, 200*time.Millisecond, b.Next(2))
	assert.Equal(t, 400*time.Millisecond, b.Next(3))
	assert.Equal(t, time.Second, b.Next(10))
}

func TestBackoffJitterStaysBounded(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, Factor: 2.0, Jitter: 0.5}
	for i := 0; i < 50; i++ {
		wait := b.Next(2)
		assert.GreaterOrEqual(t, wait, 200*time.Millisecond)
		assert.LessOrEqual(t, wait, 300*time.Millisecond)
	}
}

func TestHaltLatch(t *testing.T) {
	var h Halt
	assert.False(t, h.Active())
	h.Trip()
	assert.True(t, h.Active())
	h.Trip() // idempotent
	assert.True(t, h.Active())
	h.Resume()
	assert.False(t, h.Active())
}
