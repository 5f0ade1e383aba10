package broker

import (
	"context"
	"errors"
	"fmt"
)

// Class buckets a gateway failure by how the caller must react.
type Class uint8

const (
	ClassUnknown Class = iota
	// ClassTransient covers network and timeout failures; retry with backoff.
	ClassTransient
	// ClassRateLimited means the broker pushed back; retry after the wait.
	ClassRateLimited
	// ClassRejected means the broker refused the request as invalid or
	// unaffordable; never retried automatically.
	ClassRejected
	// ClassAuthFailure means credentials or session are bad; submission
	// must halt until resolved.
	ClassAuthFailure
	// ClassConflict means a local assumption lost a race with the broker,
	// e.g. cancelling an order that already filled; re-query, not an error.
	ClassConflict
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRateLimited:
		return "rate_limited"
	case ClassRejected:
		return "rejected"
	case ClassAuthFailure:
		return "auth_failure"
	case ClassConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is a classified gateway failure.
type Error struct {
	Class Class
	Op    string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("broker %s: %s", e.Op, e.Class)
	}
	return fmt.Sprintf("broker %s: %s: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a classification and the failing operation.
func NewError(class Class, op string, err error) *Error {
	return &Error{Class: class, Op: op, Err: err}
}

// ClassOf extracts the classification from an error chain. Plain context
// expiry counts as transient: the call may succeed on the next cycle.
func ClassOf(err error) Class {
	var be *Error
	if errors.As(err, &be) {
		return be.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return ClassUnknown
}

// IsRetryable reports whether the failure is worth another attempt.
func IsRetryable(err error) bool {
	switch ClassOf(err) {
	case ClassTransient, ClassRateLimited:
		return true
	default:
		return false
	}
}
