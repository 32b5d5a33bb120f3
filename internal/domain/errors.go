package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOrder is returned when order creation input is rejected.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrOrderNotFound is returned when an aggregate has no events.
	ErrOrderNotFound = errors.New("order not found")
	// ErrConcurrencyConflict matches any *ConcurrencyConflictError.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrInvalidStateTransition matches any *InvalidStateTransitionError.
	ErrInvalidStateTransition = errors.New("invalid state transition")
)

// InvalidStateTransitionError names the rejected transition and the state it was attempted from.
type InvalidStateTransitionError struct {
	Transition string
	State      Status
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s order in status %s", e.Transition, e.State)
}

func (e *InvalidStateTransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

// ConcurrencyConflictError is returned by the event store when the stream moved
// past the version the caller loaded.
type ConcurrencyConflictError struct {
	AggregateID string
	Expected    int64
	Actual      int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on %s: expected version %d, but current version is %d",
		e.AggregateID, e.Expected, e.Actual)
}

func (e *ConcurrencyConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

func invalidOrder(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidOrder, fmt.Sprintf(format, args...))
}
