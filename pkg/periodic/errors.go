package periodic

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPeriod is returned when a non-positive period is supplied.
	ErrInvalidPeriod = errors.New("periodic: period must be positive")

	// ErrNoHandler is returned by New when no tick handler is supplied.
	ErrNoHandler = errors.New("periodic: tick handler is required")

	// ErrIllegalState is the parent of every lifecycle error below.
	ErrIllegalState = errors.New("periodic: illegal state")

	ErrAlreadyStarted = fmt.Errorf("%w: already started", ErrIllegalState)
	ErrNotStarted     = fmt.Errorf("%w: not started", ErrIllegalState)
	ErrStopped        = fmt.Errorf("%w: stopped", ErrIllegalState)

	// ErrStop may be returned by a Handler to end its own Task cleanly.
	// It is not recorded as a failure.
	ErrStop = errors.New("periodic: stop requested by handler")
)

// InvalidPeriod wraps ErrInvalidPeriod with the rejected value.
func InvalidPeriod(v any) error {
	return fmt.Errorf("%w (got %v)", ErrInvalidPeriod, v)
}

// HandlerError reports a tick handler failure.
type HandlerError struct {
	Task string
	Tick uint64
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("periodic %s: tick %d failed: %v", e.Task, e.Tick, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// PanicError carries a value recovered from a panicking handler.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}
