package errors

import (
	"errors"
	"fmt"
)

// Taxonomy of failures the risk core distinguishes. Transient errors are
// retried locally, conflicts are retried once, validation and fatal errors
// are terminal.

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrConflict indicates a version conflict on a compare-and-swap write
	ErrConflict = errors.New("version conflict")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrTimeout indicates an operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrRateLimited indicates the collaborator throttled the call
	ErrRateLimited = errors.New("rate limited")

	// ErrUnavailable indicates a service is unavailable
	ErrUnavailable = errors.New("service unavailable")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")
)

// Bus errors

var (
	// ErrBusClosed indicates the event bus is draining or stopped
	ErrBusClosed = errors.New("event bus closed")
)

// Execution errors

var (
	// ErrCircuitOpen indicates the gateway circuit breaker is open
	ErrCircuitOpen = errors.New("gateway circuit open")

	// ErrPositionClosed indicates the target position no longer exists
	ErrPositionClosed = errors.New("position already closed")

	// ErrInvalidPosition indicates the gateway rejected the position reference
	ErrInvalidPosition = errors.New("invalid position")

	// ErrKillSwitch indicates the operator halt flag is engaged
	ErrKillSwitch = errors.New("kill switch engaged")
)

// IsTransient reports whether err is worth retrying against the gateway.
// Everything else in the taxonomy is terminal for the caller.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrUnavailable)
}

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
