package jobhandler

import (
	"errors"
	"fmt"
)

var (
	// Broker errors.
	ErrNoStore           = errors.New("jobhandler: no store configured")
	ErrBrokerUnavailable = errors.New("jobhandler: broker unavailable")
	ErrSerialization     = errors.New("jobhandler: payload serialization failed")

	// Not found errors.
	ErrJobNotFound = errors.New("jobhandler: job not found")
	ErrDLQNotFound = errors.New("jobhandler: dlq entry not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("jobhandler: job already exists")
	ErrDuplicateKind    = errors.New("jobhandler: job kind already registered")
	ErrRegistrySealed   = errors.New("jobhandler: registry sealed, worker already started")

	// Lease errors. ErrLeaseLost means another worker now owns the job;
	// the current worker must abandon it without acknowledging.
	ErrLeaseLost = errors.New("jobhandler: lease lost")

	// ErrUnknownKind is a configuration error, not a transient failure.
	// Jobs with an unregistered kind are dead-lettered immediately.
	ErrUnknownKind = errors.New("jobhandler: unknown job kind")
)

// fatalError marks a handler error as non-retryable. The retry policy
// dead-letters such jobs immediately regardless of attempt count.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return "fatal: " + e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// retryableError marks a handler error as explicitly retryable.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return "retryable: " + e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Fatal wraps err so the retry policy dead-letters the job on the first
// occurrence. Handlers use this to flag permanent failures (bad payload,
// unrecoverable upstream state).
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// Fatalf is shorthand for Fatal(fmt.Errorf(...)).
func Fatalf(format string, args ...any) error {
	return Fatal(fmt.Errorf(format, args...))
}

// Retryable wraps err so the retry policy requeues the job with backoff
// until the attempt budget is exhausted. Unwrapped handler errors are
// treated as retryable by default; this wrapper makes the intent explicit.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsFatal reports whether err (or anything it wraps) was flagged with Fatal,
// or is an unknown-kind error. Handlers signal retryability explicitly — the
// policy never guesses from error text.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnknownKind) {
		return true
	}
	var fe *fatalError
	return errors.As(err, &fe)
}

// IsRetryable reports whether err should be retried. Everything that is not
// fatal is retryable; a nil error is neither.
func IsRetryable(err error) bool {
	return err != nil && !IsFatal(err)
}
