package types

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error taxonomy for the pipeline:
//
//   - ConfigError: missing strategy, step, or template. Fatal, never retried,
//     surfaced immediately to the caller of Plan/Execute.
//   - ValidationError: malformed payload, mismatched stage, required input
//     unresolved, bad adapter response shape. Fatal for the affected job only.
//   - TransientError: adapter timeout or network failure. Retried with backoff
//     up to the job's max_retries.
//
// Anything not wrapped in one of these is treated as transient by default so
// that unknown adapter failures get the benefit of a retry.

// ConfigError is a configuration problem that no retry can fix.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config error: " + e.Msg }

// NewConfigError builds a ConfigError with a formatted message.
func NewConfigError(format string, args ...interface{}) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// ValidationError is fatal for the affected job but does not abort siblings.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "validation error: " + e.Msg }

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// TransientError marks a failure eligible for retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as retryable.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// ErrStageNotComplete is returned when stage submission arrives before the
// stage's jobs have finished.
var ErrStageNotComplete = errors.New("stage not yet complete")

// ErrConflict is returned by optimistic session updates when the row changed
// underneath the caller.
var ErrConflict = errors.New("concurrent update conflict")

// ErrNotFound is returned by store lookups for missing rows.
var ErrNotFound = errors.New("not found")

// IsRetryable reports whether a job failure should transition to retrying
// rather than failed. Config and validation errors are never retryable;
// timeouts and network errors always are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConfigError
	var ve *ValidationError
	if errors.As(err, &ce) || errors.As(err, &ve) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	// Unknown adapter failures default to retryable.
	return true
}
