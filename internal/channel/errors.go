package channel

import (
	"errors"
	"time"
)

// ErrTransient marks transport failures worth reporting as network errors:
// connection problems, timeouts, server errors and rate limiting.
var ErrTransient = errors.New("transient transport error")

type transientError struct {
	err error
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() []error {
	return []error{ErrTransient, e.err}
}

// RateLimitError is a transient error carrying the platform's retry-after hint.
type RateLimitError struct {
	Err   error
	After time.Duration
}

func (e *RateLimitError) Error() string {
	return e.Err.Error()
}

func (e *RateLimitError) Unwrap() []error {
	return []error{ErrTransient, e.Err}
}

// RetryAfter returns the server-provided backoff, zero when none was given.
func (e *RateLimitError) RetryAfter() time.Duration {
	return e.After
}

// Transient wraps err so that errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// RateLimited wraps a rate-limit response.
func RateLimited(err error, after time.Duration) error {
	if err == nil {
		err = errors.New("too many requests")
	}
	return &RateLimitError{Err: err, After: after}
}

// IsTransient reports whether err was marked transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
