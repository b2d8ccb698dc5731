package providers

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConfigured is returned by constructors when a provider lacks the
	// credential it needs. Such providers are skipped, not treated as failures.
	ErrNotConfigured = errors.New("provider not configured")

	// ErrEmptyResponse is returned when the upstream answered without any content.
	ErrEmptyResponse = errors.New("empty response from provider")
)

// Error is a failed upstream call: a non-2xx status, a transport error or a
// malformed body.
type Error struct {
	Provider   string
	StatusCode int // 0 when no HTTP response was received
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %q error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %q error: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// TimeoutError is returned when an attempt exceeded its deadline.
type TimeoutError struct {
	Provider string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("provider %q request timeout after %s", e.Provider, e.Timeout)
	}
	return fmt.Sprintf("provider %q request timeout", e.Provider)
}

func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// classifyTransportError turns a client.Do failure into a typed error.
// Cancellation by the caller is passed through untouched.
func classifyTransportError(provider string, ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Provider: provider}
	}
	return &Error{Provider: provider, Message: "request failed", Cause: err}
}
