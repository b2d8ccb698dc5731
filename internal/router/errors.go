package router

import (
	"fmt"
	"time"

	"tenant_gateway/internal/providers"
)

// Attempt is one provider call made while routing a request.
type Attempt struct {
	Provider string
	Err      error // nil for the successful attempt
	Duration time.Duration
}

// AllFailedError is returned when no provider produced a response. Every
// attempt is kept, but the message names only the last failure.
type AllFailedError struct {
	Attempts []Attempt
}

func (e *AllFailedError) Error() string {
	if len(e.Attempts) == 0 {
		return "all providers failed: no provider configured"
	}
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("all providers failed, last error from %s: %v", last.Provider, last.Err)
}

// Unwrap exposes the last failure to errors.Is/As.
func (e *AllFailedError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// LateResult is the eventual outcome of an attempt whose caller went away.
type LateResult struct {
	Provider string
	Response *providers.CompletionResponse
	Err      error
}

// AbandonedError is returned when the caller's context ended while an
// attempt was in flight. The attempt is cancelled along with the caller and
// delivers exactly one value on Late once the provider returns.
type AbandonedError struct {
	Provider string
	Attempts []Attempt
	Late     <-chan LateResult
	Cause    error
}

func (e *AbandonedError) Error() string {
	return fmt.Sprintf("caller gave up during %s attempt: %v", e.Provider, e.Cause)
}

func (e *AbandonedError) Unwrap() error {
	return e.Cause
}
