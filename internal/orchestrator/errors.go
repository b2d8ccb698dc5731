package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"tenant_gateway/internal/router"
)

var (
	// ErrInvalidRequest wraps every validation failure.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnauthenticated is returned for missing, unknown and inactive
	// credentials alike.
	ErrUnauthenticated = errors.New("invalid or missing credential")

	// ErrBudgetExceeded is returned when the tenant's monthly spend has
	// reached its ceiling.
	ErrBudgetExceeded = errors.New("monthly budget exceeded")

	ErrQuotaExceeded      = errors.New("rate limit exceeded")
	ErrAllProvidersFailed = errors.New("all providers failed")

	// ErrCancelled is returned when the caller went away. Work already sent
	// upstream is still accounted in the background.
	ErrCancelled = errors.New("request cancelled")
)

// QuotaExceededError is a transient rejection; the caller should wait out
// RetryAfter before trying again.
type QuotaExceededError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("rate limit of %d requests exceeded, retry after %s", e.Limit, e.RetryAfter)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// AllProvidersFailedError ends a request whose every provider attempt failed.
// The message names the last failure; the full attempt list is on Err.
type AllProvidersFailedError struct {
	Err *router.AllFailedError
}

func (e *AllProvidersFailedError) Error() string {
	return e.Err.Error()
}

func (e *AllProvidersFailedError) Is(target error) bool {
	return target == ErrAllProvidersFailed
}

func (e *AllProvidersFailedError) Unwrap() error {
	return e.Err
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func cancelled(cause error) error {
	if cause == nil {
		return ErrCancelled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}
