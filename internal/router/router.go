// Package router tries providers in order until one answers.
package router

import (
	"context"
	"errors"
	"time"

	"tenant_gateway/internal/providers"
	"tenant_gateway/internal/utils"
)

const defaultAttemptTimeout = 30 * time.Second

// Options configures a Router.
type Options struct {
	// AttemptTimeout bounds each provider call independently.
	AttemptTimeout time.Duration
	// SkipUnhealthy passes over providers whose last cached probe failed.
	// Providers never probed are still tried.
	SkipUnhealthy bool
	Logger        *utils.Logger
}

// Result is a successful routing outcome.
type Result struct {
	Response *providers.CompletionResponse
	Provider string
	Attempts []Attempt
}

// Router implements ordered fallback over a provider registry.
type Router struct {
	registry       *providers.Registry
	attemptTimeout time.Duration
	skipUnhealthy  bool
	logger         *utils.Logger
}

// New creates a router over registry.
func New(registry *providers.Registry, opts Options) *Router {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = defaultAttemptTimeout
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewLogger("router")
	}
	return &Router{
		registry:       registry,
		attemptTimeout: opts.AttemptTimeout,
		skipUnhealthy:  opts.SkipUnhealthy,
		logger:         opts.Logger,
	}
}

// Route makes at most one attempt per configured provider in order and
// returns the first success. Unconfigured names are skipped without counting
// as attempts.
func (r *Router) Route(ctx context.Context, req providers.CompletionRequest, order []string) (*Result, error) {
	var attempts []Attempt

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := r.registry.Resolve(name)
		if err != nil {
			r.logger.Debug("Skipping unconfigured provider", "provider", name)
			continue
		}
		if r.skipUnhealthy {
			if healthy, known := r.registry.CachedHealth(name); known && !healthy {
				r.logger.Debug("Skipping unhealthy provider", "provider", name)
				continue
			}
		}

		start := time.Now()
		late, resp, err := r.attempt(ctx, p, req)
		if late != nil {
			r.logger.Warn("Caller cancelled during provider attempt", "provider", name)
			return nil, &AbandonedError{
				Provider: name,
				Attempts: attempts,
				Late:     late,
				Cause:    ctx.Err(),
			}
		}

		attempts = append(attempts, Attempt{Provider: name, Err: err, Duration: time.Since(start)})
		if err == nil {
			return &Result{Response: resp, Provider: name, Attempts: attempts}, nil
		}
		r.logger.Warn("Provider attempt failed", "provider", name, "error", err)
	}

	return nil, &AllFailedError{Attempts: attempts}
}

// attempt runs one call in its own goroutine under a deadline derived from
// the caller's context, so a caller that leaves cancels the upstream call too.
// In that case the result channel is handed back so whatever the provider
// still reports (usually the cancellation) can be accounted.
func (r *Router) attempt(ctx context.Context, p providers.Provider, req providers.CompletionRequest) (<-chan LateResult, *providers.CompletionResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	done := make(chan LateResult, 1)

	go func() {
		defer cancel()
		resp, err := p.Complete(attemptCtx, req)
		if err != nil {
			resp = nil
			// The caller's own deadline is not an attempt timeout.
			if ctx.Err() == nil {
				err = r.normalize(p.Name(), err)
			}
		} else if resp == nil {
			err = &providers.Error{Provider: p.Name(), Message: "nil response", Cause: providers.ErrEmptyResponse}
		}
		done <- LateResult{Provider: p.Name(), Response: resp, Err: err}
	}()

	select {
	case res := <-done:
		if ctx.Err() != nil {
			// Lost the race with cancellation; hand the outcome back as late.
			late := make(chan LateResult, 1)
			late <- res
			return late, nil, nil
		}
		return nil, res.Response, res.Err
	case <-ctx.Done():
		return done, nil, nil
	}
}

func (r *Router) normalize(name string, err error) error {
	var timeout *providers.TimeoutError
	if errors.As(err, &timeout) {
		if timeout.Timeout == 0 {
			timeout.Timeout = r.attemptTimeout
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &providers.TimeoutError{Provider: name, Timeout: r.attemptTimeout}
	}
	return err
}
