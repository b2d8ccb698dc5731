// Package providertest provides a scriptable Provider for tests.
package providertest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tenant_gateway/internal/providers"
)

// Fake is a Provider whose behavior is set by its fields.
type Fake struct {
	ProviderName string
	Reply        string
	PromptTokens int
	OutputTokens int
	Pricing      providers.Pricing
	// Err is returned from Complete when set.
	Err error
	// Delay is waited out (or ctx) before answering.
	Delay time.Duration
	// IgnoreContext makes Complete finish its Delay even after ctx is done,
	// like an upstream that keeps working after the caller went away.
	IgnoreContext bool
	HealthErr     error

	calls  atomic.Int32
	mu     sync.Mutex
	last   providers.CompletionRequest
	closed atomic.Bool
}

var _ providers.Provider = (*Fake)(nil)

func (f *Fake) Name() string { return f.ProviderName }
func (f *Fake) Type() string { return "fake" }

func (f *Fake) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()

	if f.Delay > 0 {
		if f.IgnoreContext {
			time.Sleep(f.Delay)
		} else {
			select {
			case <-time.After(f.Delay):
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					return nil, &providers.TimeoutError{Provider: f.ProviderName}
				}
				return nil, ctx.Err()
			}
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return &providers.CompletionResponse{
		Content:          f.Reply,
		Model:            req.Model,
		Provider:         f.ProviderName,
		FinishReason:     "stop",
		PromptTokens:     f.PromptTokens,
		CompletionTokens: f.OutputTokens,
	}, nil
}

func (f *Fake) Cost(promptTokens, completionTokens int) float64 {
	return f.Pricing.Cost(promptTokens, completionTokens)
}

func (f *Fake) Health(context.Context) error { return f.HealthErr }

func (f *Fake) Close() error {
	f.closed.Store(true)
	return nil
}

// Calls returns how many times Complete ran.
func (f *Fake) Calls() int { return int(f.calls.Load()) }

// LastRequest returns the request Complete saw most recently.
func (f *Fake) LastRequest() providers.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool { return f.closed.Load() }
