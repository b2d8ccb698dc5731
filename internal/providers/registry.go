package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"tenant_gateway/internal/utils"
)

const (
	defaultHealthTTL    = 30 * time.Second
	defaultProbeTimeout = 10 * time.Second
)

// ErrUnknownProvider is returned by Resolve for names with no configured provider.
var ErrUnknownProvider = errors.New("unknown provider")

// RegistryOptions tunes health probing.
type RegistryOptions struct {
	// HealthTTL is how long a probe result is reused.
	HealthTTL time.Duration
	// ProbeTimeout bounds a single health call.
	ProbeTimeout time.Duration
	Logger       *utils.Logger
}

// Descriptor is the admin view of a configured provider.
type Descriptor struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Healthy bool   `json:"healthy"`
}

// Registry holds the configured providers by name and caches their health.
// It is built once at startup and passed to whoever needs it.
type Registry struct {
	providers map[string]Provider
	health    *ristretto.Cache[string, bool]
	opts      RegistryOptions
	logger    *utils.Logger
}

// NewRegistry builds every configured provider through factory. Providers
// missing their credential are skipped and left out of the registry.
func NewRegistry(factory Factory, configs []ProviderConfig, opts RegistryOptions) (*Registry, error) {
	built := make([]Provider, 0, len(configs))
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewLogger("providers")
	}

	for _, cfg := range configs {
		p, err := factory.CreateProvider(cfg)
		if errors.Is(err, ErrNotConfigured) {
			logger.Info("Provider not configured, skipping", "provider", cfg.Name)
			continue
		}
		if err != nil {
			for _, b := range built {
				b.Close()
			}
			return nil, fmt.Errorf("failed to create provider %s: %w", cfg.Name, err)
		}
		built = append(built, p)
	}

	return NewRegistryFromProviders(opts, built...)
}

// NewRegistryFromProviders wraps already-constructed providers.
func NewRegistryFromProviders(opts RegistryOptions, providers ...Provider) (*Registry, error) {
	if opts.HealthTTL <= 0 {
		opts.HealthTTL = defaultHealthTTL
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = utils.NewLogger("providers")
	}

	// One unit of cost per provider; ristretto's own per-item overhead would
	// otherwise use up MaxCost after a single entry.
	health, err := ristretto.NewCache(&ristretto.Config[string, bool]{
		NumCounters:        1000,
		MaxCost:            100,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create health cache: %w", err)
	}

	r := &Registry{
		providers: make(map[string]Provider, len(providers)),
		health:    health,
		opts:      opts,
		logger:    opts.Logger,
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r, nil
}

// Resolve returns the provider configured under name.
func (r *Registry) Resolve(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Configured reports whether a provider with this name exists.
func (r *Registry) Configured(name string) bool {
	_, ok := r.providers[name]
	return ok
}

// Names returns the configured provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Health reports whether the named provider answered its last probe. Results
// are reused for HealthTTL; unknown providers are never healthy.
func (r *Registry) Health(ctx context.Context, name string) bool {
	p, ok := r.providers[name]
	if !ok {
		return false
	}
	if healthy, ok := r.health.Get(name); ok {
		return healthy
	}
	return r.probe(ctx, name, p)
}

// Refresh probes every provider now, ignoring cached results.
func (r *Registry) Refresh(ctx context.Context) {
	for _, name := range r.Names() {
		if ctx.Err() != nil {
			return
		}
		r.probe(ctx, name, r.providers[name])
	}
}

func (r *Registry) probe(ctx context.Context, name string, p Provider) bool {
	probeCtx, cancel := context.WithTimeout(ctx, r.opts.ProbeTimeout)
	defer cancel()

	err := p.Health(probeCtx)
	healthy := err == nil
	if !healthy {
		r.logger.Warn("Provider health check failed", "provider", name, "error", err)
	}

	// Caller cancellation says nothing about the provider.
	if errors.Is(ctx.Err(), context.Canceled) {
		return healthy
	}
	r.health.SetWithTTL(name, healthy, 1, r.opts.HealthTTL)
	r.health.Wait()
	return healthy
}

// HealthTTL is how long a probe result is reused.
func (r *Registry) HealthTTL() time.Duration {
	return r.opts.HealthTTL
}

// CachedHealth returns the last probe result without probing.
func (r *Registry) CachedHealth(name string) (healthy, known bool) {
	return r.health.Get(name)
}

// Descriptors reports each provider in the given order followed by any
// configured provider the order does not mention.
func (r *Registry) Descriptors(ctx context.Context, order []string) []Descriptor {
	seen := make(map[string]bool, len(r.providers))
	out := make([]Descriptor, 0, len(r.providers))
	add := func(name string) {
		p, ok := r.providers[name]
		if !ok || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, Descriptor{Name: name, Type: p.Type(), Healthy: r.Health(ctx, name)})
	}
	for _, name := range order {
		add(name)
	}
	for _, name := range r.Names() {
		add(name)
	}
	return out
}

// Close closes every provider and the health cache.
func (r *Registry) Close() error {
	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.health.Close()
	return errors.Join(errs...)
}
