package providers

import (
	"fmt"
	"sort"
	"sync"

	"tenant_gateway/internal/config"
)

// Constructor builds a provider from its configuration.
type Constructor func(config ProviderConfig) (Provider, error)

// ProviderFactory maps provider types to constructors.
type ProviderFactory struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewProviderFactory returns a factory with the built-in openai and anthropic types.
func NewProviderFactory() *ProviderFactory {
	f := &ProviderFactory{constructors: make(map[string]Constructor)}
	f.Register("openai", NewOpenAIProvider)
	f.Register("anthropic", NewAnthropicProvider)
	return f
}

// Register adds or replaces the constructor for a type.
func (f *ProviderFactory) Register(providerType string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[providerType] = ctor
}

// CreateProvider creates a new provider instance
func (f *ProviderFactory) CreateProvider(config ProviderConfig) (Provider, error) {
	providerType := config.Type
	if providerType == "" {
		providerType = config.Name
	}

	f.mu.RLock()
	ctor, ok := f.constructors[providerType]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}
	return ctor(config)
}

// SupportedTypes returns the list of supported provider types
func (f *ProviderFactory) SupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.constructors))
	for t := range f.constructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ConfigsFromSpecs turns configured provider specs into constructor input.
// Every provider shares the same token estimator.
func ConfigsFromSpecs(specs []config.ProviderSpec, tokens TokenEstimator) []ProviderConfig {
	configs := make([]ProviderConfig, 0, len(specs))
	for _, s := range specs {
		configs = append(configs, ProviderConfig{
			Name:        s.Name,
			Type:        s.Type,
			APIKey:      s.APIKey,
			BaseURL:     s.BaseURL,
			HealthModel: s.HealthModel,
			Pricing:     Pricing{InputPer1K: s.InputCostPer1K, OutputPer1K: s.OutputCostPer1K},
			AllowNoKey:  s.AllowNoKey,
			Tokens:      tokens,
		})
	}
	return configs
}
