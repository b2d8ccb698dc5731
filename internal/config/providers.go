package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// providerCatalog is the on-disk shape of PROVIDERS_FILE.
type providerCatalog struct {
	Providers []ProviderSpec `yaml:"providers"`
}

// loadProviders builds the provider list from PROVIDERS_FILE when it is set,
// otherwise from the per-provider environment variables.
func loadProviders() ([]ProviderSpec, error) {
	if path := os.Getenv("PROVIDERS_FILE"); path != "" {
		return LoadProviderCatalog(path)
	}
	return providersFromEnv(), nil
}

// LoadProviderCatalog parses a YAML provider catalog. Entries may reference their
// credential indirectly through api_key_env so the file can be committed.
func LoadProviderCatalog(path string) ([]ProviderSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider catalog: %w", err)
	}

	var catalog providerCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse provider catalog %s: %w", path, err)
	}

	for i := range catalog.Providers {
		p := &catalog.Providers[i]
		if p.APIKey == "" && p.APIKeyEnv != "" {
			p.APIKey = os.Getenv(p.APIKeyEnv)
		}
		if p.Type == "" {
			p.Type = p.Name
		}
	}

	return catalog.Providers, nil
}

func providersFromEnv() []ProviderSpec {
	specs := []ProviderSpec{
		{
			Name:            "openai",
			Type:            "openai",
			APIKey:          getEnvString("OPENAI_API_KEY", ""),
			BaseURL:         getEnvString("OPENAI_BASE_URL", ""),
			InputCostPer1K:  getEnvFloat("OPENAI_INPUT_COST_PER_1K_TOKENS", getEnvFloat("OPENAI_COST_PER_1K_TOKENS", 0.002)),
			OutputCostPer1K: getEnvFloat("OPENAI_OUTPUT_COST_PER_1K_TOKENS", getEnvFloat("OPENAI_COST_PER_1K_TOKENS", 0.002)),
		},
		{
			Name:            "anthropic",
			Type:            "anthropic",
			APIKey:          getEnvString("ANTHROPIC_API_KEY", ""),
			BaseURL:         getEnvString("ANTHROPIC_BASE_URL", ""),
			HealthModel:     getEnvString("ANTHROPIC_HEALTH_MODEL", ""),
			InputCostPer1K:  getEnvFloat("ANTHROPIC_INPUT_COST_PER_1K_TOKENS", getEnvFloat("ANTHROPIC_COST_PER_1K_TOKENS", 0.003)),
			OutputCostPer1K: getEnvFloat("ANTHROPIC_OUTPUT_COST_PER_1K_TOKENS", getEnvFloat("ANTHROPIC_COST_PER_1K_TOKENS", 0.003)),
		},
	}

	// A keyless OpenAI-compatible server (vLLM, Ollama, ...) is only configured
	// when its base URL is given.
	if base := getEnvString("LOCAL_PROVIDER_BASE_URL", ""); base != "" {
		specs = append(specs, ProviderSpec{
			Name:            "local",
			Type:            "openai",
			BaseURL:         base,
			APIKey:          getEnvString("LOCAL_PROVIDER_API_KEY", ""),
			AllowNoKey:      true,
			InputCostPer1K:  getEnvFloat("LOCAL_INPUT_COST_PER_1K_TOKENS", 0),
			OutputCostPer1K: getEnvFloat("LOCAL_OUTPUT_COST_PER_1K_TOKENS", 0),
		})
	}

	return specs
}
