package providers

import (
	"context"
	"net/http"
	"time"
)

// Message roles accepted by the gateway.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged entry of a chat history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ValidRole reports whether role is one of system, user or assistant.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// CompletionRequest is the provider-neutral request handed to every backend.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// CompletionResponse is a normalized provider response.
type CompletionResponse struct {
	Content          string
	Model            string // model actually used, as reported upstream
	Provider         string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	ProviderLatency  time.Duration
	// UsageEstimated is set when the upstream omitted usage and the counts
	// were computed locally.
	UsageEstimated bool
}

// TotalTokens is always derived, never reported separately.
func (r *CompletionResponse) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// Provider is implemented by each concrete upstream backend.
type Provider interface {
	// Name returns the configured name used in routing order (openai, anthropic, local, ...)
	Name() string

	// Type returns the wire protocol family (openai, anthropic)
	Type() string

	// Complete sends one non-streaming completion request upstream
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Cost prices a call with this provider's linear per-1K formula
	Cost(promptTokens, completionTokens int) float64

	// Health issues a minimal real call and returns nil when the backend answered
	Health(ctx context.Context) error

	// Close performs cleanup when the provider is no longer needed
	Close() error
}

// ProviderConfig holds configuration for creating a provider instance
type ProviderConfig struct {
	Name        string
	Type        string
	APIKey      string
	BaseURL     string
	HealthModel string
	Pricing     Pricing
	// AllowNoKey marks keyless OpenAI-compatible servers as configured.
	AllowNoKey bool
	// HTTPClient overrides the default pooled client; tests use it.
	HTTPClient *http.Client
	// Tokens fills in usage when an upstream omits it. Nil disables estimation.
	Tokens TokenEstimator
}

// Factory creates provider instances based on type and configuration
type Factory interface {
	// CreateProvider creates a new provider instance
	CreateProvider(config ProviderConfig) (Provider, error)

	// SupportedTypes returns the list of supported provider types
	SupportedTypes() []string
}
