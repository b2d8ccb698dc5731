package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicDefaultBaseURL     = "https://api.anthropic.com/v1"
	anthropicAPIVersion         = "2023-06-01"
	anthropicDefaultHealthModel = "claude-3-haiku-20240307"
	// anthropicDefaultMaxTokens is used when the caller did not set one; the
	// Messages API requires the field.
	anthropicDefaultMaxTokens = 1000
)

// AnthropicProvider implements Provider for the Anthropic Messages API.
type AnthropicProvider struct {
	name        string
	backend     *backend
	pricing     Pricing
	tokens      TokenEstimator
	healthModel string
}

// NewAnthropicProvider creates a new Anthropic provider instance
func NewAnthropicProvider(config ProviderConfig) (Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%s: api key missing: %w", config.Name, ErrNotConfigured)
	}

	baseURL := anthropicDefaultBaseURL
	if config.BaseURL != "" {
		baseURL = config.BaseURL
	}
	healthModel := anthropicDefaultHealthModel
	if config.HealthModel != "" {
		healthModel = config.HealthModel
	}
	client := config.HTTPClient
	if client == nil {
		client = newHTTPClient()
	}
	name := config.Name
	if name == "" {
		name = "anthropic"
	}

	return &AnthropicProvider{
		name: name,
		backend: &backend{
			provider: name,
			baseURL:  baseURL,
			auth:     NewHeaderAuth(config.APIKey, "x-api-key", ""),
			client:   client,
			headers:  map[string]string{"anthropic-version": anthropicAPIVersion},
		},
		pricing:     config.Pricing,
		tokens:      config.Tokens,
		healthModel: healthModel,
	}, nil
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return p.name
}

// Type returns the provider type
func (p *AnthropicProvider) Type() string {
	return "anthropic"
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// splitSystem pulls system messages out of the history. Anthropic takes the
// system prompt as a separate field and rejects the role inside messages.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// Complete sends a Messages API request
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	system, messages := splitSystem(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	temperature := req.Temperature

	var out anthropicResponse
	err := p.backend.do(ctx, http.MethodPost, "/messages", anthropicRequest{
		Model:       req.Model,
		System:      system,
		Messages:    messages,
		Temperature: &temperature,
		MaxTokens:   maxTokens,
	}, &out)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if len(out.Content) == 0 {
		return nil, &Error{Provider: p.name, StatusCode: http.StatusOK, Message: "no content blocks in response", Cause: ErrEmptyResponse}
	}

	resp := &CompletionResponse{
		Content:         text.String(),
		Model:           out.Model,
		Provider:        p.name,
		FinishReason:    out.StopReason,
		ProviderLatency: time.Since(start),
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	if out.Usage != nil {
		resp.PromptTokens = out.Usage.InputTokens
		resp.CompletionTokens = out.Usage.OutputTokens
	} else {
		fillEstimatedUsage(p.tokens, req, resp)
	}

	return resp, nil
}

// Cost prices a call
func (p *AnthropicProvider) Cost(promptTokens, completionTokens int) float64 {
	return p.pricing.Cost(promptTokens, completionTokens)
}

// Health sends a tiny real completion; Anthropic has no free endpoint that
// validates the key.
func (p *AnthropicProvider) Health(ctx context.Context) error {
	return p.backend.do(ctx, http.MethodPost, "/messages", anthropicRequest{
		Model:     p.healthModel,
		Messages:  []Message{{Role: RoleUser, Content: "Hi"}},
		MaxTokens: 10,
	}, nil)
}

// Close cleans up resources
func (p *AnthropicProvider) Close() error {
	p.backend.close()
	return nil
}
