package providers

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const openAIDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements Provider for the OpenAI chat completions API and
// any server that speaks it.
type OpenAIProvider struct {
	name    string
	backend *backend
	pricing Pricing
	tokens  TokenEstimator
}

// NewOpenAIProvider creates a new OpenAI provider instance
func NewOpenAIProvider(config ProviderConfig) (Provider, error) {
	var auth Authenticator = NoAuth{}
	switch {
	case config.APIKey != "":
		auth = NewHeaderAuth(config.APIKey, "Authorization", "Bearer ")
	case !config.AllowNoKey:
		return nil, fmt.Errorf("%s: api key missing: %w", config.Name, ErrNotConfigured)
	}

	baseURL := openAIDefaultBaseURL
	if config.BaseURL != "" {
		baseURL = config.BaseURL
	}

	client := config.HTTPClient
	if client == nil {
		client = newHTTPClient()
	}

	name := config.Name
	if name == "" {
		name = "openai"
	}

	return &OpenAIProvider{
		name: name,
		backend: &backend{
			provider: name,
			baseURL:  baseURL,
			auth:     auth,
			client:   client,
		},
		pricing: config.Pricing,
		tokens:  config.Tokens,
	}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Type returns the provider type
func (p *OpenAIProvider) Type() string {
	return "openai"
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		// Responses-API style names some compatible servers emit instead
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends a chat completion request
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	var out openAIResponse
	err := p.backend.do(ctx, http.MethodPost, "/chat/completions", openAIRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}, &out)
	if err != nil {
		return nil, err
	}

	if len(out.Choices) == 0 {
		return nil, &Error{Provider: p.name, StatusCode: http.StatusOK, Message: "no choices in response", Cause: ErrEmptyResponse}
	}

	resp := &CompletionResponse{
		Content:         out.Choices[0].Message.Content,
		Model:           out.Model,
		Provider:        p.name,
		FinishReason:    out.Choices[0].FinishReason,
		ProviderLatency: time.Since(start),
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}

	if out.Usage != nil {
		resp.PromptTokens = out.Usage.PromptTokens
		resp.CompletionTokens = out.Usage.CompletionTokens
		if resp.PromptTokens == 0 && out.Usage.InputTokens > 0 {
			resp.PromptTokens = out.Usage.InputTokens
		}
		if resp.CompletionTokens == 0 && out.Usage.OutputTokens > 0 {
			resp.CompletionTokens = out.Usage.OutputTokens
		}
	} else {
		fillEstimatedUsage(p.tokens, req, resp)
	}

	return resp, nil
}

// Cost prices a call
func (p *OpenAIProvider) Cost(promptTokens, completionTokens int) float64 {
	return p.pricing.Cost(promptTokens, completionTokens)
}

// Health lists models, which needs a valid key but costs nothing
func (p *OpenAIProvider) Health(ctx context.Context) error {
	return p.backend.do(ctx, http.MethodGet, "/models", nil, nil)
}

// Close cleans up resources
func (p *OpenAIProvider) Close() error {
	p.backend.close()
	return nil
}
