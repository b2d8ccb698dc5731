package orchestrator

import (
	"tenant_gateway/internal/providers"
)

// Defaults applied by the transport when a field is left at its zero value.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000

	MaxTemperature = 2.0
)

// Request is one completion call as seen by the pipeline.
type Request struct {
	Credential  string
	Model       string
	Messages    []providers.Message
	Temperature float64
	MaxTokens   int
	Stream      bool
	// RequestID correlates logs and the request record. Generated when empty.
	RequestID string
}

// Validate checks the request shape. It does not look at the credential.
func (r *Request) Validate() error {
	if r.Stream {
		return invalid("streaming is not supported")
	}
	if r.Model == "" {
		return invalid("model is required")
	}
	if len(r.Messages) == 0 {
		return invalid("at least one message is required")
	}
	for i, m := range r.Messages {
		if !providers.ValidRole(m.Role) {
			return invalid("message %d has invalid role %q", i, m.Role)
		}
	}
	if r.Temperature < 0 || r.Temperature > MaxTemperature {
		return invalid("temperature must be between 0 and %g", MaxTemperature)
	}
	if r.MaxTokens < 1 {
		return invalid("max_tokens must be at least 1")
	}
	return nil
}

// Outcome is what a successful run returns to the caller.
type Outcome struct {
	Cached           bool    `json:"cached"`
	Content          string  `json:"content"`
	Model            string  `json:"model"`
	Provider         string  `json:"provider"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost"`
	LatencyMS        int64   `json:"latency_ms"`
	// RateLimitRemaining is -1 for unlimited tenants and when the quota
	// store could not be reached.
	RateLimitRemaining int    `json:"rate_limit_remaining"`
	RequestID          string `json:"request_id"`
}

// Stage is a step of the pipeline. A run only moves forward.
type Stage string

const (
	StageAdmitting  Stage = "admitting"
	StageCacheCheck Stage = "cache_check"
	StageRouting    Stage = "routing"
	StageAccounting Stage = "accounting"
	StageDone       Stage = "done"
	StageError      Stage = "error"
)
