package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordStatus is the outcome of one pipeline run.
type RecordStatus string

const (
	StatusSuccess RecordStatus = "success"
	StatusError   RecordStatus = "error"
	StatusCached  RecordStatus = "cached"
)

// RequestRecord is the append-only audit row written once per completed pipeline run.
type RequestRecord struct {
	ID               uuid.UUID    `db:"id" json:"id"`
	RequestID        string       `db:"request_id" json:"request_id"`
	TenantID         uuid.UUID    `db:"tenant_id" json:"tenant_id"`
	Provider         string       `db:"provider" json:"provider"`
	Model            string       `db:"model" json:"model"`
	PromptTokens     int          `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int          `db:"completion_tokens" json:"completion_tokens"`
	TotalTokens      int          `db:"total_tokens" json:"total_tokens"`
	CostUSD          float64      `db:"cost_usd" json:"cost_usd"`
	LatencyMS        int64        `db:"latency_ms" json:"latency_ms"`
	Status           RecordStatus `db:"status" json:"status"`
	ErrorMessage     *string      `db:"error_message" json:"error_message,omitempty"`
	CacheHit         bool         `db:"cache_hit" json:"cache_hit"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
}

// TokensConsistent reports whether the total matches its parts.
func (r *RequestRecord) TokensConsistent() bool {
	return r.TotalTokens == r.PromptTokens+r.CompletionTokens
}

// ProviderUsage is one row of a tenant's usage report, aggregated per provider.
type ProviderUsage struct {
	Provider     string  `db:"provider" json:"provider"`
	Requests     int64   `db:"requests" json:"requests"`
	Tokens       int64   `db:"tokens" json:"tokens"`
	CostUSD      float64 `db:"cost_usd" json:"cost"`
	AvgLatencyMS float64 `db:"avg_latency_ms" json:"avg_latency_ms"`
}
