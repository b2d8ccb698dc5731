package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is the identity unit for isolation and billing.
type Tenant struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	Name               string    `db:"name" json:"name"`
	CredentialHash     string    `db:"credential_hash" json:"-"` // SHA-256 of the plaintext key
	RateLimitPerMinute int       `db:"rate_limit_per_minute" json:"rate_limit"`
	MonthlyBudgetUSD   *float64  `db:"monthly_budget_usd" json:"monthly_budget,omitempty"` // NULL = unlimited
	Active             bool      `db:"active" json:"active"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// HasBudget reports whether the tenant has a monthly spend ceiling.
func (t *Tenant) HasBudget() bool {
	return t.MonthlyBudgetUSD != nil
}
