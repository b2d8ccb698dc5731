package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tenant_gateway/internal/auth"
	"tenant_gateway/internal/models"
	"tenant_gateway/internal/storage"
	"tenant_gateway/internal/utils"
)

// ErrInvalidTenant is returned for malformed creation requests.
var ErrInvalidTenant = errors.New("invalid tenant")

// CreateRequest holds the operator-supplied fields of a new tenant.
type CreateRequest struct {
	Name             string
	RateLimit        int      // requests per minute, 0 uses the default
	MonthlyBudgetUSD *float64 // nil for no ceiling
}

// Manager provisions tenants.
type Manager struct {
	store            Store
	defaultRateLimit int
	generateKey      func() (string, error)
}

// NewManager creates a manager applying defaultRateLimit when none is given.
func NewManager(store Store, defaultRateLimit int) *Manager {
	return &Manager{
		store:            store,
		defaultRateLimit: defaultRateLimit,
		generateKey:      auth.GenerateTenantKey,
	}
}

// Create stores a new active tenant and returns it with its plaintext key.
// The key cannot be recovered later.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*models.Tenant, string, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, "", fmt.Errorf("%w: name is required", ErrInvalidTenant)
	}
	if req.RateLimit < 0 {
		return nil, "", fmt.Errorf("%w: rate_limit must not be negative", ErrInvalidTenant)
	}
	if req.MonthlyBudgetUSD != nil && *req.MonthlyBudgetUSD < 0 {
		return nil, "", fmt.Errorf("%w: monthly_budget must not be negative", ErrInvalidTenant)
	}

	rateLimit := req.RateLimit
	if rateLimit == 0 {
		rateLimit = m.defaultRateLimit
	}

	key, err := m.generateKey()
	if err != nil {
		return nil, "", err
	}

	t := &models.Tenant{
		ID:                 uuid.New(),
		Name:               name,
		CredentialHash:     utils.HashCredential(key),
		RateLimitPerMinute: rateLimit,
		MonthlyBudgetUSD:   req.MonthlyBudgetUSD,
		Active:             true,
	}
	if err := m.store.Create(ctx, t); err != nil {
		return nil, "", fmt.Errorf("failed to create tenant: %w", err)
	}
	return t, key, nil
}

// Get returns a tenant by ID.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	t, err := m.store.GetByID(ctx, id)
	if errors.Is(err, storage.ErrTenantNotFound) {
		return nil, ErrNotFound
	}
	return t, err
}
