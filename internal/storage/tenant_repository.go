package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"tenant_gateway/internal/models"
)

const tenantColumns = `id, name, credential_hash, rate_limit_per_minute, monthly_budget_usd, active, created_at`

// TenantRepository handles tenant database operations
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// GetByCredentialHash retrieves a tenant by the digest of its key.
// Inactive tenants are returned too; the caller decides.
func (r *TenantRepository) GetByCredentialHash(ctx context.Context, hash string) (*models.Tenant, error) {
	var tenant models.Tenant
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE credential_hash = $1`

	if err := r.db.conn.GetContext(ctx, &tenant, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &tenant, nil
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`

	if err := r.db.conn.GetContext(ctx, &tenant, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &tenant, nil
}

// Create inserts a tenant, filling ID and CreatedAt when unset
func (r *TenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO tenants (` + tenantColumns + `)
		VALUES (:id, :name, :credential_hash, :rate_limit_per_minute, :monthly_budget_usd, :active, :created_at)
	`
	if _, err := r.db.conn.NamedExecContext(ctx, query, tenant); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateCredential
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// SetActive enables or disables a tenant
func (r *TenantRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := r.db.conn.ExecContext(ctx, `UPDATE tenants SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update tenant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// List returns all tenants, newest first
func (r *TenantRepository) List(ctx context.Context) ([]*models.Tenant, error) {
	var tenants []*models.Tenant
	query := `SELECT ` + tenantColumns + ` FROM tenants ORDER BY created_at DESC`
	if err := r.db.conn.SelectContext(ctx, &tenants, query); err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return tenants, nil
}
