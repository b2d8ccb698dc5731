// Package tenant resolves credentials to tenants and provisions new ones.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"

	"tenant_gateway/internal/models"
	"tenant_gateway/internal/storage"
	"tenant_gateway/internal/utils"
)

// ErrNotFound is returned for unknown and inactive credentials alike so the
// caller cannot tell them apart.
var ErrNotFound = errors.New("tenant not found")

// Directory resolves a plaintext credential to an active tenant.
type Directory interface {
	LookupByCredential(ctx context.Context, secret string) (*models.Tenant, error)
}

// Store is the persistence the directory reads from.
type Store interface {
	GetByCredentialHash(ctx context.Context, hash string) (*models.Tenant, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	Create(ctx context.Context, tenant *models.Tenant) error
}

// CachedDirectory fronts a Store with an in-process cache keyed by the
// credential digest. The plaintext credential is never kept.
type CachedDirectory struct {
	store  Store
	cache  *ristretto.Cache[string, *models.Tenant]
	ttl    time.Duration
	logger *utils.Logger
}

// NewCachedDirectory creates a directory caching up to size tenants for ttl.
func NewCachedDirectory(store Store, size int64, ttl time.Duration) (*CachedDirectory, error) {
	if size <= 0 {
		size = 10_000
	}
	// Cost is one per tenant, so MaxCost is a tenant count.
	cache, err := ristretto.NewCache(&ristretto.Config[string, *models.Tenant]{
		NumCounters:        size * 10,
		MaxCost:            size,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant cache: %w", err)
	}
	return &CachedDirectory{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: utils.NewLogger("tenant"),
	}, nil
}

// LookupByCredential returns the active tenant owning secret.
func (d *CachedDirectory) LookupByCredential(ctx context.Context, secret string) (*models.Tenant, error) {
	if secret == "" {
		return nil, ErrNotFound
	}
	hash := utils.HashCredential(secret)

	if t, ok := d.cache.Get(hash); ok {
		return checkActive(t, hash)
	}

	t, err := d.store.GetByCredentialHash(ctx, hash)
	if errors.Is(err, storage.ErrTenantNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenant lookup failed: %w", err)
	}

	if d.ttl > 0 {
		d.cache.SetWithTTL(hash, t, 1, d.ttl)
		d.cache.Wait()
	}
	return checkActive(t, hash)
}

// checkActive also re-verifies the digest in constant time, guarding
// against a store that matched loosely.
func checkActive(t *models.Tenant, hash string) (*models.Tenant, error) {
	if t == nil || !t.Active || !utils.EqualDigests(t.CredentialHash, hash) {
		return nil, ErrNotFound
	}
	return t, nil
}

// Invalidate drops a cached credential, used after deactivation.
func (d *CachedDirectory) Invalidate(credentialHash string) {
	d.cache.Del(credentialHash)
}

// Close releases the cache.
func (d *CachedDirectory) Close() {
	d.cache.Close()
}
