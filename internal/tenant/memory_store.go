package tenant

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tenant_gateway/internal/models"
	"tenant_gateway/internal/storage"
)

// MemoryStore is a Store kept in process memory, for tests and local runs
// without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	byHash  map[string]*models.Tenant
	byID    map[uuid.UUID]*models.Tenant
	lookups int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[string]*models.Tenant),
		byID:   make(map[uuid.UUID]*models.Tenant),
	}
}

func (s *MemoryStore) GetByCredentialHash(ctx context.Context, hash string) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	t, ok := s.byHash[hash]
	if !ok {
		return nil, storage.ErrTenantNotFound
	}
	c := *t
	return &c, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrTenantNotFound
	}
	c := *t
	return &c, nil
}

func (s *MemoryStore) Create(ctx context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byHash[tenant.CredentialHash]; taken {
		return storage.ErrDuplicateCredential
	}
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now().UTC()
	}
	c := *tenant
	s.byHash[c.CredentialHash] = &c
	s.byID[c.ID] = &c
	return nil
}

// SetActive flips a tenant's active flag.
func (s *MemoryStore) SetActive(id uuid.UUID, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.byID[id]; ok {
		t.Active = active
	}
}

// Lookups counts credential lookups that reached the store.
func (s *MemoryStore) Lookups() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookups
}
