package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tenant_gateway/internal/utils"
)

// DefaultSpendTTL keeps a month's counter around long enough to read it back
// after the month has closed.
const DefaultSpendTTL = 60 * 24 * time.Hour

// Tracker keeps running monthly spend per tenant and answers budget checks.
type Tracker interface {
	// WithinBudget reports whether the tenant may run another request. A nil
	// budget means unlimited. Store failures allow the request.
	WithinBudget(ctx context.Context, tenantID string, budget *float64) bool
	AddSpend(ctx context.Context, tenantID string, costUSD float64) error
	MonthlySpend(ctx context.Context, tenantID string) (float64, error)
}

// NoopTracker does not enforce budgets and discards spend.
type NoopTracker struct{}

func NewNoopTracker() *NoopTracker {
	return &NoopTracker{}
}

func (t *NoopTracker) WithinBudget(ctx context.Context, tenantID string, budget *float64) bool {
	return true
}

func (t *NoopTracker) AddSpend(ctx context.Context, tenantID string, costUSD float64) error {
	return nil
}

func (t *NoopTracker) MonthlySpend(ctx context.Context, tenantID string) (float64, error) {
	return 0, nil
}

// addSpendScript increments the month's counter and refreshes its expiry.
var addSpendScript = redis.NewScript(`
local total = redis.call('INCRBYFLOAT', KEYS[1], ARGV[1])
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[2]))
return total
`)

// RedisTracker stores spend in Redis under spend:<tenant>:<yyyy>:<mm>.
type RedisTracker struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *utils.Logger
	now    func() time.Time
}

// NewRedisTracker creates a Redis-backed spend tracker
func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = DefaultSpendTTL
	}
	return &RedisTracker{
		redis:  client,
		ttl:    ttl,
		logger: utils.NewLogger("billing"),
		now:    time.Now,
	}
}

// WithinBudget checks the tenant's current month against its budget
func (t *RedisTracker) WithinBudget(ctx context.Context, tenantID string, budget *float64) bool {
	if budget == nil {
		return true
	}

	spent, err := t.MonthlySpend(ctx, tenantID)
	if err != nil {
		t.logger.Warn("Budget check failed, allowing request", "tenant_id", tenantID, "error", err)
		return true
	}
	return spent < *budget
}

// AddSpend adds cost to the tenant's current month
func (t *RedisTracker) AddSpend(ctx context.Context, tenantID string, costUSD float64) error {
	return t.AddSpendAt(ctx, tenantID, costUSD, t.now())
}

// AddSpendAt adds cost to the month containing at. Queued updates use it so a
// spend that crosses midnight on the last day lands in the right month.
func (t *RedisTracker) AddSpendAt(ctx context.Context, tenantID string, costUSD float64, at time.Time) error {
	if costUSD == 0 {
		return nil
	}
	at = at.UTC()
	key := monthlyKey(tenantID, at.Year(), int(at.Month()))

	ttl := int64(t.ttl / time.Second)
	if err := addSpendScript.Run(ctx, t.redis, []string{key}, costUSD, ttl).Err(); err != nil {
		return fmt.Errorf("failed to add spend: %w", err)
	}
	return nil
}

// MonthlySpend returns the current month's spend for a tenant
func (t *RedisTracker) MonthlySpend(ctx context.Context, tenantID string) (float64, error) {
	now := t.now().UTC()
	return t.Spend(ctx, tenantID, now.Year(), int(now.Month()))
}

// Spend returns spend for a specific month
func (t *RedisTracker) Spend(ctx context.Context, tenantID string, year, month int) (float64, error) {
	val, err := t.redis.Get(ctx, monthlyKey(tenantID, year, month)).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get spend: %w", err)
	}
	return val, nil
}

// ResetMonthlySpend clears the current month for a tenant (admin use)
func (t *RedisTracker) ResetMonthlySpend(ctx context.Context, tenantID string) error {
	now := t.now().UTC()
	return t.redis.Del(ctx, monthlyKey(tenantID, now.Year(), int(now.Month()))).Err()
}

func monthlyKey(tenantID string, year, month int) string {
	return fmt.Sprintf("spend:%s:%d:%02d", tenantID, year, month)
}
