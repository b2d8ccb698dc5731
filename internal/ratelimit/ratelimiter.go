// Package ratelimit implements per-tenant admission against a shared Redis counter.
//
// The scheme is a fixed window: the first admitted request in a window creates
// the counter with the window as its TTL, later requests increment it, and the
// counter disappears when the TTL elapses. A burst that straddles a window
// boundary can therefore admit up to twice the limit within one wall-clock
// minute; that is the accepted behaviour of a fixed window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultWindow is the length of a quota window.
const DefaultWindow = 60 * time.Second

// Decision is the result of one admission check.
type Decision struct {
	Allowed bool
	// Remaining is limit minus the count after this request, 0 when rejected
	// and -1 when the tenant is unlimited.
	Remaining int
	// RetryAfter is the suggested wait on rejection. It is always the full
	// window rather than the counter's actual TTL.
	RetryAfter time.Duration
}

// Limiter decides whether a tenant may issue another request.
type Limiter interface {
	Admit(ctx context.Context, tenantID string, limit int) (Decision, error)
}

// fixedWindowScript atomically checks and increments the counter.
// Returns {allowed, count}.
var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local current = redis.call('GET', key)
if not current then
	redis.call('SET', key, 1, 'EX', window)
	return {1, 1}
end

current = tonumber(current)
if current >= limit then
	return {0, current}
end

local count = redis.call('INCR', key)
if redis.call('TTL', key) < 0 then
	redis.call('EXPIRE', key, window)
end
return {1, count}
`)

// RedisLimiter is a fixed-window Limiter backed by Redis.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
}

// NewRateLimiter creates a fixed-window limiter with the default 60s window.
func NewRateLimiter(client *redis.Client) *RedisLimiter {
	return NewRateLimiterWithWindow(client, DefaultWindow)
}

// NewRateLimiterWithWindow creates a fixed-window limiter with a custom window.
func NewRateLimiterWithWindow(client *redis.Client, window time.Duration) *RedisLimiter {
	if window < time.Second {
		window = DefaultWindow
	}
	return &RedisLimiter{client: client, window: window}
}

// Admit checks and consumes one unit of the tenant's quota.
func (l *RedisLimiter) Admit(ctx context.Context, tenantID string, limit int) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	res, err := fixedWindowScript.Run(ctx, l.client, []string{l.key(tenantID)}, limit, int(l.window/time.Second)).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("quota check failed: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("quota check returned %d values", len(res))
	}

	if res[0] == 0 {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: l.window}, nil
	}

	remaining := limit - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining}, nil
}

// GetCurrentUsage returns the count in the tenant's current window.
func (l *RedisLimiter) GetCurrentUsage(ctx context.Context, tenantID string) (int64, error) {
	n, err := l.client.Get(ctx, l.key(tenantID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quota counter: %w", err)
	}
	return n, nil
}

// Reset clears the tenant's current window.
func (l *RedisLimiter) Reset(ctx context.Context, tenantID string) error {
	return l.client.Del(ctx, l.key(tenantID)).Err()
}

// Window returns the configured window length.
func (l *RedisLimiter) Window() time.Duration {
	return l.window
}

func (l *RedisLimiter) key(tenantID string) string {
	return fmt.Sprintf("ratelimit:%s", tenantID)
}

// NoopLimiter admits everything. Used when quotas are disabled.
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (NoopLimiter) Admit(ctx context.Context, tenantID string, limit int) (Decision, error) {
	return Decision{Allowed: true, Remaining: -1}, nil
}
