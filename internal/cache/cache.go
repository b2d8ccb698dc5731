// Package cache stores completed responses by request fingerprint.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps every store failure. Callers treat it as a miss.
var ErrUnavailable = errors.New("response cache unavailable")

// Entry is what a cache hit returns. Token counts are deliberately absent: a
// hit costs nothing and reports zero usage.
type Entry struct {
	Content  string `json:"content"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

// ResponseCache looks up and stores completions by fingerprint.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Put(ctx context.Context, key string, entry Entry, ttl time.Duration) error
}

// RedisCache keeps entries as JSON strings with a TTL.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a cache on an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns (nil, false, nil) on a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A corrupt value is a miss; the next successful call overwrites it.
		return nil, false, fmt.Errorf("%w: decode %s: %v", ErrUnavailable, key, err)
	}
	return &entry, true, nil
}

// Put stores entry under key. A non-positive ttl is rejected so nothing is
// ever cached forever.
func (c *RedisCache) Put(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl must be positive, got %s", ErrUnavailable, ttl)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrUnavailable, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// DisabledCache always misses and drops writes.
type DisabledCache struct{}

func (DisabledCache) Get(context.Context, string) (*Entry, bool, error) {
	return nil, false, nil
}

func (DisabledCache) Put(context.Context, string, Entry, time.Duration) error {
	return nil
}

// New returns a RedisCache when enabled, otherwise a DisabledCache.
func New(enabled bool, client *redis.Client) ResponseCache {
	if !enabled || client == nil {
		return DisabledCache{}
	}
	return NewRedisCache(client)
}
