package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return client, mr
}

func TestRateLimiter_Admit(t *testing.T) {
	t.Run("allows requests within limit", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		limiter := NewRateLimiter(client)
		ctx := context.Background()

		limit := 5
		for i := 0; i < 5; i++ {
			d, err := limiter.Admit(ctx, "tenant-1", limit)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, limit-i-1, d.Remaining)
			assert.Zero(t, d.RetryAfter)
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		limiter := NewRateLimiter(client)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			d, err := limiter.Admit(ctx, "tenant-2", 3)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
		}

		d, err := limiter.Admit(ctx, "tenant-2", 3)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, 0, d.Remaining)
		assert.Equal(t, 60*time.Second, d.RetryAfter)
	})

	t.Run("limit of two admits twice then rejects", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		limiter := NewRateLimiter(client)
		ctx := context.Background()

		first, err := limiter.Admit(ctx, "tenant-3", 2)
		require.NoError(t, err)
		second, err := limiter.Admit(ctx, "tenant-3", 2)
		require.NoError(t, err)
		third, err := limiter.Admit(ctx, "tenant-3", 2)
		require.NoError(t, err)

		assert.True(t, first.Allowed)
		assert.Equal(t, 1, first.Remaining)
		assert.True(t, second.Allowed)
		assert.Equal(t, 0, second.Remaining)
		assert.False(t, third.Allowed)
		assert.Equal(t, DefaultWindow, third.RetryAfter)
	})

	t.Run("unlimited when limit is 0", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		limiter := NewRateLimiter(client)
		ctx := context.Background()

		for i := 0; i < 100; i++ {
			d, err := limiter.Admit(ctx, "tenant-unlimited", 0)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, -1, d.Remaining)
		}
		assert.False(t, mr.Exists("ratelimit:tenant-unlimited"))
	})

	t.Run("tenants are isolated", func(t *testing.T) {
		client, _ := setupTestRedis(t)
		limiter := NewRateLimiter(client)
		ctx := context.Background()

		d, err := limiter.Admit(ctx, "tenant-a", 1)
		require.NoError(t, err)
		assert.True(t, d.Allowed)

		d, err = limiter.Admit(ctx, "tenant-b", 1)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("store failure is returned", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		limiter := NewRateLimiter(client)
		mr.Close()

		_, err := limiter.Admit(context.Background(), "tenant-x", 5)
		require.Error(t, err)
	})
}

func TestRateLimiter_FixedWindow(t *testing.T) {
	t.Run("counter carries the window ttl", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		limiter := NewRateLimiter(client)

		_, err := limiter.Admit(context.Background(), "tenant-ttl", 10)
		require.NoError(t, err)

		assert.Equal(t, "1", mustGet(t, mr, "ratelimit:tenant-ttl"))
		assert.Equal(t, 60*time.Second, mr.TTL("ratelimit:tenant-ttl"))
	})

	t.Run("increments do not extend the window", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		limiter := NewRateLimiter(client)
		ctx := context.Background()

		_, err := limiter.Admit(ctx, "tenant-fixed", 10)
		require.NoError(t, err)
		mr.FastForward(40 * time.Second)
		_, err = limiter.Admit(ctx, "tenant-fixed", 10)
		require.NoError(t, err)

		assert.Equal(t, 20*time.Second, mr.TTL("ratelimit:tenant-fixed"))
	})

	t.Run("window resets after expiry", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		limiter := NewRateLimiter(client)
		ctx := context.Background()

		for i := 0; i < 2; i++ {
			d, err := limiter.Admit(ctx, "tenant-reset", 2)
			require.NoError(t, err)
			require.True(t, d.Allowed)
		}
		d, err := limiter.Admit(ctx, "tenant-reset", 2)
		require.NoError(t, err)
		assert.False(t, d.Allowed)

		mr.FastForward(60 * time.Second)

		d, err = limiter.Admit(ctx, "tenant-reset", 2)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 1, d.Remaining)
	})

	t.Run("burst across a boundary exceeds the limit within a wall-clock minute", func(t *testing.T) {
		client, mr := setupTestRedis(t)
		limiter := NewRateLimiter(client)
		ctx := context.Background()
		limit := 3

		// First request opens the window, then idle until just before it closes.
		admitted := 0
		d, err := limiter.Admit(ctx, "tenant-burst", limit)
		require.NoError(t, err)
		if d.Allowed {
			admitted++
		}
		mr.FastForward(59 * time.Second)
		for i := 0; i < limit; i++ {
			d, err := limiter.Admit(ctx, "tenant-burst", limit)
			require.NoError(t, err)
			if d.Allowed {
				admitted++
			}
		}
		assert.Equal(t, limit, admitted, "the first window admits exactly the limit")

		// One second later a new window opens and the burst continues.
		mr.FastForward(1 * time.Second)
		for i := 0; i < limit; i++ {
			d, err := limiter.Admit(ctx, "tenant-burst", limit)
			require.NoError(t, err)
			if d.Allowed {
				admitted++
			}
		}

		// Twice the limit got in within a single wall-clock minute.
		assert.Equal(t, 2*limit, admitted)
	})
}

func TestRateLimiter_ConcurrentAdmissions(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewRateLimiter(client)
	ctx := context.Background()

	const limit = 10
	const callers = 50

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := limiter.Admit(ctx, "tenant-race", limit)
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), allowed.Load())
}

func TestRateLimiter_GetCurrentUsage(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewRateLimiter(client)
	ctx := context.Background()

	usage, err := limiter.GetCurrentUsage(ctx, "tenant-usage")
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage)

	for i := 0; i < 3; i++ {
		_, err := limiter.Admit(ctx, "tenant-usage", 10)
		require.NoError(t, err)
	}

	usage, err = limiter.GetCurrentUsage(ctx, "tenant-usage")
	require.NoError(t, err)
	assert.Equal(t, int64(3), usage)
}

func TestRateLimiter_Reset(t *testing.T) {
	client, _ := setupTestRedis(t)
	limiter := NewRateLimiter(client)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := limiter.Admit(ctx, "tenant-r", 2)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := limiter.Admit(ctx, "tenant-r", 2)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	require.NoError(t, limiter.Reset(ctx, "tenant-r"))

	d, err = limiter.Admit(ctx, "tenant-r", 2)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
}

func TestNewRateLimiterWithWindow(t *testing.T) {
	client, mr := setupTestRedis(t)
	limiter := NewRateLimiterWithWindow(client, 10*time.Second)

	d, err := limiter.Admit(context.Background(), "tenant-w", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 10*time.Second, mr.TTL("ratelimit:tenant-w"))

	d, err = limiter.Admit(context.Background(), "tenant-w", 1)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d.RetryAfter)

	assert.Equal(t, DefaultWindow, NewRateLimiterWithWindow(client, 0).Window())
}

func TestNoopLimiter(t *testing.T) {
	limiter := NewNoopLimiter()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		d, err := limiter.Admit(ctx, "any-tenant", 1)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
