package cache

import (
	"context"
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

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisCache_RoundTrip(t *testing.T) {
	client, mr := setupTestRedis(t)
	c := NewRedisCache(client)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "cache:abc")
	require.NoError(t, err)
	assert.False(t, ok)

	entry := Entry{Content: "Hello", Model: "gpt-4o-mini", Provider: "openai"}
	require.NoError(t, c.Put(ctx, "cache:abc", entry, time.Hour))

	got, ok, err := c.Get(ctx, "cache:abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entry, *got)
	assert.Equal(t, time.Hour, mr.TTL("cache:abc"))
}

func TestRedisCache_Expiry(t *testing.T) {
	client, mr := setupTestRedis(t)
	c := NewRedisCache(client)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "cache:ttl", Entry{Content: "x"}, 10*time.Second))
	mr.FastForward(11 * time.Second)

	_, ok, err := c.Get(ctx, "cache:ttl")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_RejectsNonPositiveTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	c := NewRedisCache(client)

	err := c.Put(context.Background(), "cache:forever", Entry{Content: "x"}, 0)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, mr.Exists("cache:forever"))
}

func TestRedisCache_CorruptValue(t *testing.T) {
	client, mr := setupTestRedis(t)
	c := NewRedisCache(client)
	require.NoError(t, mr.Set("cache:bad", "{not json"))

	_, ok, err := c.Get(context.Background(), "cache:bad")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRedisCache_StoreDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	c := NewRedisCache(client)
	mr.Close()

	_, ok, err := c.Get(context.Background(), "cache:any")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrUnavailable)

	err = c.Put(context.Background(), "cache:any", Entry{}, time.Minute)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDisabledCache(t *testing.T) {
	c := New(false, nil)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "cache:k", Entry{Content: "x"}, time.Hour))
	got, ok, err := c.Get(ctx, "cache:k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestNew_Enabled(t *testing.T) {
	client, _ := setupTestRedis(t)
	assert.IsType(t, &RedisCache{}, New(true, client))
}
