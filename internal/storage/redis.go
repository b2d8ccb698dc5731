package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tenant_gateway/internal/config"
)

const redisConnectTimeout = 5 * time.Second

// NewRedisClient connects to the shared store and verifies it answers.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisHealth round-trips a short-lived key, which catches a read-only
// replica as well as a dead connection.
func RedisHealth(client *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Set(ctx, "health_check", "ok", time.Second).Err(); err != nil {
			return fmt.Errorf("redis write failed: %w", err)
		}
		val, err := client.Get(ctx, "health_check").Result()
		if err != nil {
			return fmt.Errorf("redis read failed: %w", err)
		}
		if val != "ok" {
			return fmt.Errorf("redis health check value mismatch")
		}
		return nil
	}
}
