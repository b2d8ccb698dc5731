// Package queue moves work off the request path. Request records and spend
// updates are enqueued by the pipeline and drained in batches by background
// workers, with a dead-letter queue for items that keep failing.
//
// Two backends are provided:
//
//   - memory: a buffered channel. Nothing survives a restart. Good for a
//     single instance and for tests.
//   - redis: a Redis list per queue and a hash per dead-letter queue, shared
//     by every gateway instance pointing at the same store.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue is a FIFO of T.
type Queue[T any] interface {
	// Enqueue adds an item to the queue. Bounded backends return ErrQueueFull
	// instead of waiting for room.
	Enqueue(ctx context.Context, item T) error

	// Dequeue blocks until at least one item is available and returns up to maxItems
	Dequeue(ctx context.Context, maxItems int) ([]T, error)

	// DequeueWithTimeout is Dequeue that gives up after timeout with an empty batch
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]T, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	Close() error
}

// DeadLetterQueue holds items whose processing failed after all retries.
type DeadLetterQueue[T any] interface {
	Add(ctx context.Context, item T, err error) error
	// List returns up to maxItems, oldest first; maxItems <= 0 means all
	List(ctx context.Context, maxItems int) ([]DeadLetterItem[T], error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// DeadLetterItem is a failed item with the reason it failed.
type DeadLetterItem[T any] struct {
	ID        string    `json:"id"`
	Item      T         `json:"item"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds queue and worker settings
type Config struct {
	// Name keys the Redis list (queue:<name>) and hash (dlq:<name>)
	Name string

	// BatchSize is the maximum number of items processed together
	BatchSize int

	// BatchTimeout is how long a worker waits for the first item of a batch
	BatchTimeout time.Duration

	// MaxRetries is the number of retries after the first failed attempt
	MaxRetries int

	// RetryBackoff is the delay before the first retry; it doubles each time
	RetryBackoff time.Duration

	// Capacity bounds the memory backend. Defaults to ten batches.
	Capacity int
}

// DefaultConfig returns default queue configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:         name,
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
	}
}

// Backoff returns the delay before retry number attempt (1-based).
func (c *Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return c.RetryBackoff * time.Duration(1<<uint(attempt-1))
}

// New builds a queue and its dead-letter queue on the named backend.
func New[T any](backend string, client *redis.Client, config *Config) (Queue[T], DeadLetterQueue[T], error) {
	switch backend {
	case "", "memory":
		return NewMemoryQueue[T](config), NewMemoryDeadLetterQueue[T](), nil
	case "redis":
		if client == nil {
			return nil, nil, fmt.Errorf("redis queue %s: client is required", config.Name)
		}
		return NewRedisQueue[T](client, config), NewRedisDeadLetterQueue[T](client, config.Name), nil
	default:
		return nil, nil, fmt.Errorf("%w %q", ErrUnknownBackend, backend)
	}
}
