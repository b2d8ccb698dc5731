package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

type testItem struct {
	ID   int    `json:"id"`
	Note string `json:"note"`
}

func TestMemoryQueue_EnqueueDequeue(t *testing.T) {
	config := DefaultConfig("test")
	config.BatchSize = 10
	q := NewMemoryQueue[testItem](config)
	defer q.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, testItem{ID: i}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	length, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if length != 3 {
		t.Errorf("Expected length 3, got %d", length)
	}

	items, err := q.Dequeue(ctx, 2)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 2 || items[0].ID != 0 || items[1].ID != 1 {
		t.Errorf("Unexpected first batch: %+v", items)
	}

	items, err = q.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != 2 {
		t.Errorf("Unexpected second batch: %+v", items)
	}
}

func TestMemoryQueue_DequeueWithTimeout(t *testing.T) {
	q := NewMemoryQueue[testItem](nil)
	defer q.Close()

	start := time.Now()
	items, err := q.DequeueWithTimeout(context.Background(), 10, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("DequeueWithTimeout failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected empty batch, got %d items", len(items))
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Returned before the timeout: %v", elapsed)
	}
}

func TestMemoryQueue_ContextCancel(t *testing.T) {
	q := NewMemoryQueue[testItem](nil)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestMemoryQueue_FullBufferRejectsImmediately(t *testing.T) {
	config := DefaultConfig("full")
	config.Capacity = 1
	q := NewMemoryQueue[testItem](config)
	defer q.Close()

	if err := q.Enqueue(context.Background(), testItem{ID: 1}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	start := time.Now()
	if err := q.Enqueue(context.Background(), testItem{ID: 2}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull on full buffer, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Enqueue on a full buffer waited %v", elapsed)
	}

	items, err := q.Dequeue(context.Background(), 10)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != 1 {
		t.Errorf("Expected only the first item, got %v", items)
	}
	if err := q.Enqueue(context.Background(), testItem{ID: 3}); err != nil {
		t.Errorf("Enqueue after draining failed: %v", err)
	}
}

func TestMemoryQueue_EnqueueCancelledContext(t *testing.T) {
	q := NewMemoryQueue[testItem](nil)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Enqueue(ctx, testItem{ID: 1}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if n, _ := q.Length(context.Background()); n != 0 {
		t.Errorf("Expected empty queue, got %d items", n)
	}
}

func TestMemoryQueue_CloseDrains(t *testing.T) {
	q := NewMemoryQueue[testItem](nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := q.Enqueue(ctx, testItem{ID: i}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	if err := q.Enqueue(ctx, testItem{ID: 3}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}

	items, err := q.DequeueWithTimeout(ctx, 10, time.Second)
	if err != nil {
		t.Fatalf("Buffered items should survive Close: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("Expected 2 buffered items, got %d", len(items))
	}

	if _, err := q.DequeueWithTimeout(ctx, 10, time.Second); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed once drained, got %v", err)
	}
}

func TestMemoryDeadLetterQueue(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue[testItem]()
	ctx := context.Background()

	if err := dlq.Add(ctx, testItem{ID: 1}, errors.New("db down")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := dlq.Add(ctx, testItem{ID: 2}, nil); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	items, err := dlq.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].Error != "db down" || items[0].Item.ID != 1 {
		t.Errorf("Unexpected first item: %+v", items[0])
	}
	if items[1].Error != "unknown error" {
		t.Errorf("Expected placeholder error, got %q", items[1].Error)
	}
	if items[0].ID == items[1].ID {
		t.Error("Dead letter IDs must be unique")
	}

	if err := dlq.Remove(ctx, items[0].ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := dlq.Remove(ctx, items[0].ID); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}

	limited, _ := dlq.List(ctx, 1)
	if len(limited) != 1 || limited[0].Item.ID != 2 {
		t.Errorf("Unexpected remaining items: %+v", limited)
	}

	dlq.Close()
	if err := dlq.Add(ctx, testItem{}, nil); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
}

func TestConfig_Backoff(t *testing.T) {
	config := DefaultConfig("backoff")
	config.RetryBackoff = 100 * time.Millisecond

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := config.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestNew_Backends(t *testing.T) {
	q, dlq, err := New[testItem]("memory", nil, DefaultConfig("x"))
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	if _, ok := q.(*MemoryQueue[testItem]); !ok {
		t.Errorf("Expected *MemoryQueue, got %T", q)
	}
	if _, ok := dlq.(*MemoryDeadLetterQueue[testItem]); !ok {
		t.Errorf("Expected *MemoryDeadLetterQueue, got %T", dlq)
	}

	if _, _, err := New[testItem]("redis", nil, DefaultConfig("x")); err == nil {
		t.Error("Expected error for redis backend without client")
	}
	if _, _, err := New[testItem]("kafka", nil, DefaultConfig("x")); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Expected ErrUnknownBackend, got %v", err)
	}
}
