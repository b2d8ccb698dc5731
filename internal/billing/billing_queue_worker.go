package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tenant_gateway/internal/queue"
	"tenant_gateway/internal/utils"
)

const drainTimeout = 10 * time.Second

// SpendUpdate is a spend increment waiting to be applied
type SpendUpdate struct {
	TenantID  string    `json:"tenant_id"`
	CostUSD   float64   `json:"cost_usd"`
	Timestamp time.Time `json:"timestamp"`
}

// SpendWriter applies a spend increment to the month containing at.
type SpendWriter interface {
	AddSpendAt(ctx context.Context, tenantID string, costUSD float64, at time.Time) error
}

// QueueWorker applies spend updates asynchronously so the request path only
// pays for an enqueue.
type QueueWorker struct {
	queue       queue.Queue[*SpendUpdate]
	dlq         queue.DeadLetterQueue[*SpendUpdate]
	writer      SpendWriter
	config      *queue.Config
	logger      *utils.Logger
	now         func() time.Time
	sleep       func(time.Duration)
	stopOnce    sync.Once
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewQueueWorker creates a new spend queue worker
func NewQueueWorker(q queue.Queue[*SpendUpdate], dlq queue.DeadLetterQueue[*SpendUpdate], writer SpendWriter, config *queue.Config) *QueueWorker {
	if config == nil {
		config = queue.DefaultConfig("billing")
	}

	return &QueueWorker{
		queue:       q,
		dlq:         dlq,
		writer:      writer,
		config:      config,
		logger:      utils.NewLogger("billing-worker"),
		now:         time.Now,
		sleep:       time.Sleep,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *QueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop stops the loop and applies whatever is still queued
func (w *QueueWorker) Stop() error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.stoppedChan
	return nil
}

// Charge enqueues a spend increment. Zero cost is not queued.
func (w *QueueWorker) Charge(ctx context.Context, tenantID string, costUSD float64) error {
	if costUSD == 0 {
		return nil
	}
	return w.Enqueue(ctx, &SpendUpdate{TenantID: tenantID, CostUSD: costUSD, Timestamp: w.now()})
}

// Enqueue adds a spend update to the queue
func (w *QueueWorker) Enqueue(ctx context.Context, update *SpendUpdate) error {
	if err := w.queue.Enqueue(ctx, update); err != nil {
		return fmt.Errorf("failed to enqueue spend update: %w", err)
	}
	return nil
}

func (w *QueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Billing worker stopping, draining queue")
			w.drain()
			return
		case <-ctx.Done():
			w.logger.Info("Billing worker context cancelled, draining queue")
			w.drain()
			return
		default:
			w.processBatch(ctx)
		}
	}
}

func (w *QueueWorker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for ctx.Err() == nil {
		n, err := w.queue.Length(ctx)
		if err != nil || n == 0 {
			return
		}
		if !w.processBatch(ctx) {
			return
		}
	}
}

// processBatch applies one batch and reports whether anything was dequeued
func (w *QueueWorker) processBatch(ctx context.Context) bool {
	updates, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
			return false
		}
		w.logger.Error("Failed to dequeue spend updates", "error", err)
		if len(updates) == 0 {
			w.sleep(1 * time.Second)
			return false
		}
	}
	if len(updates) == 0 {
		return false
	}

	w.logger.Debug("Processing billing batch", "count", len(updates))

	for _, update := range updates {
		if err := w.processItem(ctx, update); err != nil {
			w.logger.Error("Failed to apply spend update", "tenant_id", update.TenantID, "error", err)
		}
	}
	return true
}

// processItem applies a single update with retries, then dead-letters it
func (w *QueueWorker) processItem(ctx context.Context, update *SpendUpdate) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.Backoff(attempt)
			w.logger.Debug("Retrying spend update", "attempt", attempt, "backoff", backoff)
			w.sleep(backoff)
		}

		if err := w.writer.AddSpendAt(ctx, update.TenantID, update.CostUSD, update.Timestamp); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	if w.dlq != nil {
		if err := w.dlq.Add(ctx, update, lastErr); err != nil {
			w.logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			w.logger.Warn("Spend update moved to DLQ", "tenant_id", update.TenantID, "error", lastErr)
		}
	}
	return fmt.Errorf("%w: %v", queue.ErrMaxRetriesExceeded, lastErr)
}

// GetQueueLength returns the current queue length
func (w *QueueWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns items from the dead letter queue
func (w *QueueWorker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem[*SpendUpdate], error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem re-enqueues a dead-lettered update
func (w *QueueWorker) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, dlItem := range items {
		if dlItem.ID != id {
			continue
		}
		if err := w.queue.Enqueue(ctx, dlItem.Item); err != nil {
			return fmt.Errorf("failed to re-enqueue item: %w", err)
		}
		if err := w.dlq.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to remove from DLQ: %w", err)
		}
		return nil
	}
	return queue.ErrItemNotFound
}
