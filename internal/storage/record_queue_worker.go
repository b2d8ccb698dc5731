package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tenant_gateway/internal/models"
	"tenant_gateway/internal/queue"
	"tenant_gateway/internal/utils"
)

// drainTimeout bounds how long Stop spends flushing what is left in the queue.
const drainTimeout = 10 * time.Second

// RecordQueueWorker writes request records to the database asynchronously.
// It is the accounting appender for Postgres: Append only enqueues.
type RecordQueueWorker struct {
	queue       queue.Queue[*models.RequestRecord]
	dlq         queue.DeadLetterQueue[*models.RequestRecord]
	writer      RecordWriter
	config      *queue.Config
	logger      *utils.Logger
	sleep       func(time.Duration)
	stopOnce    sync.Once
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewRecordQueueWorker creates a new request record worker
func NewRecordQueueWorker(q queue.Queue[*models.RequestRecord], dlq queue.DeadLetterQueue[*models.RequestRecord], writer RecordWriter, config *queue.Config) *RecordQueueWorker {
	if config == nil {
		config = queue.DefaultConfig("records")
	}

	return &RecordQueueWorker{
		queue:       q,
		dlq:         dlq,
		writer:      writer,
		config:      config,
		logger:      utils.NewLogger("record-worker"),
		sleep:       time.Sleep,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *RecordQueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop stops the loop, then flushes whatever is still queued
func (w *RecordQueueWorker) Stop() error {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.stoppedChan
	return nil
}

// Append enqueues a record for writing
func (w *RecordQueueWorker) Append(ctx context.Context, record *models.RequestRecord) error {
	if err := w.queue.Enqueue(ctx, record); err != nil {
		return fmt.Errorf("failed to enqueue request record: %w", err)
	}
	return nil
}

func (w *RecordQueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Record worker stopping, draining queue")
			w.drain()
			return
		case <-ctx.Done():
			w.logger.Info("Record worker context cancelled, draining queue")
			w.drain()
			return
		default:
			w.processBatch(ctx)
		}
	}
}

// drain writes out remaining items with a fresh deadline, since the
// worker's own context may already be done.
func (w *RecordQueueWorker) drain() {
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

// processBatch handles one batch and reports whether anything was dequeued
func (w *RecordQueueWorker) processBatch(ctx context.Context) bool {
	records, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
			return false
		}
		w.logger.Error("Failed to dequeue request records", "error", err)
		if len(records) == 0 {
			w.sleep(1 * time.Second)
			return false
		}
	}
	if len(records) == 0 {
		return false
	}

	w.logger.Debug("Processing record batch", "count", len(records))

	if err := w.writer.InsertBatch(ctx, records); err != nil {
		w.logger.Warn("Batch insert failed, falling back to individual inserts", "count", len(records), "error", err)
		for _, record := range records {
			if err := w.processItem(ctx, record); err != nil {
				w.logger.Error("Failed to write request record", "request_id", record.RequestID, "error", err)
			}
		}
	}
	return true
}

// processItem writes a single record with retries, then dead-letters it
func (w *RecordQueueWorker) processItem(ctx context.Context, record *models.RequestRecord) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.Backoff(attempt)
			w.logger.Debug("Retrying request record", "request_id", record.RequestID, "attempt", attempt, "backoff", backoff)
			w.sleep(backoff)
		}

		if err := w.writer.Insert(ctx, record); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	if w.dlq != nil {
		if err := w.dlq.Add(ctx, record, lastErr); err != nil {
			w.logger.Error("Failed to add to dead letter queue", "request_id", record.RequestID, "error", err)
		} else {
			w.logger.Warn("Request record moved to DLQ", "request_id", record.RequestID, "error", lastErr)
		}
	}
	return fmt.Errorf("%w: %v", queue.ErrMaxRetriesExceeded, lastErr)
}

// GetQueueLength returns the current queue length
func (w *RecordQueueWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns items from the dead letter queue
func (w *RecordQueueWorker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem[*models.RequestRecord], error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem re-enqueues a dead-lettered record
func (w *RecordQueueWorker) RetryDeadLetterItem(ctx context.Context, id string) error {
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
