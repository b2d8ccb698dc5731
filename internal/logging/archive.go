// Package logging archives request records to S3 as JSON Lines objects.
// Records are buffered in memory and flushed by size or on an interval,
// so the request path only pays for a channel send.
package logging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"tenant_gateway/internal/config"
	"tenant_gateway/internal/models"
	"tenant_gateway/internal/utils"
)

var (
	ErrArchiveFull   = errors.New("archive buffer full")
	ErrArchiveClosed = errors.New("archive closed")
)

const uploadTimeout = 30 * time.Second

// BatchWriter persists a batch of records and returns where it went
type BatchWriter interface {
	WriteBatch(ctx context.Context, records []*models.RequestRecord) (string, error)
}

// S3Archive is an accounting appender that ships records to S3 in batches.
type S3Archive struct {
	writer        BatchWriter
	flushSize     int
	flushInterval time.Duration
	logger        *utils.Logger

	mu     sync.RWMutex
	closed bool

	recordCh chan *models.RequestRecord
	doneCh   chan struct{}
	wg       sync.WaitGroup

	dropped atomic.Int64
	written atomic.Int64
}

// NewS3Archive starts an archive writing through writer
func NewS3Archive(writer BatchWriter, cfg config.LoggingSinkConfig) *S3Archive {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Minute
	}

	a := &S3Archive{
		writer:        writer,
		flushSize:     cfg.FlushSize,
		flushInterval: cfg.FlushInterval,
		logger:        utils.NewLogger("s3-archive"),
		recordCh:      make(chan *models.RequestRecord, cfg.BufferSize),
		doneCh:        make(chan struct{}),
	}

	a.wg.Add(1)
	go a.run()
	return a
}

// Append queues a record. It never blocks; a full buffer drops the record.
func (a *S3Archive) Append(ctx context.Context, record *models.RequestRecord) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrArchiveClosed
	}

	select {
	case a.recordCh <- record:
		return nil
	default:
		a.dropped.Add(1)
		return ErrArchiveFull
	}
}

// Shutdown flushes buffered records and stops the archive
func (a *S3Archive) Shutdown() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	close(a.doneCh)
	a.wg.Wait()
}

// Dropped returns how many records were lost to a full buffer or a failed upload
func (a *S3Archive) Dropped() int64 {
	return a.dropped.Load()
}

// Written returns how many records were uploaded
func (a *S3Archive) Written() int64 {
	return a.written.Load()
}

func (a *S3Archive) run() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	batch := make([]*models.RequestRecord, 0, a.flushSize)
	for {
		select {
		case record := <-a.recordCh:
			batch = append(batch, record)
			if len(batch) >= a.flushSize {
				batch = a.flush(batch)
			}
		case <-ticker.C:
			batch = a.flush(batch)
		case <-a.doneCh:
			for {
				select {
				case record := <-a.recordCh:
					batch = append(batch, record)
					if len(batch) >= a.flushSize {
						batch = a.flush(batch)
					}
				default:
					a.flush(batch)
					return
				}
			}
		}
	}
}

// flush uploads batch and returns it emptied for reuse
func (a *S3Archive) flush(batch []*models.RequestRecord) []*models.RequestRecord {
	if len(batch) == 0 {
		return batch
	}

	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	if _, err := a.writer.WriteBatch(ctx, batch); err != nil {
		a.dropped.Add(int64(len(batch)))
		a.logger.Error("Failed to archive request records", "count", len(batch), "error", err)
	} else {
		a.written.Add(int64(len(batch)))
	}
	return batch[:0]
}
