// Package accounting turns finished pipeline runs into request records and
// hands them to the durable sinks.
package accounting

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"tenant_gateway/internal/models"
	"tenant_gateway/internal/utils"
)

const defaultAppendTimeout = 5 * time.Second

// Entry describes one finished run. TotalTokens is never supplied; it is
// derived so the record always satisfies total = prompt + completion.
type Entry struct {
	RequestID        string
	TenantID         uuid.UUID
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	Latency          time.Duration
	Status           models.RecordStatus
	Error            string
}

// Appender persists a record somewhere.
type Appender interface {
	Append(ctx context.Context, record *models.RequestRecord) error
}

// AppenderFunc adapts a function to Appender.
type AppenderFunc func(ctx context.Context, record *models.RequestRecord) error

func (f AppenderFunc) Append(ctx context.Context, record *models.RequestRecord) error {
	return f(ctx, record)
}

// MultiAppender appends to every member and joins their errors.
type MultiAppender []Appender

func (m MultiAppender) Append(ctx context.Context, record *models.RequestRecord) error {
	var errs []error
	for _, a := range m {
		if err := a.Append(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder is what the pipeline depends on.
type Recorder interface {
	Record(ctx context.Context, entry Entry) *models.RequestRecord
}

// Sink builds records and appends them. It never fails the caller: append
// errors are logged and dropped.
type Sink struct {
	appender Appender
	timeout  time.Duration
	logger   *utils.Logger
	now      func() time.Time
}

// NewSink creates a sink over the given appenders.
func NewSink(logger *utils.Logger, appenders ...Appender) *Sink {
	if logger == nil {
		logger = utils.NewLogger("accounting")
	}
	return &Sink{
		appender: MultiAppender(appenders),
		timeout:  defaultAppendTimeout,
		logger:   logger,
		now:      time.Now,
	}
}

// Build derives the record for entry without appending it.
func (s *Sink) Build(entry Entry) *models.RequestRecord {
	prompt := max(entry.PromptTokens, 0)
	completion := max(entry.CompletionTokens, 0)
	cost := max(entry.CostUSD, 0)
	if entry.Status == models.StatusCached {
		prompt, completion, cost = 0, 0, 0
	}

	record := &models.RequestRecord{
		ID:               uuid.New(),
		RequestID:        entry.RequestID,
		TenantID:         entry.TenantID,
		Provider:         entry.Provider,
		Model:            entry.Model,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
		CostUSD:          cost,
		LatencyMS:        entry.Latency.Milliseconds(),
		Status:           entry.Status,
		CacheHit:         entry.Status == models.StatusCached,
		CreatedAt:        s.now().UTC(),
	}
	if entry.Error != "" {
		msg := entry.Error
		record.ErrorMessage = &msg
	}
	return record
}

// Record builds the record and appends it. Appending is detached from the
// caller's cancellation so a client hang-up cannot lose the row.
func (s *Sink) Record(ctx context.Context, entry Entry) *models.RequestRecord {
	record := s.Build(entry)

	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.appender.Append(appendCtx, record); err != nil {
		s.logger.Error("Failed to write request record",
			"request_id", record.RequestID,
			"tenant_id", record.TenantID,
			"status", record.Status,
			"error", err)
	}
	return record
}
