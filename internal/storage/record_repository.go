package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tenant_gateway/internal/models"
)

const insertRecordQuery = `
	INSERT INTO request_records (
		id, request_id, tenant_id, provider, model,
		prompt_tokens, completion_tokens, total_tokens, cost_usd, latency_ms,
		status, error_message, cache_hit, created_at
	) VALUES (
		:id, :request_id, :tenant_id, :provider, :model,
		:prompt_tokens, :completion_tokens, :total_tokens, :cost_usd, :latency_ms,
		:status, :error_message, :cache_hit, :created_at
	)
	ON CONFLICT (request_id) DO NOTHING
`

// RecordWriter persists request records. The queue worker depends on this
// rather than on the repository so it can be tested without a database.
type RecordWriter interface {
	Insert(ctx context.Context, record *models.RequestRecord) error
	InsertBatch(ctx context.Context, records []*models.RequestRecord) error
}

// RecordRepository handles request record database operations
type RecordRepository struct {
	db *DB
}

// NewRecordRepository creates a new request record repository
func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Insert writes one record. Replays of the same request ID are ignored.
func (r *RecordRepository) Insert(ctx context.Context, record *models.RequestRecord) error {
	if _, err := r.db.conn.NamedExecContext(ctx, insertRecordQuery, record); err != nil {
		return fmt.Errorf("failed to insert request record: %w", err)
	}
	return nil
}

// InsertBatch writes records in one transaction
func (r *RecordRepository) InsertBatch(ctx context.Context, records []*models.RequestRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamedContext(ctx, insertRecordQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		if _, err := stmt.ExecContext(ctx, record); err != nil {
			return fmt.Errorf("failed to insert record %s: %w", record.RequestID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UsageByProvider aggregates a tenant's records since the given time
func (r *RecordRepository) UsageByProvider(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]models.ProviderUsage, error) {
	query := `
		SELECT provider,
		       COUNT(*)                          AS requests,
		       COALESCE(SUM(total_tokens), 0)    AS tokens,
		       COALESCE(SUM(cost_usd), 0)        AS cost_usd,
		       COALESCE(AVG(latency_ms), 0)      AS avg_latency_ms
		FROM request_records
		WHERE tenant_id = $1 AND created_at >= $2
		GROUP BY provider
		ORDER BY provider
	`

	usage := []models.ProviderUsage{}
	if err := r.db.conn.SelectContext(ctx, &usage, query, tenantID, since); err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return usage, nil
}
