package accounting

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant_gateway/internal/models"
	"tenant_gateway/internal/utils"
)

type collectingAppender struct {
	mu      sync.Mutex
	records []*models.RequestRecord
	ctxErrs []error
}

func (c *collectingAppender) Append(ctx context.Context, r *models.RequestRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
	c.ctxErrs = append(c.ctxErrs, ctx.Err())
	return nil
}

func TestSink_RecordSuccess(t *testing.T) {
	col := &collectingAppender{}
	sink := NewSink(utils.NewLoggerTo(&bytes.Buffer{}, "test"), col)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink.now = func() time.Time { return fixed }

	tenantID := uuid.New()
	rec := sink.Record(context.Background(), Entry{
		RequestID:        "req-1",
		TenantID:         tenantID,
		Provider:         "openai",
		Model:            "gpt-4o-mini",
		PromptTokens:     120,
		CompletionTokens: 30,
		CostUSD:          0.0003,
		Latency:          1500 * time.Millisecond,
		Status:           models.StatusSuccess,
	})

	require.Len(t, col.records, 1)
	assert.Same(t, rec, col.records[0])
	assert.Equal(t, 150, rec.TotalTokens)
	assert.True(t, rec.TokensConsistent())
	assert.Equal(t, int64(1500), rec.LatencyMS)
	assert.Equal(t, fixed, rec.CreatedAt)
	assert.Equal(t, tenantID, rec.TenantID)
	assert.False(t, rec.CacheHit)
	assert.Nil(t, rec.ErrorMessage)
	assert.NotEqual(t, uuid.Nil, rec.ID)
}

func TestSink_CachedIsFree(t *testing.T) {
	sink := NewSink(utils.NewLoggerTo(&bytes.Buffer{}, "test"))

	rec := sink.Record(context.Background(), Entry{
		Status:           models.StatusCached,
		Provider:         "anthropic",
		PromptTokens:     99,
		CompletionTokens: 1,
		CostUSD:          1.5,
	})

	assert.True(t, rec.CacheHit)
	assert.Zero(t, rec.TotalTokens)
	assert.Zero(t, rec.CostUSD)
	assert.True(t, rec.TokensConsistent())
}

func TestSink_ErrorRecord(t *testing.T) {
	sink := NewSink(utils.NewLoggerTo(&bytes.Buffer{}, "test"))

	rec := sink.Record(context.Background(), Entry{
		Status: models.StatusError,
		Error:  "all providers failed, last error from anthropic: overloaded",
	})

	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "anthropic")
	assert.Zero(t, rec.TotalTokens)
}

func TestSink_TokenInvariantHolds(t *testing.T) {
	sink := NewSink(utils.NewLoggerTo(&bytes.Buffer{}, "test"))

	for _, tc := range []struct{ prompt, completion int }{
		{0, 0}, {1, 0}, {0, 1}, {1000, 2500}, {-5, 10},
	} {
		rec := sink.Build(Entry{PromptTokens: tc.prompt, CompletionTokens: tc.completion, Status: models.StatusSuccess})
		assert.True(t, rec.TokensConsistent(), "prompt=%d completion=%d", tc.prompt, tc.completion)
		assert.GreaterOrEqual(t, rec.PromptTokens, 0)
	}
}

func TestSink_AppendFailureIsLoggedOnly(t *testing.T) {
	var buf bytes.Buffer
	failing := AppenderFunc(func(context.Context, *models.RequestRecord) error {
		return errors.New("connection refused")
	})
	col := &collectingAppender{}
	sink := NewSink(utils.NewLoggerTo(&buf, "accounting"), failing, col)

	rec := sink.Record(context.Background(), Entry{RequestID: "req-9", Status: models.StatusSuccess})

	assert.NotNil(t, rec)
	assert.Len(t, col.records, 1, "other appenders still receive the record")
	assert.Contains(t, buf.String(), "Failed to write request record")
	assert.Contains(t, buf.String(), "request_id=req-9")
}

func TestSink_DetachedFromCallerCancellation(t *testing.T) {
	col := &collectingAppender{}
	sink := NewSink(utils.NewLoggerTo(&bytes.Buffer{}, "test"), col)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Record(ctx, Entry{Status: models.StatusError, Error: "caller cancelled"})

	require.Len(t, col.ctxErrs, 1)
	assert.NoError(t, col.ctxErrs[0])
}

func TestMultiAppender_JoinsErrors(t *testing.T) {
	a := AppenderFunc(func(context.Context, *models.RequestRecord) error { return errors.New("a") })
	b := AppenderFunc(func(context.Context, *models.RequestRecord) error { return errors.New("b") })

	err := MultiAppender{a, b}.Append(context.Background(), &models.RequestRecord{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "b")

	assert.NoError(t, MultiAppender{}.Append(context.Background(), &models.RequestRecord{}))
}
