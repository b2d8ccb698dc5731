package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant_gateway/internal/models"
)

type capturedPut struct {
	path        string
	contentType string
	body        []byte
}

// newFakeS3 serves PutObject and remembers what it received.
func newFakeS3(t *testing.T, status int) (*s3.Client, func() []capturedPut) {
	var (
		mu   sync.Mutex
		puts []capturedPut
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		puts = append(puts, capturedPut{path: r.URL.Path, contentType: r.Header.Get("Content-Type"), body: body})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		BaseEndpoint:               aws.String(srv.URL),
		UsePathStyle:               true,
		Credentials:                credentials.NewStaticCredentialsProvider("key", "secret", ""),
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		RetryMaxAttempts:           1,
	})

	return client, func() []capturedPut {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedPut(nil), puts...)
	}
}

func TestS3Writer_WriteBatch(t *testing.T) {
	client, captured := newFakeS3(t, http.StatusOK)
	writer := NewS3WriterWithClient(client, "records-bucket", "records/", "gateway-0")
	writer.now = func() time.Time { return time.Date(2026, time.March, 15, 14, 30, 22, 123, time.UTC) }

	records := []*models.RequestRecord{newTestRecord(1), newTestRecord(2)}
	key, err := writer.WriteBatch(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, "records/2026/03/15/gateway-0-20260315-143022-000000123.jsonl", key)

	puts := captured()
	require.Len(t, puts, 1)
	assert.Equal(t, "/records-bucket/"+key, puts[0].path)
	assert.Equal(t, "application/x-ndjson", puts[0].contentType)

	var got []models.RequestRecord
	scanner := bufio.NewScanner(bytes.NewReader(puts[0].body))
	for scanner.Scan() {
		var r models.RequestRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		got = append(got, r)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "req-1", got[0].RequestID)
	assert.Equal(t, "req-2", got[1].RequestID)
}

func TestS3Writer_EmptyBatch(t *testing.T) {
	client, captured := newFakeS3(t, http.StatusOK)
	writer := NewS3WriterWithClient(client, "records-bucket", "records/", "gateway-0")

	key, err := writer.WriteBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.Empty(t, captured())
}

func TestS3Writer_UploadFailure(t *testing.T) {
	client, _ := newFakeS3(t, http.StatusForbidden)
	writer := NewS3WriterWithClient(client, "records-bucket", "records/", "gateway-0")

	_, err := writer.WriteBatch(context.Background(), []*models.RequestRecord{newTestRecord(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upload to S3")
}
