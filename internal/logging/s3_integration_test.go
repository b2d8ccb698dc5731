package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"tenant_gateway/internal/config"
	"tenant_gateway/internal/models"
)

// Integration tests against MinIO. Start one with
//
//	docker run -d -p 9000:9000 -e MINIO_ROOT_USER=minioadmin \
//	  -e MINIO_ROOT_PASSWORD=minioadmin minio/minio server /data
//
// and run with MINIO_ENDPOINT=http://localhost:9000 go test -run TestS3Integration.

const testBucketName = "test-request-records"

func createMinioClient(t *testing.T) *s3.Client {
	t.Helper()
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set")
	}
	accessKey := getEnvOr("MINIO_ACCESS_KEY", "minioadmin")
	secretKey := getEnvOr("MINIO_SECRET_KEY", "minioadmin")

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		t.Fatalf("Failed to load AWS config: %v", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.ListBuckets(ctx, &s3.ListBucketsInput{}); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(testBucketName)}); err != nil {
		if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(testBucketName)}); err != nil {
			t.Fatalf("Failed to create test bucket: %v", err)
		}
	}
	return client
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func readRecords(t *testing.T, client *s3.Client, key string) []models.RequestRecord {
	t.Helper()
	out, err := client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(testBucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		t.Fatalf("Failed to get object %s: %v", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		t.Fatalf("Failed to read object body: %v", err)
	}

	var records []models.RequestRecord
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		var r models.RequestRecord
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("Failed to parse JSON line: %v", err)
		}
		records = append(records, r)
	}
	return records
}

func TestS3Integration_WriteBatch(t *testing.T) {
	client := createMinioClient(t)
	writer := NewS3WriterWithClient(client, testBucketName, "it-records/", "test-pod")

	records := []*models.RequestRecord{newTestRecord(1), newTestRecord(2)}
	key, err := writer.WriteBatch(context.Background(), records)
	if err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}

	got := readRecords(t, client, key)
	if len(got) != len(records) {
		t.Fatalf("Expected %d records, got %d", len(records), len(got))
	}
	if got[0].RequestID != records[0].RequestID {
		t.Errorf("Expected request id %s, got %s", records[0].RequestID, got[0].RequestID)
	}
}

func TestS3Integration_ArchiveShutdownFlushes(t *testing.T) {
	client := createMinioClient(t)
	writer := NewS3WriterWithClient(client, testBucketName, "it-archive/", "test-pod")
	archive := NewS3Archive(writer, config.LoggingSinkConfig{
		BufferSize:    100,
		FlushSize:     50,
		FlushInterval: time.Hour,
	})

	for i := 0; i < 10; i++ {
		if err := archive.Append(context.Background(), newTestRecord(i)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	archive.Shutdown()

	if archive.Written() != 10 {
		t.Errorf("Expected 10 records written, got %d", archive.Written())
	}
}
