package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// maxErrorBody caps how much of an upstream error body ends up in messages.
const maxErrorBody = 512

// newHTTPClient returns a pooled client. Per-attempt deadlines come from the
// caller's context, so the client timeout is only a backstop.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 120 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// backend is the JSON-over-HTTP plumbing shared by the concrete providers.
type backend struct {
	provider string
	baseURL  string
	auth     Authenticator
	client   *http.Client
	headers  map[string]string
}

// do sends body (if any) as JSON and decodes a 2xx response into out.
func (b *backend) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(b.baseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range b.headers {
		httpReq.Header.Set(k, v)
	}
	if err := b.auth.Apply(httpReq); err != nil {
		return fmt.Errorf("failed to apply auth: %w", err)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return classifyTransportError(b.provider, ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransportError(b.provider, ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{
			Provider:   b.provider,
			StatusCode: resp.StatusCode,
			Message:    upstreamErrorMessage(respBody),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{
			Provider:   b.provider,
			StatusCode: resp.StatusCode,
			Message:    "malformed response body",
			Cause:      err,
		}
	}
	return nil
}

func (b *backend) close() {
	b.client.CloseIdleConnections()
}

// upstreamErrorMessage extracts {"error":{"message":...}} (both OpenAI and
// Anthropic use it) and falls back to the truncated raw body.
func upstreamErrorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	if msg == "" {
		msg = "empty error body"
	}
	return msg
}
