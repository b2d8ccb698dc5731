package fingerprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"tenant_gateway/internal/providers"
)

func msgs(pairs ...string) []providers.Message {
	out := make([]providers.Message, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, providers.Message{Role: pairs[i], Content: pairs[i+1]})
	}
	return out
}

func TestGenerate_Deterministic(t *testing.T) {
	m := msgs("system", "be brief", "user", "hello")

	a := Generate("tenant-1", "gpt-4o-mini", m)
	b := Generate("tenant-1", "gpt-4o-mini", msgs("system", "be brief", "user", "hello"))

	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, KeyPrefix))
	assert.Len(t, a, len(KeyPrefix)+64)
}

func TestGenerate_IgnoresSamplingParameters(t *testing.T) {
	// Two requests that differ only in temperature and max tokens.
	first := providers.CompletionRequest{Model: "gpt-4o-mini", Messages: msgs("user", "hi"), Temperature: 0.1, MaxTokens: 10}
	second := providers.CompletionRequest{Model: "gpt-4o-mini", Messages: msgs("user", "hi"), Temperature: 1.5, MaxTokens: 4000}

	assert.Equal(t,
		Generate("tenant-1", first.Model, first.Messages),
		Generate("tenant-1", second.Model, second.Messages),
	)
}

func TestGenerate_DistinguishesInputs(t *testing.T) {
	base := Generate("tenant-1", "gpt-4o-mini", msgs("user", "hello"))

	tests := []struct {
		name string
		key  string
	}{
		{"other tenant", Generate("tenant-2", "gpt-4o-mini", msgs("user", "hello"))},
		{"other model", Generate("tenant-1", "claude-3-haiku", msgs("user", "hello"))},
		{"other content", Generate("tenant-1", "gpt-4o-mini", msgs("user", "hello!"))},
		{"other role", Generate("tenant-1", "gpt-4o-mini", msgs("system", "hello"))},
		{"extra message", Generate("tenant-1", "gpt-4o-mini", msgs("user", "hello", "assistant", ""))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, tt.key)
		})
	}
}

func TestGenerate_MessageOrderMatters(t *testing.T) {
	a := Generate("t", "m", msgs("user", "a", "assistant", "b"))
	b := Generate("t", "m", msgs("assistant", "b", "user", "a"))

	assert.NotEqual(t, a, b)
}

func TestGenerate_NoDelimiterAmbiguity(t *testing.T) {
	// A naive "tenant:model" concatenation would collide here.
	a := Generate("a:b", "c", msgs("user", "x"))
	b := Generate("a", "b:c", msgs("user", "x"))

	assert.NotEqual(t, a, b)
}
