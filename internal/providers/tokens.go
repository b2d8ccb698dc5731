package providers

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator counts tokens locally when an upstream omits usage.
type TokenEstimator interface {
	CountText(text, model string) int
	CountMessages(messages []Message, model string) int
}

const (
	encodingCL100kBase = "cl100k_base"
	encodingO200kBase  = "o200k_base"

	// Chat formatting overhead, per the OpenAI cookbook.
	tokensPerMessage = 3
	tokensPerReply   = 3
)

// Longest prefix first.
var modelEncodings = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o", encodingO200kBase},
	{"gpt-4.1", encodingO200kBase},
	{"gpt-3.5", encodingCL100kBase},
	{"gpt-4", encodingCL100kBase},
	{"chatgpt", encodingO200kBase},
	{"o1", encodingO200kBase},
	{"o3", encodingO200kBase},
}

// TiktokenEstimator counts with BPE encodings and falls back to a
// four-characters-per-token heuristic when an encoding cannot be loaded.
type TiktokenEstimator struct {
	mu        sync.RWMutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewTiktokenEstimator creates an estimator with an empty encoding cache.
func NewTiktokenEstimator() *TiktokenEstimator {
	return &TiktokenEstimator{encodings: make(map[string]*tiktoken.Tiktoken)}
}

func encodingFor(model string) string {
	lower := strings.ToLower(model)
	for _, me := range modelEncodings {
		if strings.HasPrefix(lower, me.prefix) {
			return me.encoding
		}
	}
	// Claude and unknown models: close enough for accounting.
	return encodingCL100kBase
}

func (t *TiktokenEstimator) encoding(model string) *tiktoken.Tiktoken {
	name := encodingFor(model)

	t.mu.RLock()
	enc, ok := t.encodings[name]
	t.mu.RUnlock()
	if ok {
		return enc
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if enc, ok = t.encodings[name]; ok {
		return enc
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		// Cache the miss so a missing BPE file is not re-fetched per call.
		t.encodings[name] = nil
		return nil
	}
	t.encodings[name] = enc
	return enc
}

// CountText counts tokens in a single string.
func (t *TiktokenEstimator) CountText(text, model string) int {
	if text == "" {
		return 0
	}
	if enc := t.encoding(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return heuristicCount(text)
}

// CountMessages counts a chat history including per-message overhead.
func (t *TiktokenEstimator) CountMessages(messages []Message, model string) int {
	total := tokensPerReply
	for _, m := range messages {
		total += tokensPerMessage + t.CountText(m.Role, model) + t.CountText(m.Content, model)
	}
	return total
}

func heuristicCount(text string) int {
	n := len([]rune(text)) / 4
	if n == 0 {
		return 1
	}
	return n
}

func fillEstimatedUsage(est TokenEstimator, req CompletionRequest, resp *CompletionResponse) {
	if est == nil {
		return
	}
	resp.PromptTokens = est.CountMessages(req.Messages, req.Model)
	resp.CompletionTokens = est.CountText(resp.Content, req.Model)
	resp.UsageEstimated = true
}
