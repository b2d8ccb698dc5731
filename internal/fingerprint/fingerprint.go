// Package fingerprint derives content-addressed cache keys for completion requests.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"tenant_gateway/internal/providers"
)

// KeyPrefix namespaces fingerprints in the shared store.
const KeyPrefix = "cache:"

// canonical is the serialized tuple. Field order is fixed by the struct so
// equal inputs always serialize to equal bytes. Sampling parameters are not
// part of it: requests that differ only in temperature or max tokens share a key.
type canonical struct {
	Tenant   string             `json:"tenant"`
	Model    string             `json:"model"`
	Messages []canonicalMessage `json:"messages"`
}

type canonicalMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generate returns the cache key for (tenantID, model, messages).
func Generate(tenantID, model string, messages []providers.Message) string {
	c := canonical{
		Tenant:   tenantID,
		Model:    model,
		Messages: make([]canonicalMessage, len(messages)),
	}
	for i, m := range messages {
		c.Messages[i] = canonicalMessage{Role: m.Role, Content: m.Content}
	}

	// Marshalling plain strings cannot fail.
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return KeyPrefix + hex.EncodeToString(sum[:])
}
