package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// TenantKeyPrefix marks gateway-issued tenant credentials.
const TenantKeyPrefix = "llm-gw-"

const tenantKeyBytes = 32

// GenerateTenantKey returns a new plaintext tenant credential. It is shown to
// the operator once; only its digest is stored.
func GenerateTenantKey() (string, error) {
	buf := make([]byte, tenantKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate tenant key: %w", err)
	}
	return TenantKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// LooksLikeTenantKey is a cheap shape check used before any lookup.
func LooksLikeTenantKey(s string) bool {
	return strings.HasPrefix(s, TenantKeyPrefix) && len(s) > len(TenantKeyPrefix)
}
