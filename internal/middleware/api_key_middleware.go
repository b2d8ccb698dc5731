package middleware

import (
	"context"
	"net/http"
	"strings"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

const (
	// CredentialKey is the context key for the tenant credential presented by the caller
	CredentialKey ContextKey = "credential"

	// RequestIDKey is the context key for the caller-supplied request ID
	RequestIDKey ContextKey = "requestID"
)

// RequestIDHeader lets callers correlate their request with the gateway's record.
const RequestIDHeader = "X-Request-ID"

// ExtractCredential returns the tenant credential from X-API-Key, falling back
// to an Authorization Bearer token. It returns "" when neither is present.
func ExtractCredential(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > len("Bearer ") && strings.EqualFold(authHeader[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(authHeader[len("Bearer "):])
	}
	return ""
}

// CredentialMiddleware places the presented credential and request ID into the
// request context. It does not reject anything: whether the credential is
// missing, unknown or inactive is decided downstream, where all three produce
// the same response.
func CredentialMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), CredentialKey, ExtractCredential(r))
		if id := strings.TrimSpace(r.Header.Get(RequestIDHeader)); id != "" {
			ctx = context.WithValue(ctx, RequestIDKey, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCredential retrieves the credential from the request context
func GetCredential(ctx context.Context) (string, bool) {
	credential, ok := ctx.Value(CredentialKey).(string)
	return credential, ok && credential != ""
}

// GetRequestID retrieves the caller-supplied request ID from the request context
func GetRequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(RequestIDKey).(string)
	return id, ok
}
