package providers

import (
	"fmt"
	"net/http"
)

// Authenticator applies a backend's credential to an outgoing request.
type Authenticator interface {
	Apply(req *http.Request) error
}

// HeaderAuth puts an API key into a single header, optionally prefixed.
// OpenAI uses "Authorization: Bearer <key>", Anthropic "x-api-key: <key>".
type HeaderAuth struct {
	apiKey     string
	headerName string
	prefix     string
}

// NewHeaderAuth creates a header-based authenticator
func NewHeaderAuth(apiKey, headerName, prefix string) *HeaderAuth {
	if headerName == "" {
		headerName = "Authorization"
	}
	return &HeaderAuth{
		apiKey:     apiKey,
		headerName: headerName,
		prefix:     prefix,
	}
}

// Apply sets the credential header
func (a *HeaderAuth) Apply(req *http.Request) error {
	if a.apiKey == "" {
		return fmt.Errorf("API key is required")
	}
	req.Header.Set(a.headerName, a.prefix+a.apiKey)
	return nil
}

// NoAuth is used for keyless OpenAI-compatible servers.
type NoAuth struct{}

func (NoAuth) Apply(req *http.Request) error {
	return nil
}
