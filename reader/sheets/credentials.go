package sheets

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// CredentialProvider authorizes one outgoing Sheets API request. The
// pipeline core never sees credentials; they are attached here at the
// transport edge.
type CredentialProvider interface {
	Authorize(ctx context.Context, req *http.Request) error
}

// APIKeyProvider authorizes requests with a Google API key, which is
// enough for sheets shared as readable by link.
type APIKeyProvider struct {
	key string
}

func NewAPIKeyProvider(key string) *APIKeyProvider {
	return &APIKeyProvider{key: key}
}

func (p *APIKeyProvider) Authorize(ctx context.Context, req *http.Request) error {
	if p.key == "" {
		return fmt.Errorf("api key is empty")
	}
	q := req.URL.Query()
	q.Set("key", p.key)
	req.URL.RawQuery = q.Encode()
	return nil
}

// TokenFileProvider authorizes requests with a bearer token read from disk
// on every request, so an externally rotated token is picked up without a
// restart.
type TokenFileProvider struct {
	path string
}

func NewTokenFileProvider(path string) *TokenFileProvider {
	return &TokenFileProvider{path: path}
}

func (p *TokenFileProvider) Authorize(ctx context.Context, req *http.Request) error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return fmt.Errorf("token file %s is empty", p.path)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
