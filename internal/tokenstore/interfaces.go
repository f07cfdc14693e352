package tokenstore

import "context"

// TokenStore reads and writes a single opaque credential string - the
// direct-mode upstream API key. The structured Codex OAuth credential has
// its own store (CodexCredentialStore) since it round-trips a JSON
// document, not a bare token.
type TokenStore interface {
	// Read returns the stored token. Returns error if token is missing or empty.
	Read(ctx context.Context) (string, error)

	// Write persists the token to storage. Returns error if storage backend
	// is read-only (e.g., environment variables) or if write operation fails.
	Write(ctx context.Context, token string) error
}
