package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CodexTokens is the inner "tokens" object of the Codex credential file.
type CodexTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	AccountID    string `json:"account_id,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// CodexCredentials is the on-disk Codex credential file layout:
// `{"tokens":{...}, "last_refresh":"RFC3339"}`.
type CodexCredentials struct {
	Tokens      CodexTokens `json:"tokens"`
	LastRefresh time.Time   `json:"last_refresh"`
}

// CodexCredentialStore reads and atomically writes the Codex credential
// file. Unlike the generic FileStore (which stores a bare token string),
// this store round-trips the full structured credential object, since
// refresh needs the refresh_token and account_id alongside the access
// token, and the caller needs last_refresh to decide when to refresh.
type CodexCredentialStore struct {
	path string
}

// NewCodexCredentialStore creates a CodexCredentialStore for the given
// path, creating the parent directory with 0700 permissions if needed.
func NewCodexCredentialStore(path string) (*CodexCredentialStore, error) {
	if path == "" {
		return nil, fmt.Errorf("credential path cannot be empty")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &CodexCredentialStore{path: path}, nil
}

// Read loads and validates the credential file. Missing fields surface as
// an error the caller maps to MissingCredentials.
func (c *CodexCredentialStore) Read(ctx context.Context) (*CodexCredentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	var creds CodexCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credential file: %w", err)
	}
	if creds.Tokens.AccessToken == "" || creds.Tokens.RefreshToken == "" {
		return nil, fmt.Errorf("credential file missing access_token or refresh_token")
	}
	return &creds, nil
}

// Write atomically persists creds: write to a temp file in the same
// directory, then rename, so concurrent readers always see either the old
// or the new contents in full.
func (c *CodexCredentialStore) Write(ctx context.Context, creds *CodexCredentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	dir := filepath.Dir(c.path)
	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(data); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tempName, 0600); err != nil {
		return err
	}
	if err := os.Rename(tempName, c.path); err != nil {
		return err
	}
	return nil
}
