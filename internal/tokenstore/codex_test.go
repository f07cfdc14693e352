package tokenstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestCodexCredentialStoreWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	store, err := NewCodexCredentialStore(filepath.Join(dir, "codex-auth.json"))
	if err != nil {
		t.Fatalf("NewCodexCredentialStore: %v", err)
	}

	creds := &CodexCredentials{
		Tokens: CodexTokens{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			AccountID:    "acct-1",
		},
		LastRefresh: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	ctx := context.Background()
	if err := store.Write(ctx, creds); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Tokens.AccessToken != "access-1" || got.Tokens.RefreshToken != "refresh-1" {
		t.Fatalf("got %+v", got.Tokens)
	}
	if got.Tokens.AccountID != "acct-1" {
		t.Fatalf("account_id = %q, want acct-1", got.Tokens.AccountID)
	}
	if !got.LastRefresh.Equal(creds.LastRefresh) {
		t.Fatalf("last_refresh = %v, want %v", got.LastRefresh, creds.LastRefresh)
	}
}

func TestCodexCredentialStoreReadMissingAccessTokenErrors(t *testing.T) {
	dir := t.TempDir()
	store, err := NewCodexCredentialStore(filepath.Join(dir, "codex-auth.json"))
	if err != nil {
		t.Fatalf("NewCodexCredentialStore: %v", err)
	}
	ctx := context.Background()
	if err := store.Write(ctx, &CodexCredentials{Tokens: CodexTokens{RefreshToken: "refresh-only"}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := store.Read(ctx); err == nil {
		t.Fatal("expected an error for a credential file missing access_token")
	}
}

func TestCodexCredentialStoreReadMissingFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewCodexCredentialStore(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("NewCodexCredentialStore: %v", err)
	}
	if _, err := store.Read(context.Background()); err == nil {
		t.Fatal("expected an error for a missing credential file")
	}
}

func TestNewCodexCredentialStoreRejectsEmptyPath(t *testing.T) {
	if _, err := NewCodexCredentialStore(""); err == nil {
		t.Fatal("expected an error for an empty path")
	}
}
