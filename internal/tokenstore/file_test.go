package tokenstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "token")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	ctx := context.Background()
	if err := store.Write(ctx, "  sk-test-token  "); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "sk-test-token" {
		t.Fatalf("got %q, want sk-test-token", got)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("perm = %04o, want 0600", info.Mode().Perm())
	}
}

func TestFileStoreReadRejectsInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("sk-test"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if _, err := store.Read(context.Background()); err == nil {
		t.Fatal("expected an error for insecure file permissions")
	}
}

func TestFileStoreReadMissingFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "missing"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := store.Read(context.Background()); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestNewFileStoreRejectsEmptyPath(t *testing.T) {
	if _, err := NewFileStore(""); err == nil {
		t.Fatal("expected an error for an empty path")
	}
}

func TestFileStoreWriteContextCancelled(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "token"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Write(ctx, "value"); err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
}
