package session

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func sampleState() *State {
	return &State{
		Cookies: []Cookie{
			{Name: "auth_token", Value: "tok-abc123", Domain: ".example.com", Path: "/", Secure: true, HTTPOnly: true, SameSite: "Lax"},
			{Name: "ct0", Value: "csrf-9", Domain: ".example.com", Path: "/"},
		},
		LocalStorage: map[string]string{"device_id": "dev-44"},
	}
}

func TestFileStore_LoadBeforeSave(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), "session.json", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Load(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), "session.json", nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := fs.Save(ctx, sampleState()); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := fs.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.CookieCount() != 2 {
		t.Fatalf("cookie count: got %d, want 2", got.CookieCount())
	}
	if got.Cookies[0].Name != "auth_token" || got.Cookies[0].Value != "tok-abc123" {
		t.Fatalf("cookie mismatch: %+v", got.Cookies[0])
	}
	if got.LocalStorage["device_id"] != "dev-44" {
		t.Fatalf("local storage lost: %+v", got.LocalStorage)
	}
	if got.SavedAt.IsZero() {
		t.Fatal("SavedAt not stamped")
	}
}

func TestFileStore_Permissions(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, "session.json", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.Save(context.Background(), sampleState()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(filepath.Join(dir, "session.json"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("session file mode: got %o, want 600", perm)
	}
}

func TestFileStore_Encrypted(t *testing.T) {
	key := bytes.Repeat([]byte("k"), 32)
	dir := t.TempDir()
	fs, err := NewFileStore(dir, "session.bin", key)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := fs.Save(ctx, sampleState()); err != nil {
		t.Fatalf("save: %v", err)
	}

	// On-disk bytes must not leak cookie values.
	raw, err := os.ReadFile(filepath.Join(dir, "session.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(raw, []byte("tok-abc123")) {
		t.Fatal("cookie value visible in encrypted file")
	}

	got, err := fs.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Cookies[0].Value != "tok-abc123" {
		t.Fatalf("decrypted state mismatch: %+v", got.Cookies[0])
	}
}

func TestFileStore_WrongKey(t *testing.T) {
	dir := t.TempDir()
	fs1, err := NewFileStore(dir, "session.bin", bytes.Repeat([]byte("a"), 32))
	if err != nil {
		t.Fatal(err)
	}
	if err := fs1.Save(context.Background(), sampleState()); err != nil {
		t.Fatal(err)
	}

	fs2, err := NewFileStore(dir, "session.bin", bytes.Repeat([]byte("b"), 32))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs2.Load(context.Background()); err == nil {
		t.Fatal("load with wrong key succeeded")
	}
}

func TestNewFileStore_RejectsShortKey(t *testing.T) {
	if _, err := NewFileStore(t.TempDir(), "session.bin", []byte("short")); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestNewFileStore_RejectsTraversal(t *testing.T) {
	if _, err := NewFileStore(t.TempDir(), "../outside.json", nil); err == nil {
		t.Fatal("expected path traversal error")
	}
}
