package session

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/hazyhaar/plume/horosafe"
)

// ErrNoSession is returned by Load when no session has been saved yet.
var ErrNoSession = errors.New("session: no saved session")

// FileStore keeps the session state in a single JSON file, optionally
// sealed with XChaCha20-Poly1305. Cookies are credentials; the file is
// written 0600 and encrypted whenever a key is configured.
type FileStore struct {
	path string
	key  []byte
}

// NewFileStore creates a store writing to dir/name. A nil key stores
// plaintext JSON; a key must be exactly 32 bytes.
func NewFileStore(dir, name string, key []byte) (*FileStore, error) {
	path, err := horosafe.SafePath(dir, name)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if key != nil {
		if err := horosafe.ValidateKey(key); err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("session: key must be exactly %d bytes", chacha20poly1305.KeySize)
		}
	}
	return &FileStore{path: path, key: key}, nil
}

// Path returns the resolved session file path.
func (f *FileStore) Path() string { return f.path }

// Load reads and, if a key is set, unseals the session file.
func (f *FileStore) Load(_ context.Context) (*State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("session: read %s: %w", f.path, err)
	}

	if f.key != nil {
		data, err = f.unseal(data)
		if err != nil {
			return nil, fmt.Errorf("session: unseal %s: %w", f.path, err)
		}
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", f.path, err)
	}
	return &st, nil
}

// Save writes the state, stamping SavedAt. The write goes through a temp
// file and rename so a crash never leaves a torn session file.
func (f *FileStore) Save(_ context.Context, state *State) error {
	if state == nil {
		return errors.New("session: nil state")
	}
	state.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if f.key != nil {
		data, err = f.seal(data)
		if err != nil {
			return fmt.Errorf("session: seal: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("session: mkdir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("session: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("session: rename: %w", err)
	}
	return nil
}

func (f *FileStore) seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (f *FileStore) unseal(data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return nil, err
	}
	ns := aead.NonceSize()
	if len(data) < ns {
		return nil, errors.New("ciphertext shorter than nonce")
	}
	return aead.Open(nil, data[:ns], data[ns:], nil)
}
