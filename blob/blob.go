// Package blob is a content-addressed file store. Bytes are written once
// under their SHA-256 hex digest and fetched back by that key, so the same
// content is never stored twice and a key always resolves to identical bytes.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
)

// ErrNotFound is returned by Fetch when no blob exists for the key.
var ErrNotFound = errors.New("blob: not found")

var keyRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Store writes and reads blobs under a root directory, sharded by the
// first two hex characters of the key (root/ab/abcdef...).
type Store struct {
	root string
}

// NewStore creates the root directory if needed and returns a Store.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	return &Store{root: root}, nil
}

// Put streams r to the store and returns the content key (SHA-256 hex).
// Writing the same content twice is a cheap no-op.
func (s *Store) Put(r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(s.root, "incoming-*")
	if err != nil {
		return "", 0, fmt.Errorf("blob: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, fmt.Errorf("blob: write: %w", err)
	}

	key := hex.EncodeToString(hasher.Sum(nil))
	path := s.path(key)

	if _, err := os.Stat(path); err == nil {
		return key, n, nil // already stored
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", 0, fmt.Errorf("blob: shard dir: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", 0, fmt.Errorf("blob: publish: %w", err)
	}
	return key, n, nil
}

// Fetch returns the bytes stored under key.
func (s *Store) Fetch(key string) ([]byte, error) {
	if !keyRe.MatchString(key) {
		return nil, fmt.Errorf("blob: malformed key %q", key)
	}
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blob: read %s: %w", key, err)
	}
	return data, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.root, key[:2], key)
}
