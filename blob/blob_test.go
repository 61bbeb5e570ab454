package blob

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func TestPutFetch_RoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	content := []byte("the quick brown fox")
	key, n, err := s.Put(bytes.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(content)) {
		t.Errorf("size: got %d, want %d", n, len(content))
	}

	want := sha256.Sum256(content)
	if key != hex.EncodeToString(want[:]) {
		t.Errorf("key: got %s", key)
	}

	got, err := s.Fetch(key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestPut_Deduplicates(t *testing.T) {
	s, _ := NewStore(t.TempDir())

	k1, _, err := s.Put(strings.NewReader("same bytes"))
	if err != nil {
		t.Fatal(err)
	}
	k2, _, err := s.Put(strings.NewReader("same bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Errorf("keys differ: %s vs %s", k1, k2)
	}
}

func TestFetch_NotFound(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	key := strings.Repeat("ab", 32)
	if _, err := s.Fetch(key); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestFetch_MalformedKey(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	if _, err := s.Fetch("../../etc/passwd"); err == nil {
		t.Error("expected error for malformed key")
	}
}
