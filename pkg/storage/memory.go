package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
)

// MemoryScheme prefixes URLs issued by MemoryStore
const MemoryScheme = "mem://"

// MemoryStore is a content-addressed in-process store, used by tests and
// the CLI's dry-run mode.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// Compile-time interface compliance check
var (
	_ Storage = (*MemoryStore)(nil)
	_ Fetcher = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Upload stores data under its keccak256 hash. name is ignored.
func (s *MemoryStore) Upload(ctx context.Context, name string, data []byte) (string, error) {
	key := crypto.Keccak256Hash(data).Hex()

	s.mu.Lock()
	s.blobs[key] = append([]byte(nil), data...)
	s.mu.Unlock()

	return MemoryScheme + key, nil
}

// Fetch returns a copy of the blob behind url.
func (s *MemoryStore) Fetch(ctx context.Context, url string) ([]byte, error) {
	if !strings.HasPrefix(url, MemoryScheme) {
		return nil, ErrNotFound
	}

	s.mu.RLock()
	data, ok := s.blobs[strings.TrimPrefix(url, MemoryScheme)]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	return append([]byte(nil), data...), nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
