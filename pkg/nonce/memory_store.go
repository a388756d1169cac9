package nonce

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	state   string
	expires time.Time
}

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// Compile-time interface compliance check
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory store. A non-positive ttl uses
// DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Reserve(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	if e, ok := s.entries[k]; ok && s.now().Before(e.expires) {
		return ErrNonceAlreadyUsed
	}
	s.entries[k] = entry{state: stateReserved, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) MarkUsed(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key.String()] = entry{state: stateUsed, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	if e, ok := s.entries[k]; ok && e.state == stateReserved {
		delete(s.entries, k)
	}
	return nil
}
