package store

import (
	"context"
	"time"

	"github.com/devrev/datapond/internal/model"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type idempotencyEntry struct {
	resp      model.FileResponse
	expiresAt time.Time
}

// MemoryIdempotencyStore implements IdempotencyStore with a bounded
// expiring LRU. Entries never outlive maxTTL regardless of the ttl passed
// to Set.
type MemoryIdempotencyStore struct {
	entries *expirable.LRU[string, idempotencyEntry]
}

// NewMemoryIdempotencyStore creates an in-memory idempotency store
func NewMemoryIdempotencyStore(size int, maxTTL time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: expirable.NewLRU[string, idempotencyEntry](size, nil, maxTTL),
	}
}

// Get retrieves a cached response
func (s *MemoryIdempotencyStore) Get(ctx context.Context, key string) (*model.FileResponse, error) {
	e, ok := s.entries.Get(key)
	if !ok || time.Now().After(e.expiresAt) {
		return nil, ErrNotFound
	}
	resp := e.resp
	return &resp, nil
}

// Set stores a response with TTL
func (s *MemoryIdempotencyStore) Set(ctx context.Context, key string, resp *model.FileResponse, ttl time.Duration) error {
	s.entries.Add(key, idempotencyEntry{resp: *resp, expiresAt: time.Now().Add(ttl)})
	return nil
}

// Ping implements IdempotencyStore
func (s *MemoryIdempotencyStore) Ping(ctx context.Context) error {
	return nil
}

// Close implements IdempotencyStore
func (s *MemoryIdempotencyStore) Close() error {
	s.entries.Purge()
	return nil
}
