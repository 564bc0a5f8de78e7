package store

import (
	"context"
	"time"

	"github.com/devrev/datapond/internal/model"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedMetadataStore keeps recently used user records in an expiring LRU
// in front of another MetadataStore. Writes go through to the backing store
// first; the cache is only correct while this process is the sole writer.
type CachedMetadataStore struct {
	MetadataStore
	users *expirable.LRU[string, *model.UserRecord]
}

// NewCachedMetadataStore wraps backing with a user record cache
func NewCachedMetadataStore(backing MetadataStore, size int, ttl time.Duration) *CachedMetadataStore {
	return &CachedMetadataStore{
		MetadataStore: backing,
		users:         expirable.NewLRU[string, *model.UserRecord](size, nil, ttl),
	}
}

// GetUser serves from cache when possible
func (s *CachedMetadataStore) GetUser(ctx context.Context, userID string) (*model.UserRecord, error) {
	if u, ok := s.users.Get(userID); ok {
		return u.Clone(), nil
	}
	u, err := s.MetadataStore.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.users.Add(userID, u.Clone())
	return u, nil
}

// PutUser writes through and refreshes the cache
func (s *CachedMetadataStore) PutUser(ctx context.Context, user *model.UserRecord) error {
	if err := s.MetadataStore.PutUser(ctx, user); err != nil {
		s.users.Remove(user.UserID)
		return err
	}
	s.users.Add(user.UserID, user.Clone())
	return nil
}
