package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/devrev/datapond/internal/controller/store"
	"github.com/devrev/datapond/internal/model"
	"go.uber.org/zap"
)

// IdempotencyService caches upload responses per (user, file, key)
type IdempotencyService struct {
	idempotencyStore store.IdempotencyStore
	ttl              time.Duration
	logger           *zap.Logger
}

// NewIdempotencyService creates a new idempotency service
func NewIdempotencyService(idempotencyStore store.IdempotencyStore, ttl time.Duration, logger *zap.Logger) *IdempotencyService {
	return &IdempotencyService{
		idempotencyStore: idempotencyStore,
		ttl:              ttl,
		logger:           logger,
	}
}

// Get returns the cached response, or nil when none is stored.
func (s *IdempotencyService) Get(ctx context.Context, userID, fileID, idempotencyKey string) (*model.FileResponse, error) {
	resp, err := s.idempotencyStore.Get(ctx, s.buildStoreKey(userID, fileID, idempotencyKey))
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency response: %w", err)
	}
	return resp, nil
}

// Store caches resp under the key for the configured TTL
func (s *IdempotencyService) Store(ctx context.Context, userID, fileID, idempotencyKey string, resp *model.FileResponse) error {
	if err := s.idempotencyStore.Set(ctx, s.buildStoreKey(userID, fileID, idempotencyKey), resp, s.ttl); err != nil {
		return fmt.Errorf("failed to store idempotency response: %w", err)
	}

	s.logger.Debug("Stored idempotency response",
		zap.String("user_id", userID),
		zap.String("file_id", fileID),
		zap.String("idempotency_key", idempotencyKey),
		zap.Duration("ttl", s.ttl))
	return nil
}

func (s *IdempotencyService) buildStoreKey(userID, fileID, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s:%s", userID, fileID, idempotencyKey)
}
