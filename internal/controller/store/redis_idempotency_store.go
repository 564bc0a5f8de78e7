package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/devrev/datapond/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "datapond:idempotency:"

// RedisIdempotencyStore implements IdempotencyStore for Redis
type RedisIdempotencyStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisIdempotencyStore creates a new Redis idempotency store
func NewRedisIdempotencyStore(ctx context.Context, host string, port int, password string, db, poolSize int, logger *zap.Logger) (*RedisIdempotencyStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisIdempotencyStore{
		client: client,
		logger: logger,
	}, nil
}

// Get retrieves a cached response
func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*model.FileResponse, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var resp model.FileResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached response: %w", err)
	}
	return &resp, nil
}

// Set stores a response with TTL
func (s *RedisIdempotencyStore) Set(ctx context.Context, key string, resp *model.FileResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	return s.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err()
}

// Ping checks the Redis connection
func (s *RedisIdempotencyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisIdempotencyStore) Close() error {
	return s.client.Close()
}
