package store

import (
	"context"
	"errors"
	"time"

	"github.com/devrev/datapond/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a write-once record is written twice
	ErrAlreadyExists = errors.New("already exists")
)

// MetadataStore persists controller state: the tenant, the provisioning
// package, per-user placement records, file locations and the provisioned
// shards.
type MetadataStore interface {
	// Tenant operations. CreateTenant fails with ErrAlreadyExists once any
	// tenant is registered.
	GetTenant(ctx context.Context) (*model.Tenant, error)
	CreateTenant(ctx context.Context, tenant *model.Tenant) error

	// Provisioning package operations
	GetPackage(ctx context.Context) (*model.ProvisioningPackage, error)
	PutPackage(ctx context.Context, pkg *model.ProvisioningPackage) error

	// User placement records
	GetUser(ctx context.Context, userID string) (*model.UserRecord, error)
	PutUser(ctx context.Context, user *model.UserRecord) error

	// File locations map a user's file to the shard holding it
	GetFileLocation(ctx context.Context, userID, fileID string) (string, error)
	PutFileLocation(ctx context.Context, userID, fileID, shardID string) error

	// Shard node operations
	ListShardNodes(ctx context.Context) ([]*model.ShardNode, error)
	GetShardNode(ctx context.Context, shardID string) (*model.ShardNode, error)
	AddShardNode(ctx context.Context, node *model.ShardNode) error
	// RemoveShardNode forgets a shard. Removing an unknown shard is not an
	// error.
	RemoveShardNode(ctx context.Context, shardID string) error

	// Health check
	Ping(ctx context.Context) error
	Close()
}

// IdempotencyStore caches upload responses by idempotency key
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*model.FileResponse, error)
	Set(ctx context.Context, key string, resp *model.FileResponse, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}
