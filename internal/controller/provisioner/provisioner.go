// Package provisioner creates shards and reports their utilization. The
// local provisioner hosts shards inside the controller process; the remote
// provisioner claims idle shard processes from a pool.
package provisioner

import (
	"context"

	"github.com/devrev/datapond/internal/model"
)

// ShardClient is the data-plane surface of one shard
type ShardClient interface {
	Write(ctx context.Context, file *model.FilePayload, chunked bool) error
	Read(ctx context.Context, fileID string, chunkNumber uint64) (*model.FileChunkResponse, error)
}

// ShardProvisioner creates shard instances and reports live utilization
type ShardProvisioner interface {
	// CreateShard allocates a new, not yet provisioned, shard.
	CreateShard(ctx context.Context) (string, error)
	// InstallShard hands the provisioning package and init args to a shard.
	InstallShard(ctx context.Context, shardID string, pkg *model.ProvisioningPackage, args model.ShardInitArgs) error
	// ReleaseShard undoes CreateShard for a shard that was never assigned.
	ReleaseShard(ctx context.Context, shardID string) error
	Utilization(ctx context.Context, shardID string) (*model.Utilization, error)
	Shard(ctx context.Context, shardID string) (ShardClient, error)
	Close() error
}
