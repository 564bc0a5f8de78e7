package provisioner

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/datapond/internal/controller/client"
	"github.com/devrev/datapond/internal/controller/store"
	"github.com/devrev/datapond/internal/model"
	"go.uber.org/zap"
)

// ErrPoolExhausted is returned when no idle shard can be claimed
var ErrPoolExhausted = stderrors.New("no idle shard available in pool")

// RemoteProvisioner claims idle shard processes from a pool and provisions
// them over gRPC. Claimed shards are recorded in the metadata store with
// their address.
type RemoteProvisioner struct {
	discovery Discovery
	store     store.MetadataStore
	shards    *client.ShardClient
	logger    *zap.Logger

	// mu serializes claims so one member is never handed out twice.
	mu sync.Mutex
}

// NewRemoteProvisioner creates a remote provisioner
func NewRemoteProvisioner(discovery Discovery, metadata store.MetadataStore, shards *client.ShardClient, logger *zap.Logger) *RemoteProvisioner {
	return &RemoteProvisioner{
		discovery: discovery,
		store:     metadata,
		shards:    shards,
		logger:    logger,
	}
}

// CreateShard implements ShardProvisioner
func (p *RemoteProvisioner) CreateShard(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	members, err := p.discovery.Members(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to discover pool members: %w", err)
	}

	for _, m := range members {
		if m.Claimed {
			continue
		}
		_, err := p.store.GetShardNode(ctx, m.ShardID)
		if err == nil {
			continue
		}
		if !stderrors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("failed to look up shard node: %w", err)
		}

		node := &model.ShardNode{ShardID: m.ShardID, Address: m.Address, CreatedAt: time.Now().UTC()}
		if err := p.store.AddShardNode(ctx, node); err != nil {
			return "", fmt.Errorf("failed to record shard node: %w", err)
		}
		p.logger.Info("Claimed pool shard",
			zap.String("shard_id", m.ShardID),
			zap.String("address", m.Address))
		return m.ShardID, nil
	}
	return "", ErrPoolExhausted
}

// InstallShard implements ShardProvisioner
func (p *RemoteProvisioner) InstallShard(ctx context.Context, shardID string, pkg *model.ProvisioningPackage, args model.ShardInitArgs) error {
	node, err := p.node(ctx, shardID)
	if err != nil {
		return err
	}
	return p.shards.Provision(ctx, node.Address, pkg.Data, args)
}

// ReleaseShard returns a claimed member to the pool
func (p *RemoteProvisioner) ReleaseShard(ctx context.Context, shardID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.store.RemoveShardNode(ctx, shardID); err != nil {
		return err
	}
	p.logger.Info("Released pool shard", zap.String("shard_id", shardID))
	return nil
}

// Utilization implements ShardProvisioner
func (p *RemoteProvisioner) Utilization(ctx context.Context, shardID string) (*model.Utilization, error) {
	node, err := p.node(ctx, shardID)
	if err != nil {
		return nil, err
	}
	return p.shards.Stats(ctx, node.Address)
}

// Shard implements ShardProvisioner
func (p *RemoteProvisioner) Shard(ctx context.Context, shardID string) (ShardClient, error) {
	node, err := p.node(ctx, shardID)
	if err != nil {
		return nil, err
	}
	return p.shards.At(node.Address), nil
}

// Close closes shard connections
func (p *RemoteProvisioner) Close() error {
	p.shards.Close()
	return nil
}

func (p *RemoteProvisioner) node(ctx context.Context, shardID string) (*model.ShardNode, error) {
	node, err := p.store.GetShardNode(ctx, shardID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve shard %s: %w", shardID, err)
	}
	if node.Address == "" {
		return nil, fmt.Errorf("shard %s has no address", shardID)
	}
	return node, nil
}
