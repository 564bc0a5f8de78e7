package provisioner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devrev/datapond/internal/auth"
	"github.com/devrev/datapond/internal/controller/store"
	"github.com/devrev/datapond/internal/model"
	shardmetrics "github.com/devrev/datapond/internal/shard/metrics"
	"github.com/devrev/datapond/internal/shard/service"
	"github.com/devrev/datapond/internal/shard/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// LocalConfig configures in-process shards
type LocalConfig struct {
	// Engine is "memory" or "badger".
	Engine          string
	DataDir         string
	Compression     bool
	Controller      auth.Principal
	DefaultCapacity int64
}

// LocalProvisioner hosts shards in the controller process. Calls into a
// shard carry the controller principal on the context.
type LocalProvisioner struct {
	cfg        LocalConfig
	store      store.MetadataStore
	registerer prometheus.Registerer
	logger     *zap.Logger

	mu     sync.RWMutex
	shards map[string]*service.ShardService
}

// NewLocalProvisioner creates a local provisioner and reopens the shards
// recorded in the metadata store.
func NewLocalProvisioner(
	ctx context.Context,
	cfg LocalConfig,
	metadata store.MetadataStore,
	registerer prometheus.Registerer,
	logger *zap.Logger,
) (*LocalProvisioner, error) {
	p := &LocalProvisioner{
		cfg:        cfg,
		store:      metadata,
		registerer: registerer,
		logger:     logger,
		shards:     make(map[string]*service.ShardService),
	}

	nodes, err := metadata.ListShardNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list shard nodes: %w", err)
	}
	for _, node := range nodes {
		if node.Address != "" {
			continue
		}
		svc, err := p.open(ctx, node.ShardID)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to reopen shard %s: %w", node.ShardID, err)
		}
		p.shards[node.ShardID] = svc
		if !svc.Provisioned() {
			p.reinstall(ctx, node.ShardID)
		}
	}
	if len(p.shards) > 0 {
		logger.Info("Reopened local shards", zap.Int("count", len(p.shards)))
	}
	return p, nil
}

// CreateShard implements ShardProvisioner
func (p *LocalProvisioner) CreateShard(ctx context.Context) (string, error) {
	shardID := uuid.NewString()

	svc, err := p.open(ctx, shardID)
	if err != nil {
		return "", err
	}
	if err := p.store.AddShardNode(ctx, &model.ShardNode{ShardID: shardID, CreatedAt: time.Now().UTC()}); err != nil {
		svc.Close()
		return "", fmt.Errorf("failed to record shard node: %w", err)
	}

	p.mu.Lock()
	p.shards[shardID] = svc
	p.mu.Unlock()

	p.logger.Info("Created local shard",
		zap.String("shard_id", shardID),
		zap.String("engine", p.cfg.Engine))
	return shardID, nil
}

// InstallShard implements ShardProvisioner
func (p *LocalProvisioner) InstallShard(ctx context.Context, shardID string, pkg *model.ProvisioningPackage, args model.ShardInitArgs) error {
	svc, err := p.get(shardID)
	if err != nil {
		return err
	}
	return svc.Provision(auth.WithPrincipal(ctx, p.cfg.Controller), pkg.Data, args)
}

// ReleaseShard closes a local shard and forgets it. Its data directory is
// removed.
func (p *LocalProvisioner) ReleaseShard(ctx context.Context, shardID string) error {
	p.mu.Lock()
	svc, ok := p.shards[shardID]
	delete(p.shards, shardID)
	p.mu.Unlock()

	if err := p.store.RemoveShardNode(ctx, shardID); err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := svc.Close(); err != nil {
		return fmt.Errorf("failed to close shard %s: %w", shardID, err)
	}
	if p.cfg.Engine == "badger" {
		if err := os.RemoveAll(filepath.Join(p.cfg.DataDir, shardID)); err != nil {
			return fmt.Errorf("failed to remove shard %s data: %w", shardID, err)
		}
	}
	p.logger.Info("Released local shard", zap.String("shard_id", shardID))
	return nil
}

// Utilization implements ShardProvisioner
func (p *LocalProvisioner) Utilization(ctx context.Context, shardID string) (*model.Utilization, error) {
	svc, err := p.get(shardID)
	if err != nil {
		return nil, err
	}
	return svc.Stats(auth.WithPrincipal(ctx, p.cfg.Controller))
}

// Shard implements ShardProvisioner
func (p *LocalProvisioner) Shard(ctx context.Context, shardID string) (ShardClient, error) {
	svc, err := p.get(shardID)
	if err != nil {
		return nil, err
	}
	return &localShard{svc: svc, principal: p.cfg.Controller}, nil
}

// Close closes every hosted shard
func (p *LocalProvisioner) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for id, svc := range p.shards {
		if err := svc.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close shard %s: %w", id, err)
		}
	}
	p.shards = make(map[string]*service.ShardService)
	return firstErr
}

// reinstall provisions a reopened shard whose binding did not survive the
// restart (memory engine) with the current package.
func (p *LocalProvisioner) reinstall(ctx context.Context, shardID string) {
	pkg, err := p.store.GetPackage(ctx)
	if err != nil {
		p.logger.Warn("Reopened shard is not provisioned and no package is loaded",
			zap.String("shard_id", shardID),
			zap.Error(err))
		return
	}
	args := model.ShardInitArgs{
		ControllerID:  string(p.cfg.Controller),
		CapacityBytes: p.cfg.DefaultCapacity,
		PackageDigest: pkg.Digest,
	}
	if err := p.InstallShard(ctx, shardID, pkg, args); err != nil {
		p.logger.Warn("Failed to reprovision reopened shard",
			zap.String("shard_id", shardID),
			zap.Error(err))
	}
}

func (p *LocalProvisioner) get(shardID string) (*service.ShardService, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	svc, ok := p.shards[shardID]
	if !ok {
		return nil, fmt.Errorf("unknown local shard %s", shardID)
	}
	return svc, nil
}

func (p *LocalProvisioner) open(ctx context.Context, shardID string) (*service.ShardService, error) {
	var fileStore storage.FileStore
	switch p.cfg.Engine {
	case "badger":
		s, err := storage.OpenBadgerStore(storage.BadgerConfig{
			Dir:         filepath.Join(p.cfg.DataDir, shardID),
			Compression: p.cfg.Compression,
		}, p.logger.With(zap.String("shard_id", shardID)))
		if err != nil {
			return nil, err
		}
		fileStore = s
	default:
		fileStore = storage.NewMemoryStore()
	}

	svc, err := service.NewShardService(ctx, service.Config{
		ShardID:         shardID,
		Controller:      p.cfg.Controller,
		DefaultCapacity: p.cfg.DefaultCapacity,
	}, fileStore, shardmetrics.NewMetrics(p.registerer, shardID), p.logger.With(zap.String("shard_id", shardID)))
	if err != nil {
		fileStore.Close()
		return nil, err
	}
	return svc, nil
}

// localShard adapts an in-process shard to ShardClient
type localShard struct {
	svc       *service.ShardService
	principal auth.Principal
}

func (l *localShard) Write(ctx context.Context, file *model.FilePayload, chunked bool) error {
	return l.svc.Write(auth.WithPrincipal(ctx, l.principal), file, chunked)
}

func (l *localShard) Read(ctx context.Context, fileID string, chunkNumber uint64) (*model.FileChunkResponse, error) {
	return l.svc.Read(auth.WithPrincipal(ctx, l.principal), fileID, chunkNumber)
}
