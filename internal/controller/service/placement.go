package service

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/devrev/datapond/internal/auth"
	"github.com/devrev/datapond/internal/controller/metrics"
	"github.com/devrev/datapond/internal/controller/provisioner"
	"github.com/devrev/datapond/internal/controller/store"
	"github.com/devrev/datapond/internal/model"
	"go.uber.org/zap"
)

var (
	// ErrNoPackage is returned when a shard must be provisioned before a
	// provisioning package was loaded.
	ErrNoPackage = stderrors.New("no provisioning package loaded")
	// ErrShardFull is returned when an append does not fit on the shard
	// holding the file.
	ErrShardFull = stderrors.New("shard has no room for the write")
)

// PlacementConfig holds the shard capacity policy
type PlacementConfig struct {
	// CapacityBytes is the ceiling handed to new shards and used for shards
	// that do not report one.
	CapacityBytes int64
	// FullThreshold is the free-space fraction at or below which a shard is
	// marked full.
	FullThreshold float64
}

// PlacementService picks or creates the shard receiving a user's next write.
// It is first-fit over the user's non-full shards in assignment order and
// never revisits a shard once it is marked full. Callers serialize decisions
// per user.
type PlacementService struct {
	provisioner provisioner.ShardProvisioner
	store       store.MetadataStore
	cfg         PlacementConfig
	controller  auth.Principal
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewPlacementService creates a new placement service
func NewPlacementService(
	prov provisioner.ShardProvisioner,
	metadata store.MetadataStore,
	cfg PlacementConfig,
	controller auth.Principal,
	m *metrics.Metrics,
	logger *zap.Logger,
) *PlacementService {
	return &PlacementService{
		provisioner: prov,
		store:       metadata,
		cfg:         cfg,
		controller:  controller,
		metrics:     m,
		logger:      logger,
	}
}

// Resolve returns the shard that will receive size bytes for userID. The
// user record is persisted whenever the decision changed it, including when
// provisioning fails after shards were marked full.
func (s *PlacementService) Resolve(ctx context.Context, userID string, size int64) (string, error) {
	user, err := s.store.GetUser(ctx, userID)
	if stderrors.Is(err, store.ErrNotFound) {
		return s.placeNewUser(ctx, userID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load user record: %w", err)
	}

	user = user.Clone()
	marked := 0
	for _, shardID := range user.Candidates() {
		u, err := s.provisioner.Utilization(ctx, shardID)
		if err != nil {
			s.metrics.UtilizationErrors.Inc()
			s.logger.Warn("Skipping shard with unknown utilization",
				zap.String("user_id", userID),
				zap.String("shard_id", shardID),
				zap.Error(err))
			continue
		}

		ceiling := s.ceiling(u)
		available := ceiling - u.UsedBytes
		if available >= size {
			if marked > 0 {
				if err := s.persist(ctx, user); err != nil {
					return "", err
				}
			}
			s.metrics.PlacementDecisions.WithLabelValues("existing").Inc()
			return shardID, nil
		}

		if float64(available) <= s.cfg.FullThreshold*float64(ceiling) && user.MarkFull(shardID) {
			marked++
			s.metrics.ShardsMarkedFull.Inc()
			s.logger.Info("Marked shard full",
				zap.String("user_id", userID),
				zap.String("shard_id", shardID),
				zap.Int64("available_bytes", available))
		}
	}

	shardID, provErr := s.provision(ctx)
	if provErr == nil {
		user.ShardIDs = append(user.ShardIDs, shardID)
	}
	if provErr == nil || marked > 0 {
		if err := s.persist(ctx, user); err != nil {
			return "", err
		}
	}
	if provErr != nil {
		s.metrics.PlacementDecisions.WithLabelValues("failed").Inc()
		return "", provErr
	}

	s.metrics.PlacementDecisions.WithLabelValues("new_shard").Inc()
	return shardID, nil
}

// Fits checks that the shard already holding a file has room for size more
// bytes. Appends never move to another shard.
func (s *PlacementService) Fits(ctx context.Context, shardID string, size int64) error {
	u, err := s.provisioner.Utilization(ctx, shardID)
	if err != nil {
		s.metrics.UtilizationErrors.Inc()
		return fmt.Errorf("failed to get utilization of shard %s: %w", shardID, err)
	}
	if available := s.ceiling(u) - u.UsedBytes; available < size {
		s.metrics.PlacementDecisions.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: shard %s has %d bytes available, %d requested", ErrShardFull, shardID, available, size)
	}
	s.metrics.PlacementDecisions.WithLabelValues("append").Inc()
	return nil
}

func (s *PlacementService) placeNewUser(ctx context.Context, userID string) (string, error) {
	shardID, err := s.provision(ctx)
	if err != nil {
		s.metrics.PlacementDecisions.WithLabelValues("failed").Inc()
		return "", err
	}

	user := &model.UserRecord{UserID: userID, ShardIDs: []string{shardID}}
	if err := s.persist(ctx, user); err != nil {
		return "", err
	}

	s.metrics.PlacementDecisions.WithLabelValues("new_user").Inc()
	s.logger.Info("Assigned first shard to user",
		zap.String("user_id", userID),
		zap.String("shard_id", shardID))
	return shardID, nil
}

// provision creates a shard and installs the current package on it. A
// shard whose install fails is released so it can be handed out again.
func (s *PlacementService) provision(ctx context.Context) (string, error) {
	pkg, err := s.store.GetPackage(ctx)
	if stderrors.Is(err, store.ErrNotFound) {
		return "", ErrNoPackage
	}
	if err != nil {
		return "", fmt.Errorf("failed to load provisioning package: %w", err)
	}

	shardID, err := s.provisioner.CreateShard(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create shard: %w", err)
	}

	args := model.ShardInitArgs{
		ControllerID:  string(s.controller),
		CapacityBytes: s.cfg.CapacityBytes,
		PackageDigest: pkg.Digest,
	}
	if err := s.provisioner.InstallShard(ctx, shardID, pkg, args); err != nil {
		if relErr := s.provisioner.ReleaseShard(ctx, shardID); relErr != nil {
			s.logger.Error("Failed to release shard after install failure",
				zap.String("shard_id", shardID),
				zap.Error(relErr))
		}
		return "", fmt.Errorf("failed to install shard %s: %w", shardID, err)
	}

	s.metrics.ShardsProvisioned.Inc()
	s.logger.Info("Provisioned shard", zap.String("shard_id", shardID))
	return shardID, nil
}

func (s *PlacementService) persist(ctx context.Context, user *model.UserRecord) error {
	if err := s.store.PutUser(ctx, user); err != nil {
		return fmt.Errorf("failed to persist user record: %w", err)
	}
	return nil
}

func (s *PlacementService) ceiling(u *model.Utilization) int64 {
	if u.CapacityBytes > 0 {
		return u.CapacityBytes
	}
	return s.cfg.CapacityBytes
}
