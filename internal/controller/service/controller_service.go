package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/devrev/datapond/internal/auth"
	"github.com/devrev/datapond/internal/controller/metrics"
	"github.com/devrev/datapond/internal/controller/provisioner"
	"github.com/devrev/datapond/internal/controller/store"
	"github.com/devrev/datapond/internal/errors"
	"github.com/devrev/datapond/internal/model"
	"go.uber.org/zap"
)

const unauthorizedMessage = "Unauthorized access!"

// ControllerService owns the tenant registration, the provisioning package
// and the per-user shard assignments, and routes file traffic to shards.
type ControllerService struct {
	self        auth.Principal
	store       store.MetadataStore
	provisioner provisioner.ShardProvisioner
	placement   *PlacementService
	idempotency *IdempotencyService
	locks       *userLocks
	metrics     *metrics.Metrics
	logger      *zap.Logger

	// tenant is write-once, so it is cached after the first successful load.
	tenant atomic.Pointer[model.Tenant]
}

// NewControllerService creates a new controller service
func NewControllerService(
	self auth.Principal,
	metadata store.MetadataStore,
	prov provisioner.ShardProvisioner,
	placement *PlacementService,
	idempotency *IdempotencyService,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ControllerService {
	return &ControllerService{
		self:        self,
		store:       metadata,
		provisioner: prov,
		placement:   placement,
		idempotency: idempotency,
		locks:       newUserLocks(),
		metrics:     m,
		logger:      logger,
	}
}

// Register records the single tenant allowed to use the data operations.
// Only the controller itself may call it.
func (s *ControllerService) Register(ctx context.Context, tenantID string) (err error) {
	defer func(start time.Time) { s.metrics.RecordRequest("register", start, err) }(time.Now())

	if !auth.IsInternalAdmin(auth.PrincipalFromContext(ctx), s.self) {
		return errors.Unauthorized(unauthorizedMessage)
	}
	if tenantID == "" {
		return errors.InvalidPayload("tenant id is required")
	}

	tenant := &model.Tenant{ID: tenantID, RegisteredAt: time.Now().UTC()}
	if err := s.store.CreateTenant(ctx, tenant); err != nil {
		if stderrors.Is(err, store.ErrAlreadyExists) {
			return errors.Conflict("a tenant is already registered")
		}
		return errors.NotKnown("failed to register tenant", err)
	}
	s.tenant.Store(tenant)

	s.logger.Info("Registered tenant", zap.String("tenant_id", tenantID))
	return nil
}

// LoadProvisioningPackage stores the package installed on every shard
// provisioned from now on. Only the controller itself may call it.
func (s *ControllerService) LoadProvisioningPackage(ctx context.Context, data []byte) (err error) {
	defer func(start time.Time) { s.metrics.RecordRequest("load_package", start, err) }(time.Now())

	if !auth.IsInternalAdmin(auth.PrincipalFromContext(ctx), s.self) {
		return errors.Unauthorized(unauthorizedMessage)
	}
	if len(data) == 0 {
		return errors.InvalidPayload(fmt.Sprintf("invalid provisioning package, blob size: %d bytes", len(data))).
			WithDetail("size", len(data))
	}

	sum := sha256.Sum256(data)
	pkg := &model.ProvisioningPackage{
		Data:     data,
		Digest:   hex.EncodeToString(sum[:]),
		LoadedAt: time.Now().UTC(),
	}
	if err := s.store.PutPackage(ctx, pkg); err != nil {
		return errors.NotKnown("failed to store provisioning package", err)
	}

	s.logger.Info("Loaded provisioning package",
		zap.Int("size", len(data)),
		zap.String("digest", pkg.Digest))
	return nil
}

// Upload places payload on one of the user's shards and writes it there.
// Chunked appends go to the shard already holding the file.
// A non-empty idempotencyKey makes retries return the first response.
func (s *ControllerService) Upload(
	ctx context.Context,
	payload *model.FilePayload,
	userID string,
	chunked bool,
	idempotencyKey string,
) (resp *model.FileResponse, err error) {
	defer func(start time.Time) { s.metrics.RecordRequest("upload", start, err) }(time.Now())

	if err := s.requireTenant(ctx); err != nil {
		return nil, err
	}
	if err := validatePayload(payload, userID); err != nil {
		return nil, err
	}

	release := s.locks.lock(userID)
	defer release()

	if idempotencyKey != "" {
		cached, err := s.idempotency.Get(ctx, userID, payload.ID, idempotencyKey)
		if err != nil {
			s.logger.Error("Failed to check idempotency",
				zap.String("user_id", userID),
				zap.String("file_id", payload.ID),
				zap.Error(err))
		} else if cached != nil {
			s.metrics.IdempotencyHits.Inc()
			s.logger.Info("Returning cached idempotent response",
				zap.String("user_id", userID),
				zap.String("file_id", payload.ID),
				zap.String("idempotency_key", idempotencyKey))
			return cached, nil
		} else {
			s.metrics.IdempotencyMisses.Inc()
		}
	}

	shardID, located, err := s.route(ctx, userID, payload, chunked)
	if err != nil {
		return nil, errors.NotKnown("failed to find or create shard", err)
	}

	shard, err := s.provisioner.Shard(ctx, shardID)
	if err != nil {
		return nil, errors.UploadFailed(shardID, err)
	}
	if err := shard.Write(ctx, payload, chunked); err != nil {
		s.logger.Warn("Shard write failed",
			zap.String("user_id", userID),
			zap.String("file_id", payload.ID),
			zap.String("shard_id", shardID),
			zap.Error(err))
		return nil, errors.UploadFailed(shardID, err)
	}
	s.metrics.UploadedBytes.Add(float64(len(payload.Content)))

	if !located {
		if err := s.store.PutFileLocation(ctx, userID, payload.ID, shardID); err != nil {
			return nil, errors.NotKnown("failed to record file location", err).
				WithDetail("shard_id", shardID)
		}
	}

	resp = &model.FileResponse{ID: payload.ID, Name: payload.Name, ShardID: shardID}
	if idempotencyKey != "" {
		if err := s.idempotency.Store(ctx, userID, payload.ID, idempotencyKey, resp); err != nil {
			s.logger.Error("Failed to store idempotency response",
				zap.String("user_id", userID),
				zap.String("file_id", payload.ID),
				zap.Error(err))
		}
	}

	s.logger.Debug("Uploaded file",
		zap.String("user_id", userID),
		zap.String("file_id", payload.ID),
		zap.String("shard_id", shardID),
		zap.Bool("chunked", chunked),
		zap.Int("bytes", len(payload.Content)))
	return resp, nil
}

// Read returns one page of a file from one of the user's shards.
func (s *ControllerService) Read(
	ctx context.Context,
	userID, fileID, shardID string,
	chunkNumber uint64,
) (resp *model.FileChunkResponse, err error) {
	defer func(start time.Time) { s.metrics.RecordRequest("read", start, err) }(time.Now())

	if err := s.requireTenant(ctx); err != nil {
		return nil, err
	}

	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasShard(shardID) {
		return nil, errors.ShardNotFound(shardID)
	}

	shard, err := s.provisioner.Shard(ctx, shardID)
	if err != nil {
		return nil, errors.NotKnown("failed to get file", err)
	}
	resp, err = shard.Read(ctx, fileID, chunkNumber)
	if err != nil {
		return nil, errors.NotKnown("failed to get file", err)
	}
	return resp, nil
}

// UserShards returns where a user's data lives.
func (s *ControllerService) UserShards(ctx context.Context, userID string) (user *model.UserRecord, err error) {
	defer func(start time.Time) { s.metrics.RecordRequest("user_shards", start, err) }(time.Now())

	if err := s.requireTenant(ctx); err != nil {
		return nil, err
	}
	return s.getUser(ctx, userID)
}

// Bootstrap registers tenantID and loads pkg on behalf of the controller at
// startup. Either may be empty. A tenant registered by an earlier start is
// accepted when it matches.
func (s *ControllerService) Bootstrap(ctx context.Context, tenantID string, pkg []byte) error {
	ctx = auth.WithPrincipal(ctx, s.self)

	if tenantID != "" {
		err := s.Register(ctx, tenantID)
		if errors.IsKind(err, errors.KindConflict) {
			existing, getErr := s.store.GetTenant(ctx)
			if getErr != nil {
				return fmt.Errorf("failed to load registered tenant: %w", getErr)
			}
			if existing.ID != tenantID {
				return fmt.Errorf("tenant %q is already registered", existing.ID)
			}
		} else if err != nil {
			return fmt.Errorf("failed to register tenant: %w", err)
		}
	}

	if len(pkg) > 0 {
		if err := s.LoadProvisioningPackage(ctx, pkg); err != nil {
			return fmt.Errorf("failed to load provisioning package: %w", err)
		}
	}
	return nil
}

// requireTenant rejects every caller except the registered tenant.
func (s *ControllerService) requireTenant(ctx context.Context) error {
	tenant := s.tenant.Load()
	if tenant == nil {
		t, err := s.store.GetTenant(ctx)
		if stderrors.Is(err, store.ErrNotFound) {
			return errors.Unauthorized(unauthorizedMessage)
		}
		if err != nil {
			return errors.NotKnown("failed to load tenant", err)
		}
		s.tenant.Store(t)
		tenant = t
	}

	if !auth.IsTenant(auth.PrincipalFromContext(ctx), tenant.ID) {
		return errors.Unauthorized(unauthorizedMessage)
	}
	return nil
}

func (s *ControllerService) getUser(ctx context.Context, userID string) (*model.UserRecord, error) {
	user, err := s.store.GetUser(ctx, userID)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, errors.UserNotFound(userID)
	}
	if err != nil {
		return nil, errors.NotKnown("failed to load user record", err)
	}
	return user, nil
}

func validatePayload(payload *model.FilePayload, userID string) error {
	switch {
	case payload == nil:
		return errors.InvalidPayload("file payload is required")
	case payload.ID == "":
		return errors.InvalidPayload("file id is required")
	case userID == "":
		return errors.InvalidPayload("user id is required")
	case payload.Size < 0:
		return errors.InvalidPayload("file size must not be negative").
			WithDetail("size", payload.Size)
	}
	return nil
}

// route picks the shard receiving a write. A chunked write to a file that
// already has a location goes back to that shard; located reports this
// case. Everything else is placed by the declared size of the whole file.
func (s *ControllerService) route(
	ctx context.Context,
	userID string,
	payload *model.FilePayload,
	chunked bool,
) (shardID string, located bool, err error) {
	if chunked {
		location, lookupErr := s.store.GetFileLocation(ctx, userID, payload.ID)
		switch {
		case lookupErr == nil:
			if err := s.placement.Fits(ctx, location, int64(len(payload.Content))); err != nil {
				return "", false, err
			}
			return location, true, nil
		case !stderrors.Is(lookupErr, store.ErrNotFound):
			return "", false, fmt.Errorf("failed to look up file location: %w", lookupErr)
		}
	}

	shardID, err = s.placement.Resolve(ctx, userID, requestedSize(payload))
	return shardID, false, err
}

// requestedSize is the room a new file reserves: its declared size, or its
// content when that is larger.
func requestedSize(payload *model.FilePayload) int64 {
	n := int64(len(payload.Content))
	if payload.Size > n {
		return payload.Size
	}
	return n
}
