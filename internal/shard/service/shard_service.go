package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/datapond/internal/auth"
	"github.com/devrev/datapond/internal/errors"
	"github.com/devrev/datapond/internal/model"
	"github.com/devrev/datapond/internal/shard/metrics"
	"github.com/devrev/datapond/internal/shard/storage"
	"go.uber.org/zap"
)

const unauthorizedMessage = "Unauthorized access!"

// Config holds the shard identity
type Config struct {
	ShardID string
	// Controller is the only principal allowed to provision the shard.
	Controller auth.Principal
	// DefaultCapacity applies when provisioning does not set a capacity.
	DefaultCapacity int64
}

// ShardService implements the chunked read / append protocol over a file
// table. Mutations are serialized; reads run concurrently.
type ShardService struct {
	cfg     Config
	store   storage.FileStore
	metrics *metrics.Metrics
	logger  *zap.Logger

	writeMu sync.Mutex

	bindingMu sync.RWMutex
	binding   *model.ShardInitArgs

	onProvision func(model.ShardInitArgs)
}

// NewShardService creates a shard service, restoring any binding persisted
// by an earlier Provision.
func NewShardService(
	ctx context.Context,
	cfg Config,
	store storage.FileStore,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*ShardService, error) {
	binding, err := store.Binding(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load shard binding: %w", err)
	}
	if binding != nil && binding.ControllerID != string(cfg.Controller) {
		logger.Warn("Shard is bound to a different controller than configured",
			zap.String("bound_controller", binding.ControllerID),
			zap.String("configured_controller", string(cfg.Controller)))
	}
	return &ShardService{
		cfg:     cfg,
		store:   store,
		metrics: m,
		logger:  logger,
		binding: binding,
	}, nil
}

// SetProvisionHook registers fn to run after every successful Provision
// (called after initialization so gossip can advertise the claimed state).
func (s *ShardService) SetProvisionHook(fn func(model.ShardInitArgs)) {
	s.onProvision = fn
}

// ID returns the shard id.
func (s *ShardService) ID() string {
	return s.cfg.ShardID
}

// Provisioned reports whether a controller has claimed this shard.
func (s *ShardService) Provisioned() bool {
	s.bindingMu.RLock()
	defer s.bindingMu.RUnlock()
	return s.binding != nil
}

// Write stores a file. A chunked write to an existing id appends; anything
// else creates or replaces the file. A non-zero Sequence must follow the
// file's LastSequence on append and be at most 1 on create.
func (s *ShardService) Write(ctx context.Context, payload *model.FilePayload, chunked bool) (err error) {
	start := time.Now()
	defer func() { s.metrics.RecordRequest("write", start, err) }()

	if err := s.authorize(ctx); err != nil {
		return err
	}
	if payload == nil || payload.ID == "" {
		return errors.InvalidPayload("file id is required")
	}
	if !s.Provisioned() {
		return errors.NotKnown("shard is not provisioned", nil).WithDetail("shard_id", s.cfg.ShardID)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if chunked {
		info, statErr := s.store.Stat(ctx, payload.ID)
		switch {
		case statErr == nil:
			return s.appendChunk(ctx, info, payload)
		case !stderrors.Is(statErr, storage.ErrFileNotFound):
			return errors.NotKnown("failed to read file metadata", statErr)
		}
	}

	if payload.Sequence > 1 {
		return errors.Conflict(fmt.Sprintf("chunk %d received before chunk 1", payload.Sequence)).
			WithDetail("file_id", payload.ID)
	}

	file := &model.File{
		ID:           payload.ID,
		Name:         payload.Name,
		Size:         payload.Size,
		Content:      payload.Content,
		CreatedAt:    time.Now().UTC(),
		LastSequence: payload.Sequence,
	}
	if err := s.store.Put(ctx, file); err != nil {
		return errors.NotKnown("failed to store file", err)
	}
	s.metrics.BytesWritten.Add(float64(len(payload.Content)))
	s.logger.Debug("Stored file",
		zap.String("file_id", payload.ID),
		zap.Int("bytes", len(payload.Content)))
	return nil
}

func (s *ShardService) appendChunk(ctx context.Context, info *model.FileInfo, payload *model.FilePayload) error {
	if payload.Sequence > 0 && payload.Sequence != info.LastSequence+1 {
		return errors.Conflict(fmt.Sprintf("expected chunk %d, got %d", info.LastSequence+1, payload.Sequence)).
			WithDetail("file_id", payload.ID)
	}
	if err := s.store.Append(ctx, payload.ID, payload.Content, payload.Sequence); err != nil {
		return errors.NotKnown("failed to append chunk", err)
	}
	s.metrics.BytesWritten.Add(float64(len(payload.Content)))
	s.logger.Debug("Appended chunk",
		zap.String("file_id", payload.ID),
		zap.Uint64("sequence", payload.Sequence),
		zap.Int("bytes", len(payload.Content)))
	return nil
}

// Read returns page chunkNumber of a file. Files shorter than one page are
// returned whole for any chunk number; pages past the end are empty.
func (s *ShardService) Read(ctx context.Context, fileID string, chunkNumber uint64) (resp *model.FileChunkResponse, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordRequest("read", start, err) }()

	if err := s.authorize(ctx); err != nil {
		return nil, err
	}

	info, err := s.store.Stat(ctx, fileID)
	if stderrors.Is(err, storage.ErrFileNotFound) {
		return nil, errors.FileNotFound(fileID)
	}
	if err != nil {
		return nil, errors.NotKnown("failed to read file metadata", err)
	}

	resp = &model.FileChunkResponse{ID: info.ID, Name: info.Name, Chunk: []byte{}}
	offset, length := pageRange(info.Length, chunkNumber)
	if length == 0 {
		return resp, nil
	}

	chunk, err := s.store.ReadAt(ctx, fileID, offset, length)
	if err != nil {
		return nil, errors.NotKnown("failed to read file content", err)
	}
	resp.Chunk = chunk
	resp.HasNext = info.Length >= model.ReadChunkSize && offset+model.ReadChunkSize < info.Length
	s.metrics.BytesRead.Add(float64(len(chunk)))
	return resp, nil
}

// pageRange returns the byte range of page n in a file of the given length.
func pageRange(total int64, n uint64) (offset, length int64) {
	const page = model.ReadChunkSize
	if total < page {
		return 0, total
	}
	if n > uint64(total/page) {
		return total, 0
	}
	offset = int64(n) * page
	if offset >= total {
		return total, 0
	}
	return offset, min(page, total-offset)
}

// Provision binds the shard to its controller. Repeating it from the same
// controller updates capacity and package digest.
func (s *ShardService) Provision(ctx context.Context, pkg []byte, args model.ShardInitArgs) (err error) {
	start := time.Now()
	defer func() { s.metrics.RecordRequest("provision", start, err) }()

	caller := auth.PrincipalFromContext(ctx)
	if !auth.IsController(caller, s.cfg.Controller) {
		return errors.Unauthorized(unauthorizedMessage)
	}
	if args.ControllerID != string(caller) {
		return errors.InvalidPayload("controller id must match the caller").
			WithDetail("controller_id", args.ControllerID)
	}
	if len(pkg) == 0 {
		return errors.InvalidPayload("provisioning package is empty")
	}
	sum := sha256.Sum256(pkg)
	digest := hex.EncodeToString(sum[:])
	if args.PackageDigest != "" && args.PackageDigest != digest {
		return errors.InvalidPayload("provisioning package digest mismatch").
			WithDetail("expected", args.PackageDigest).
			WithDetail("actual", digest)
	}

	binding, err := s.bind(ctx, args, digest)
	if err != nil {
		return err
	}

	s.logger.Info("Shard provisioned",
		zap.String("shard_id", s.cfg.ShardID),
		zap.String("controller", binding.ControllerID),
		zap.Int64("capacity_bytes", binding.CapacityBytes),
		zap.String("package_digest", digest))

	if s.onProvision != nil {
		s.onProvision(*binding)
	}
	return nil
}

func (s *ShardService) bind(ctx context.Context, args model.ShardInitArgs, digest string) (*model.ShardInitArgs, error) {
	s.bindingMu.Lock()
	defer s.bindingMu.Unlock()

	if s.binding != nil && s.binding.ControllerID != args.ControllerID {
		return nil, errors.Conflict("shard is already provisioned by another controller").
			WithDetail("shard_id", s.cfg.ShardID)
	}

	binding := &model.ShardInitArgs{
		ControllerID:  args.ControllerID,
		CapacityBytes: args.CapacityBytes,
		PackageDigest: digest,
	}
	if binding.CapacityBytes <= 0 {
		binding.CapacityBytes = s.cfg.DefaultCapacity
	}
	if err := s.store.SaveBinding(ctx, binding); err != nil {
		return nil, errors.NotKnown("failed to persist shard binding", err)
	}
	s.binding = binding
	return binding, nil
}

// Stats reports live utilization.
func (s *ShardService) Stats(ctx context.Context) (u *model.Utilization, err error) {
	start := time.Now()
	defer func() { s.metrics.RecordRequest("stats", start, err) }()

	if err := s.authorize(ctx); err != nil {
		return nil, err
	}
	used, count, err := s.store.Usage(ctx)
	if err != nil {
		return nil, errors.NotKnown("failed to read usage", err)
	}
	s.metrics.UsedBytes.Set(float64(used))
	s.metrics.FilesTotal.Set(float64(count))

	capacity := s.cfg.DefaultCapacity
	s.bindingMu.RLock()
	if s.binding != nil {
		capacity = s.binding.CapacityBytes
	}
	s.bindingMu.RUnlock()

	return &model.Utilization{
		UsedBytes:     used,
		CapacityBytes: capacity,
		FileCount:     count,
	}, nil
}

// Close releases the file table.
func (s *ShardService) Close() error {
	return s.store.Close()
}

func (s *ShardService) authorize(ctx context.Context) error {
	controller := s.cfg.Controller
	s.bindingMu.RLock()
	if s.binding != nil {
		controller = auth.Principal(s.binding.ControllerID)
	}
	s.bindingMu.RUnlock()

	if !auth.IsController(auth.PrincipalFromContext(ctx), controller) {
		return errors.Unauthorized(unauthorizedMessage)
	}
	return nil
}
