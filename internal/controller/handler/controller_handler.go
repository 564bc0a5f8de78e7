package handler

import (
	"context"

	"github.com/devrev/datapond/internal/controller/service"
	"github.com/devrev/datapond/internal/errors"
	"github.com/devrev/datapond/pkg/api"
	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"
)

// ControllerHandler implements the gRPC controller service
type ControllerHandler struct {
	controllerService *service.ControllerService
	logger            *zap.Logger
}

// NewControllerHandler creates a new controller handler
func NewControllerHandler(controllerSvc *service.ControllerService, logger *zap.Logger) *ControllerHandler {
	return &ControllerHandler{
		controllerService: controllerSvc,
		logger:            logger,
	}
}

// Register handles tenant registration
func (h *ControllerHandler) Register(ctx context.Context, req *api.RegisterRequest) (*api.RegisterResponse, error) {
	if err := h.controllerService.Register(ctx, req.TenantID); err != nil {
		h.logger.Warn("Register failed",
			zap.String("tenant_id", req.TenantID),
			zap.Error(err))
		return nil, errors.ToGRPCStatus(err).Err()
	}
	return &api.RegisterResponse{Ok: true}, nil
}

// LoadProvisioningPackage handles package uploads
func (h *ControllerHandler) LoadProvisioningPackage(ctx context.Context, req *api.LoadProvisioningPackageRequest) (*api.LoadProvisioningPackageResponse, error) {
	if err := h.controllerService.LoadProvisioningPackage(ctx, req.Data); err != nil {
		h.logger.Warn("LoadProvisioningPackage failed",
			zap.Int("size", len(req.Data)),
			zap.Error(err))
		return nil, errors.ToGRPCStatus(err).Err()
	}
	return &api.LoadProvisioningPackageResponse{Ok: true}, nil
}

// Upload handles file uploads
func (h *ControllerHandler) Upload(ctx context.Context, req *api.UploadRequest) (*api.UploadResponse, error) {
	resp, err := h.controllerService.Upload(ctx, &req.File, req.UserID, req.Chunked, idempotencyKey(ctx))
	if err != nil {
		h.logger.Warn("Upload failed",
			zap.String("user_id", req.UserID),
			zap.String("file_id", req.File.ID),
			zap.Error(err))
		return nil, errors.ToGRPCStatus(err).Err()
	}
	return resp, nil
}

// Read handles file reads
func (h *ControllerHandler) Read(ctx context.Context, req *api.ReadRequest) (*api.ReadResponse, error) {
	resp, err := h.controllerService.Read(ctx, req.UserID, req.FileID, req.ShardID, req.ChunkNumber)
	if err != nil {
		h.logger.Warn("Read failed",
			zap.String("user_id", req.UserID),
			zap.String("file_id", req.FileID),
			zap.String("shard_id", req.ShardID),
			zap.Uint64("chunk_number", req.ChunkNumber),
			zap.Error(err))
		return nil, errors.ToGRPCStatus(err).Err()
	}
	return resp, nil
}

// UserShards handles placement lookups
func (h *ControllerHandler) UserShards(ctx context.Context, req *api.UserShardsRequest) (*api.UserShardsResponse, error) {
	user, err := h.controllerService.UserShards(ctx, req.UserID)
	if err != nil {
		return nil, errors.ToGRPCStatus(err).Err()
	}
	return &api.UserShardsResponse{
		UserID:       user.UserID,
		ShardIDs:     user.ShardIDs,
		FullShardIDs: user.FullShardIDs,
	}, nil
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(api.IdempotencyKeyHeader); len(values) > 0 {
		return values[0]
	}
	return ""
}
