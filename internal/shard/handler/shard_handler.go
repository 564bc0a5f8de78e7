package handler

import (
	"context"

	"github.com/devrev/datapond/internal/errors"
	"github.com/devrev/datapond/internal/shard/service"
	"github.com/devrev/datapond/pkg/api"
	"go.uber.org/zap"
)

// ShardHandler implements the gRPC shard service
type ShardHandler struct {
	shardService *service.ShardService
	logger       *zap.Logger
}

// NewShardHandler creates a new shard handler
func NewShardHandler(shardSvc *service.ShardService, logger *zap.Logger) *ShardHandler {
	return &ShardHandler{
		shardService: shardSvc,
		logger:       logger,
	}
}

// Write handles write requests
func (h *ShardHandler) Write(ctx context.Context, req *api.WriteRequest) (*api.WriteResponse, error) {
	if err := h.shardService.Write(ctx, &req.File, req.Chunked); err != nil {
		h.logger.Warn("Write failed",
			zap.String("file_id", req.File.ID),
			zap.Bool("chunked", req.Chunked),
			zap.Error(err))
		return nil, errors.ToGRPCStatus(err).Err()
	}
	return &api.WriteResponse{Ok: true}, nil
}

// Read handles read requests
func (h *ShardHandler) Read(ctx context.Context, req *api.ShardReadRequest) (*api.ReadResponse, error) {
	resp, err := h.shardService.Read(ctx, req.FileID, req.ChunkNumber)
	if err != nil {
		h.logger.Warn("Read failed",
			zap.String("file_id", req.FileID),
			zap.Uint64("chunk_number", req.ChunkNumber),
			zap.Error(err))
		return nil, errors.ToGRPCStatus(err).Err()
	}
	return resp, nil
}

// Provision handles provisioning requests
func (h *ShardHandler) Provision(ctx context.Context, req *api.ProvisionRequest) (*api.ProvisionResponse, error) {
	if err := h.shardService.Provision(ctx, req.Package, req.InitArgs); err != nil {
		h.logger.Warn("Provision failed",
			zap.String("controller_id", req.InitArgs.ControllerID),
			zap.Error(err))
		return nil, errors.ToGRPCStatus(err).Err()
	}
	return &api.ProvisionResponse{Ok: true}, nil
}

// Stats handles utilization requests
func (h *ShardHandler) Stats(ctx context.Context, req *api.StatsRequest) (*api.StatsResponse, error) {
	u, err := h.shardService.Stats(ctx)
	if err != nil {
		return nil, errors.ToGRPCStatus(err).Err()
	}
	return u, nil
}
