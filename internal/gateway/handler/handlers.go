// Package handler provides HTTP request handlers for the gateway.
package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/devrev/datapond/internal/gateway/httperr"
	"github.com/devrev/datapond/internal/gateway/metrics"
	"github.com/devrev/datapond/internal/model"
	"github.com/devrev/datapond/pkg/client"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	fileNameHeader       = "X-File-Name"
	idempotencyKeyHeader = "Idempotency-Key"
)

// FileService is the controller surface the gateway needs.
type FileService interface {
	Upload(ctx context.Context, file client.File, r io.Reader) (*model.FileResponse, error)
	Chunk(ctx context.Context, userID, fileID, shardID string, chunkNumber uint64) (*model.FileChunkResponse, error)
	UserShards(ctx context.Context, userID string) (*model.UserRecord, error)
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	files          FileService
	errorHandler   *httperr.Handler
	metrics        *metrics.Metrics
	logger         *zap.Logger
	timeout        time.Duration
	maxUploadBytes int64
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	files FileService,
	errorHandler *httperr.Handler,
	m *metrics.Metrics,
	logger *zap.Logger,
	timeout time.Duration,
	maxUploadBytes int64,
) *Handlers {
	return &Handlers{
		files:          files,
		errorHandler:   errorHandler,
		metrics:        m,
		logger:         logger,
		timeout:        timeout,
		maxUploadBytes: maxUploadBytes,
	}
}

type shardsResponse struct {
	UserID       string   `json:"user_id"`
	ShardIDs     []string `json:"shard_ids"`
	FullShardIDs []string `json:"full_shard_ids"`
}

// UploadFile handles PUT /v1/users/{user_id}/files/{file_id}.
func (h *Handlers) UploadFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	size := r.ContentLength
	if size < 0 {
		size = 0
	}
	if size > h.maxUploadBytes {
		h.errorHandler.WriteTooLarge(w, r)
		return
	}

	file := client.File{
		UserID:         vars["user_id"],
		ID:             vars["file_id"],
		Name:           r.Header.Get(fileNameHeader),
		Size:           size,
		IdempotencyKey: r.Header.Get(idempotencyKeyHeader),
	}
	if file.Name == "" {
		file.Name = file.ID
	}

	body := &countingReader{r: http.MaxBytesReader(w, r.Body, h.maxUploadBytes)}
	resp, err := h.files.Upload(r.Context(), file, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			h.errorHandler.WriteTooLarge(w, r)
			return
		}
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.metrics.AddUploaded(body.n)

	h.logger.Info("File uploaded",
		zap.String("user_id", file.UserID),
		zap.String("file_id", file.ID),
		zap.String("shard_id", resp.ShardID),
		zap.Int64("bytes", body.n))
	h.writeJSONResponse(w, http.StatusCreated, resp)
}

// DownloadFile handles GET /v1/users/{user_id}/files/{file_id}?shard_id=.
// The first page is fetched before any byte is written, so lookup errors
// still produce a proper error response.
func (h *Handlers) DownloadFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, fileID := vars["user_id"], vars["file_id"]
	shardID := r.URL.Query().Get("shard_id")
	if shardID == "" {
		h.errorHandler.WriteValidationError(w, r, "shard_id query parameter is required")
		return
	}

	chunk, err := h.chunk(r.Context(), userID, fileID, shardID, 0)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(fileNameHeader, chunk.Name)
	w.WriteHeader(http.StatusOK)

	var written int64
	for n := uint64(1); ; n++ {
		m, err := w.Write(chunk.Chunk)
		written += int64(m)
		if err != nil {
			h.logger.Warn("Client went away during download",
				zap.String("file_id", fileID),
				zap.Error(err))
			break
		}
		if !chunk.HasNext {
			break
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		chunk, err = h.chunk(r.Context(), userID, fileID, shardID, n)
		if err != nil {
			// Headers are already sent; the truncated body is the signal.
			h.logger.Error("Download aborted",
				zap.String("user_id", userID),
				zap.String("file_id", fileID),
				zap.Uint64("chunk_number", n),
				zap.Error(err))
			break
		}
	}
	h.metrics.AddDownloaded(written)
}

// ReadChunk handles GET /v1/users/{user_id}/files/{file_id}/chunks/{n}?shard_id=.
func (h *Handlers) ReadChunk(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	shardID := r.URL.Query().Get("shard_id")
	if shardID == "" {
		h.errorHandler.WriteValidationError(w, r, "shard_id query parameter is required")
		return
	}
	n, err := strconv.ParseUint(vars["n"], 10, 64)
	if err != nil {
		h.errorHandler.WriteValidationError(w, r, "chunk number must be a non-negative integer")
		return
	}

	chunk, err := h.chunk(r.Context(), vars["user_id"], vars["file_id"], shardID, n)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.metrics.AddDownloaded(int64(len(chunk.Chunk)))
	h.writeJSONResponse(w, http.StatusOK, chunk)
}

// UserShards handles GET /v1/users/{user_id}/shards.
func (h *Handlers) UserShards(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, err := h.files.UserShards(ctx, mux.Vars(r)["user_id"])
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, shardsResponse{
		UserID:       user.UserID,
		ShardIDs:     user.ShardIDs,
		FullShardIDs: user.FullShardIDs,
	})
}

func (h *Handlers) chunk(ctx context.Context, userID, fileID, shardID string, n uint64) (*model.FileChunkResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.files.Chunk(ctx, userID, fileID, shardID, n)
}

func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
