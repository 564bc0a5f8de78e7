package client

import (
	"context"
	"fmt"
	"io"

	"github.com/devrev/datapond/internal/errors"
	"github.com/devrev/datapond/internal/model"
	"github.com/devrev/datapond/pkg/api"
	"google.golang.org/grpc/metadata"
)

// File describes the upload being sent.
type File struct {
	UserID string
	ID     string
	Name   string
	// Size is the declared total size. The first page reserves room for it.
	Size int64
	// IdempotencyKey makes retries safe; each page derives its own key.
	IdempotencyKey string
}

// Uploader splits content into model.WriteChunkSize pages. The first page
// creates or overwrites the file and later pages are sequenced appends.
type Uploader struct {
	client    api.ControllerServiceClient
	chunkSize int
}

// NewUploader creates an uploader with the default page size
func NewUploader(c api.ControllerServiceClient) *Uploader {
	return &Uploader{client: c, chunkSize: model.WriteChunkSize}
}

// Upload reads r to the end and uploads it page by page. It returns the
// response of the last page.
func (u *Uploader) Upload(ctx context.Context, file File, r io.Reader) (*model.FileResponse, error) {
	buf := make([]byte, u.chunkSize)
	var resp *model.FileResponse

	for seq := uint64(1); ; seq++ {
		n, err := io.ReadFull(r, buf)
		last := err == io.EOF || err == io.ErrUnexpectedEOF
		if err != nil && !last {
			return nil, fmt.Errorf("failed to read page %d: %w", seq, err)
		}
		if n == 0 && seq > 1 {
			break
		}

		resp, err = u.send(ctx, file, buf[:n], seq)
		if err != nil {
			return nil, err
		}
		if last {
			break
		}
	}
	return resp, nil
}

func (u *Uploader) send(ctx context.Context, file File, content []byte, seq uint64) (*model.FileResponse, error) {
	if file.IdempotencyKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, api.IdempotencyKeyHeader, fmt.Sprintf("%s/%d", file.IdempotencyKey, seq))
	}

	resp, err := u.client.Upload(ctx, &api.UploadRequest{
		File: model.FilePayload{
			ID:       file.ID,
			Name:     file.Name,
			Size:     file.Size,
			Content:  content,
			Sequence: seq,
		},
		UserID:  file.UserID,
		Chunked: seq > 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload page %d: %w", seq, errors.FromGRPC(err))
	}
	return resp, nil
}
