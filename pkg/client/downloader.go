package client

import (
	"context"
	"fmt"
	"io"

	"github.com/devrev/datapond/internal/errors"
	"github.com/devrev/datapond/pkg/api"
)

// Downloader reads a file page by page until the shard reports no more.
type Downloader struct {
	client api.ControllerServiceClient
}

// NewDownloader creates a downloader
func NewDownloader(c api.ControllerServiceClient) *Downloader {
	return &Downloader{client: c}
}

// Download writes the file to w and returns its name and length.
func (d *Downloader) Download(ctx context.Context, userID, fileID, shardID string, w io.Writer) (string, int64, error) {
	var (
		name    string
		written int64
	)
	for chunk := uint64(0); ; chunk++ {
		resp, err := d.client.Read(ctx, &api.ReadRequest{
			UserID:      userID,
			FileID:      fileID,
			ShardID:     shardID,
			ChunkNumber: chunk,
		})
		if err != nil {
			return name, written, fmt.Errorf("failed to read chunk %d: %w", chunk, errors.FromGRPC(err))
		}
		name = resp.Name

		n, err := w.Write(resp.Chunk)
		written += int64(n)
		if err != nil {
			return name, written, fmt.Errorf("failed to write chunk %d: %w", chunk, err)
		}
		if !resp.HasNext {
			return name, written, nil
		}
	}
}
