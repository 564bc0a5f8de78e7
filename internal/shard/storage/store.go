// Package storage holds the shard's file table. Engines are single-writer:
// callers serialize mutations, engines only guarantee that each mutation is
// applied atomically.
package storage

import (
	"context"
	"errors"

	"github.com/devrev/datapond/internal/model"
)

// ErrFileNotFound is returned for unknown file ids.
var ErrFileNotFound = errors.New("file not found")

// FileStore is the shard file table.
type FileStore interface {
	// Put creates or replaces a file wholesale.
	Put(ctx context.Context, f *model.File) error
	// Append adds content to an existing file. A non-zero sequence becomes
	// the file's LastSequence.
	Append(ctx context.Context, id string, content []byte, sequence uint64) error
	// Stat returns file metadata without content.
	Stat(ctx context.Context, id string) (*model.FileInfo, error)
	// ReadAt returns up to length bytes starting at offset.
	ReadAt(ctx context.Context, id string, offset, length int64) ([]byte, error)
	// Usage reports committed content bytes and file count.
	Usage(ctx context.Context) (usedBytes, fileCount int64, err error)
	// Binding returns the persisted provisioning arguments, or nil.
	Binding(ctx context.Context) (*model.ShardInitArgs, error)
	// SaveBinding persists provisioning arguments.
	SaveBinding(ctx context.Context, args *model.ShardInitArgs) error
	Close() error
}

// clampRange bounds [offset, offset+length) to a file of size total.
func clampRange(total, offset, length int64) (int64, int64) {
	if offset < 0 {
		offset = 0
	}
	if offset >= total || length <= 0 {
		return total, total
	}
	end := total
	if length < total-offset {
		end = offset + length
	}
	return offset, end
}
