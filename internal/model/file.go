package model

import "time"

const (
	// ReadChunkSize is the page size served by shard reads: floor(1.8 MiB).
	// Page n starts at n*ReadChunkSize, so from page 2 on boundaries sit
	// below the truncated n*1887436.8 offsets. Concatenated pages are the
	// same either way.
	ReadChunkSize = 1887436

	// WriteChunkSize is the page size the client SDK uploads with: 1.5 MiB.
	// It is intentionally independent of ReadChunkSize.
	WriteChunkSize = 1536 * 1024
)

// File is the shard-local record of an uploaded file.
type File struct {
	ID           string
	Name         string
	Size         int64
	Content      []byte
	CreatedAt    time.Time
	LastSequence uint64
}

// FileInfo is a File without its content.
type FileInfo struct {
	ID           string
	Name         string
	Size         int64
	Length       int64
	CreatedAt    time.Time
	LastSequence uint64
}

// FilePayload is the body of an upload. Sequence is the optional 1-based
// chunk index; zero disables ordering checks.
type FilePayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Content  []byte `json:"content"`
	Sequence uint64 `json:"sequence,omitempty"`
}

// FileResponse is returned by a successful upload.
type FileResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	ShardID string `json:"shard_id"`
}

// FileChunkResponse is one page of a file read.
type FileChunkResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Chunk   []byte `json:"chunk"`
	HasNext bool   `json:"has_next"`
}
