package client

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/devrev/datapond/internal/errors"
	"github.com/devrev/datapond/internal/model"
	"github.com/devrev/datapond/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type uploadCall struct {
	sequence uint64
	chunked  bool
	size     int
	key      string
}

// fakeController stores uploads in memory and pages reads like a shard.
type fakeController struct {
	api.ControllerServiceClient

	mu      sync.Mutex
	files   map[string][]byte
	names   map[string]string
	calls   []uploadCall
	readErr error
}

func newFakeController() *fakeController {
	return &fakeController{files: make(map[string][]byte), names: make(map[string]string)}
}

func (f *fakeController) Upload(ctx context.Context, in *api.UploadRequest, opts ...grpc.CallOption) (*api.UploadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := uploadCall{sequence: in.File.Sequence, chunked: in.Chunked, size: len(in.File.Content)}
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		if keys := md.Get(api.IdempotencyKeyHeader); len(keys) > 0 {
			call.key = keys[0]
		}
	}
	f.calls = append(f.calls, call)

	key := in.UserID + "/" + in.File.ID
	if in.Chunked {
		f.files[key] = append(f.files[key], in.File.Content...)
	} else {
		f.files[key] = append([]byte(nil), in.File.Content...)
		f.names[key] = in.File.Name
	}
	return &api.UploadResponse{ID: in.File.ID, Name: in.File.Name, ShardID: "shard-1"}, nil
}

func (f *fakeController) Read(ctx context.Context, in *api.ReadRequest, opts ...grpc.CallOption) (*api.ReadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}

	key := in.UserID + "/" + in.FileID
	content := f.files[key]
	resp := &api.ReadResponse{ID: in.FileID, Name: f.names[key]}
	if len(content) < model.ReadChunkSize {
		resp.Chunk = content
		return resp, nil
	}
	offset := int(in.ChunkNumber) * model.ReadChunkSize
	if offset >= len(content) {
		return resp, nil
	}
	end := offset + model.ReadChunkSize
	if end > len(content) {
		end = len(content)
	}
	resp.Chunk = content[offset:end]
	resp.HasNext = end < len(content)
	return resp, nil
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 253)
	}
	return b
}

func TestUploadSmallFileIsSingleUnchunkedCall(t *testing.T) {
	fake := newFakeController()
	c := New(fake)

	resp, err := c.Uploader().Upload(context.Background(), File{UserID: "alice", ID: "f1", Name: "a.txt", Size: 10}, bytes.NewReader(payload(10)))
	require.NoError(t, err)
	assert.Equal(t, "shard-1", resp.ShardID)

	require.Len(t, fake.calls, 1)
	assert.Equal(t, uploadCall{sequence: 1, chunked: false, size: 10}, fake.calls[0])
}

func TestUploadExactPageIsSingleCall(t *testing.T) {
	fake := newFakeController()
	_, err := New(fake).Uploader().Upload(context.Background(), File{UserID: "alice", ID: "f1"}, bytes.NewReader(payload(model.WriteChunkSize)))
	require.NoError(t, err)
	require.Len(t, fake.calls, 1)
	assert.False(t, fake.calls[0].chunked)
}

func TestUploadEmptyFileCreatesIt(t *testing.T) {
	fake := newFakeController()
	_, err := New(fake).Uploader().Upload(context.Background(), File{UserID: "alice", ID: "empty"}, bytes.NewReader(nil))
	require.NoError(t, err)
	require.Len(t, fake.calls, 1)
	assert.Equal(t, 0, fake.calls[0].size)
}

func TestUploadLargeFileIsSequenced(t *testing.T) {
	fake := newFakeController()
	content := payload(4 << 20)

	_, err := New(fake).Uploader().Upload(context.Background(), File{
		UserID:         "alice",
		ID:             "f1",
		Size:           int64(len(content)),
		IdempotencyKey: "k",
	}, bytes.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, []uploadCall{
		{sequence: 1, chunked: false, size: model.WriteChunkSize, key: "k/1"},
		{sequence: 2, chunked: true, size: model.WriteChunkSize, key: "k/2"},
		{sequence: 3, chunked: true, size: len(content) - 2*model.WriteChunkSize, key: "k/3"},
	}, fake.calls)
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	fake := newFakeController()
	c := New(fake)
	ctx := context.Background()

	for _, n := range []int{10, model.ReadChunkSize, 2 << 20, 5<<20 + 7} {
		content := payload(n)
		_, err := c.Uploader().Upload(ctx, File{UserID: "alice", ID: "f", Name: "f.bin", Size: int64(n)}, bytes.NewReader(content))
		require.NoError(t, err)

		var out bytes.Buffer
		name, written, err := c.Downloader().Download(ctx, "alice", "f", "shard-1", &out)
		require.NoError(t, err)
		assert.Equal(t, "f.bin", name)
		assert.Equal(t, int64(n), written)
		assert.Equal(t, content, out.Bytes(), "size %d", n)
	}
}

func TestDownloadSurfacesErrorKind(t *testing.T) {
	fake := newFakeController()
	fake.readErr = errors.ToGRPCStatus(errors.ShardNotFound("shard-9")).Err()

	_, _, err := NewDownloader(fake).Download(context.Background(), "alice", "f", "shard-9", &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}
