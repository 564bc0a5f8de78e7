package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/devrev/datapond/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type engine struct {
	name string
	open func(t *testing.T) FileStore
}

func engines() []engine {
	return []engine{
		{"memory", func(t *testing.T) FileStore { return NewMemoryStore() }},
		{"badger", func(t *testing.T) FileStore {
			s, err := OpenBadgerStore(BadgerConfig{Dir: t.TempDir(), SegmentSize: 64}, zap.NewNop())
			require.NoError(t, err)
			return s
		}},
		{"badger-lz4", func(t *testing.T) FileStore {
			s, err := OpenBadgerStore(BadgerConfig{Dir: t.TempDir(), SegmentSize: 64, Compression: true}, zap.NewNop())
			require.NoError(t, err)
			return s
		}},
	}
}

func TestPutStatRead(t *testing.T) {
	ctx := context.Background()
	content := bytes.Repeat([]byte("0123456789"), 30)

	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			s := e.open(t)
			defer s.Close()

			created := time.Now().UTC().Truncate(time.Second)
			require.NoError(t, s.Put(ctx, &model.File{
				ID: "f1", Name: "a.txt", Size: 300, Content: content, CreatedAt: created, LastSequence: 1,
			}))

			info, err := s.Stat(ctx, "f1")
			require.NoError(t, err)
			assert.Equal(t, "a.txt", info.Name)
			assert.Equal(t, int64(300), info.Length)
			assert.Equal(t, uint64(1), info.LastSequence)
			assert.True(t, created.Equal(info.CreatedAt))

			all, err := s.ReadAt(ctx, "f1", 0, 1000)
			require.NoError(t, err)
			assert.Equal(t, content, all)

			mid, err := s.ReadAt(ctx, "f1", 55, 80)
			require.NoError(t, err)
			assert.Equal(t, content[55:135], mid)

			past, err := s.ReadAt(ctx, "f1", 300, 10)
			require.NoError(t, err)
			assert.Empty(t, past)

			_, err = s.Stat(ctx, "missing")
			assert.ErrorIs(t, err, ErrFileNotFound)
			_, err = s.ReadAt(ctx, "missing", 0, 1)
			assert.ErrorIs(t, err, ErrFileNotFound)
		})
	}
}

func TestAppendKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()

	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			s := e.open(t)
			defer s.Close()

			created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			require.NoError(t, s.Put(ctx, &model.File{ID: "f1", Name: "n", Content: []byte("abc"), CreatedAt: created}))
			require.NoError(t, s.Append(ctx, "f1", bytes.Repeat([]byte("d"), 100), 2))
			require.NoError(t, s.Append(ctx, "f1", []byte("e"), 0))

			info, err := s.Stat(ctx, "f1")
			require.NoError(t, err)
			assert.Equal(t, int64(104), info.Length)
			assert.Equal(t, uint64(2), info.LastSequence)
			assert.True(t, created.Equal(info.CreatedAt))

			got, err := s.ReadAt(ctx, "f1", 0, 200)
			require.NoError(t, err)
			want := append(append([]byte("abc"), bytes.Repeat([]byte("d"), 100)...), 'e')
			assert.Equal(t, want, got)

			assert.ErrorIs(t, s.Append(ctx, "missing", []byte("x"), 0), ErrFileNotFound)
		})
	}
}

func TestOverwriteAndUsage(t *testing.T) {
	ctx := context.Background()

	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			s := e.open(t)
			defer s.Close()

			require.NoError(t, s.Put(ctx, &model.File{ID: "f1", Content: bytes.Repeat([]byte("x"), 200)}))
			require.NoError(t, s.Put(ctx, &model.File{ID: "f2", Content: []byte("yy")}))
			require.NoError(t, s.Append(ctx, "f2", []byte("zz"), 0))

			used, count, err := s.Usage(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(204), used)
			assert.Equal(t, int64(2), count)

			require.NoError(t, s.Put(ctx, &model.File{ID: "f1", Content: []byte("short")}))
			got, err := s.ReadAt(ctx, "f1", 0, 100)
			require.NoError(t, err)
			assert.Equal(t, []byte("short"), got)

			used, count, err = s.Usage(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(9), used)
			assert.Equal(t, int64(2), count)
		})
	}
}

func TestBinding(t *testing.T) {
	ctx := context.Background()

	for _, e := range engines() {
		t.Run(e.name, func(t *testing.T) {
			s := e.open(t)
			defer s.Close()

			b, err := s.Binding(ctx)
			require.NoError(t, err)
			assert.Nil(t, b)

			args := &model.ShardInitArgs{ControllerID: "controller", CapacityBytes: 1024, PackageDigest: "abc"}
			require.NoError(t, s.SaveBinding(ctx, args))
			b, err = s.Binding(ctx)
			require.NoError(t, err)
			assert.Equal(t, args, b)
		})
	}
}

func TestBadgerReopenKeepsFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenBadgerStore(BadgerConfig{Dir: dir, Compression: true}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, &model.File{ID: "f1", Name: "n", Content: []byte("hello")}))
	require.NoError(t, s.Append(ctx, "f1", []byte(" world"), 0))
	require.NoError(t, s.Close())

	s, err = OpenBadgerStore(BadgerConfig{Dir: dir}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	got, err := s.ReadAt(ctx, "f1", 0, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), got)
}

func TestBadgerCompressedPutSpansTransactions(t *testing.T) {
	ctx := context.Background()
	s, err := OpenBadgerStore(BadgerConfig{Dir: t.TempDir(), Compression: true}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	// Each 1 MiB segment compresses to roughly its random prefix, small
	// enough to stay inline in the LSM tree.
	content := make([]byte, 11<<20)
	for off := 0; off < len(content); off += 1 << 20 {
		_, err := rand.Read(content[off : off+950<<10])
		require.NoError(t, err)
	}

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Put(ctx, &model.File{ID: "big", Size: int64(len(content)), Content: content, LastSequence: 1}))
	}

	info, err := s.Stat(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), info.Length)

	got, err := s.ReadAt(ctx, "big", 0, int64(len(content)))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))

	used, count, err := s.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), used)
	assert.Equal(t, int64(1), count)
}

func TestSegmentEncoding(t *testing.T) {
	compressible := bytes.Repeat([]byte("a"), 4096)
	enc, err := encodeSegment(compressible, true)
	require.NoError(t, err)
	assert.Equal(t, segmentLZ4, enc[0])
	assert.Less(t, len(enc), len(compressible))

	dec, err := decodeSegment(enc)
	require.NoError(t, err)
	assert.Equal(t, compressible, dec)

	raw, err := encodeSegment([]byte("ab"), false)
	require.NoError(t, err)
	assert.Equal(t, []byte{segmentRaw, 'a', 'b'}, raw)

	_, err = decodeSegment([]byte{9, 1})
	assert.Error(t, err)
}
