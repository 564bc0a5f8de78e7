package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/devrev/datapond/internal/model"
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const (
	fileKeyPrefix  = "f/"
	usedBytesKey   = "u/used"
	fileCountKey   = "u/count"
	bindingKey     = "b/binding"
	defaultSegment = 1024 * 1024
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	Dir         string
	InMemory    bool
	Compression bool
	// SegmentSize bounds the size of a segment written by Put.
	SegmentSize int
}

// fileMeta is the persisted form of a file's metadata. Content lives in
// segments keyed by generation and index; Segments holds their raw lengths.
type fileMeta struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	Length       int64     `json:"length"`
	CreatedAt    time.Time `json:"created_at"`
	LastSequence uint64    `json:"last_sequence"`
	Generation   uint64    `json:"generation"`
	Segments     []int64   `json:"segments"`
}

func (m *fileMeta) info() *model.FileInfo {
	return &model.FileInfo{
		ID:           m.ID,
		Name:         m.Name,
		Size:         m.Size,
		Length:       m.Length,
		CreatedAt:    m.CreatedAt,
		LastSequence: m.LastSequence,
	}
}

// BadgerStore is a FileStore on an embedded badger database. An append
// writes one segment and the updated metadata in a single transaction. Put
// writes a new generation and drops the previous one after its metadata
// commits.
type BadgerStore struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *zap.Logger
}

// OpenBadgerStore opens (or creates) a badger-backed store.
func OpenBadgerStore(cfg BadgerConfig, logger *zap.Logger) (*BadgerStore, error) {
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = defaultSegment
	}
	opts := badger.DefaultOptions(cfg.Dir).
		WithLogger(badgerLogger{logger.Sugar()})
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerStore{db: db, cfg: cfg, logger: logger}, nil
}

// Put implements FileStore. The new generation's segments are written in
// batches that badger splits across transactions; readers switch to them
// only when the metadata commits. Writes to one file must be serialized.
func (s *BadgerStore) Put(ctx context.Context, f *model.File) error {
	var generation uint64
	err := s.db.View(func(txn *badger.Txn) error {
		old, err := getMeta(txn, f.ID)
		if errors.Is(err, ErrFileNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		generation = old.Generation
		return nil
	})
	if err != nil {
		return err
	}

	meta := &fileMeta{
		ID:           f.ID,
		Name:         f.Name,
		Size:         f.Size,
		Length:       int64(len(f.Content)),
		CreatedAt:    f.CreatedAt,
		LastSequence: f.LastSequence,
		Generation:   generation + 1,
	}
	if err := s.writeSegments(meta, f.Content); err != nil {
		s.dropGeneration(meta)
		return err
	}

	var stale *fileMeta
	err = s.db.Update(func(txn *badger.Txn) error {
		old, err := getMeta(txn, f.ID)
		if err != nil && !errors.Is(err, ErrFileNotFound) {
			return err
		}

		usedDelta := meta.Length
		countDelta := int64(1)
		var current uint64
		if old != nil {
			current = old.Generation
			usedDelta -= old.Length
			countDelta = 0
		}
		if current != generation {
			return fmt.Errorf("file %s was replaced during write", f.ID)
		}
		stale = old

		if err := putMeta(txn, meta); err != nil {
			return err
		}
		return addCounters(txn, usedDelta, countDelta)
	})
	if err != nil {
		s.dropGeneration(meta)
		return err
	}

	if stale != nil {
		s.dropGeneration(stale)
	}
	return nil
}

// Append implements FileStore
func (s *BadgerStore) Append(ctx context.Context, id string, content []byte, sequence uint64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		meta, err := getMeta(txn, id)
		if err != nil {
			return err
		}
		if len(content) > 0 {
			if err := s.setSegment(txn, meta, content); err != nil {
				return err
			}
		}
		meta.Length += int64(len(content))
		if sequence > 0 {
			meta.LastSequence = sequence
		}
		if err := putMeta(txn, meta); err != nil {
			return err
		}
		return addCounters(txn, int64(len(content)), 0)
	})
}

// Stat implements FileStore
func (s *BadgerStore) Stat(ctx context.Context, id string) (*model.FileInfo, error) {
	var info *model.FileInfo
	err := s.db.View(func(txn *badger.Txn) error {
		meta, err := getMeta(txn, id)
		if err != nil {
			return err
		}
		info = meta.info()
		return nil
	})
	return info, err
}

// ReadAt implements FileStore
func (s *BadgerStore) ReadAt(ctx context.Context, id string, offset, length int64) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		meta, err := getMeta(txn, id)
		if err != nil {
			return err
		}
		start, end := clampRange(meta.Length, offset, length)
		out = make([]byte, 0, end-start)

		var segStart int64
		for idx, segLen := range meta.Segments {
			segEnd := segStart + segLen
			if segEnd > start && segStart < end {
				data, err := getSegment(txn, meta.ID, meta.Generation, idx)
				if err != nil {
					return err
				}
				from := max(start, segStart) - segStart
				to := min(end, segEnd) - segStart
				out = append(out, data[from:to]...)
			}
			if segEnd >= end {
				break
			}
			segStart = segEnd
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Usage implements FileStore
func (s *BadgerStore) Usage(ctx context.Context) (int64, int64, error) {
	var used, count int64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if used, err = getCounter(txn, usedBytesKey); err != nil {
			return err
		}
		count, err = getCounter(txn, fileCountKey)
		return err
	})
	return used, count, err
}

// Binding implements FileStore
func (s *BadgerStore) Binding(ctx context.Context) (*model.ShardInitArgs, error) {
	var args *model.ShardInitArgs
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(bindingKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			args = &model.ShardInitArgs{}
			return json.Unmarshal(val, args)
		})
	})
	return args, err
}

// SaveBinding implements FileStore
func (s *BadgerStore) SaveBinding(ctx context.Context, args *model.ShardInitArgs) error {
	val, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(bindingKey), val)
	})
}

// Close implements FileStore
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) writeSegments(meta *fileMeta, content []byte) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for off := 0; off < len(content); off += s.cfg.SegmentSize {
		end := min(off+s.cfg.SegmentSize, len(content))
		value, err := encodeSegment(content[off:end], s.cfg.Compression)
		if err != nil {
			return err
		}
		if err := wb.Set(segmentKey(meta.ID, meta.Generation, len(meta.Segments)), value); err != nil {
			return fmt.Errorf("failed to write segment: %w", err)
		}
		meta.Segments = append(meta.Segments, int64(end-off))
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to write segments: %w", err)
	}
	return nil
}

func (s *BadgerStore) setSegment(txn *badger.Txn, meta *fileMeta, data []byte) error {
	value, err := encodeSegment(data, s.cfg.Compression)
	if err != nil {
		return err
	}
	key := segmentKey(meta.ID, meta.Generation, len(meta.Segments))
	if err := txn.Set(key, value); err != nil {
		return fmt.Errorf("failed to write segment: %w", err)
	}
	meta.Segments = append(meta.Segments, int64(len(data)))
	return nil
}

// dropGeneration removes the segments of a replaced or abandoned generation.
// Failures
// leave unreachable segments behind and are only logged.
func (s *BadgerStore) dropGeneration(meta *fileMeta) {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for idx := range meta.Segments {
		if err := wb.Delete(segmentKey(meta.ID, meta.Generation, idx)); err != nil {
			s.logger.Warn("Failed to drop stale segment",
				zap.String("file_id", meta.ID),
				zap.Uint64("generation", meta.Generation),
				zap.Error(err))
			return
		}
	}
	if err := wb.Flush(); err != nil {
		s.logger.Warn("Failed to drop stale generation",
			zap.String("file_id", meta.ID),
			zap.Uint64("generation", meta.Generation),
			zap.Error(err))
	}
}

func fileKey(id string) []byte {
	return []byte(fileKeyPrefix + id)
}

// segmentKey hex-encodes the id so that ids containing '/' cannot collide.
func segmentKey(id string, generation uint64, index int) []byte {
	return []byte(fmt.Sprintf("s/%x/%d/%d", id, generation, index))
}

func getMeta(txn *badger.Txn, id string) (*fileMeta, error) {
	item, err := txn.Get(fileKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file metadata: %w", err)
	}
	meta := &fileMeta{}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, meta)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode file metadata: %w", err)
	}
	return meta, nil
}

func putMeta(txn *badger.Txn, meta *fileMeta) error {
	val, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return txn.Set(fileKey(meta.ID), val)
}

func getSegment(txn *badger.Txn, id string, generation uint64, index int) ([]byte, error) {
	item, err := txn.Get(segmentKey(id, generation, index))
	if err != nil {
		return nil, fmt.Errorf("failed to read segment %d of %s: %w", index, id, err)
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return decodeSegment(value)
}

func getCounter(txn *badger.Txn, key string) (int64, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt counter %s", key)
		}
		v = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return v, err
}

func addCounters(txn *badger.Txn, usedDelta, countDelta int64) error {
	for key, delta := range map[string]int64{usedBytesKey: usedDelta, fileCountKey: countDelta} {
		if delta == 0 {
			continue
		}
		v, err := getCounter(txn, key)
		if err != nil {
			return err
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(v+delta))
		if err := txn.Set([]byte(key), buf); err != nil {
			return err
		}
	}
	return nil
}

// badgerLogger routes badger's logging through zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}
