package storage

import (
	"context"
	"sync"

	"github.com/devrev/datapond/internal/model"
)

// MemoryStore is a map-backed FileStore.
type MemoryStore struct {
	mu      sync.RWMutex
	files   map[string]*model.File
	used    int64
	binding *model.ShardInitArgs
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files: make(map[string]*model.File),
	}
}

// Put implements FileStore
func (m *MemoryStore) Put(ctx context.Context, f *model.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.files[f.ID]; ok {
		m.used -= int64(len(old.Content))
	}
	stored := *f
	stored.Content = append([]byte(nil), f.Content...)
	m.files[f.ID] = &stored
	m.used += int64(len(stored.Content))
	return nil
}

// Append implements FileStore
func (m *MemoryStore) Append(ctx context.Context, id string, content []byte, sequence uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok {
		return ErrFileNotFound
	}
	f.Content = append(f.Content, content...)
	if sequence > 0 {
		f.LastSequence = sequence
	}
	m.used += int64(len(content))
	return nil
}

// Stat implements FileStore
func (m *MemoryStore) Stat(ctx context.Context, id string) (*model.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[id]
	if !ok {
		return nil, ErrFileNotFound
	}
	return &model.FileInfo{
		ID:           f.ID,
		Name:         f.Name,
		Size:         f.Size,
		Length:       int64(len(f.Content)),
		CreatedAt:    f.CreatedAt,
		LastSequence: f.LastSequence,
	}, nil
}

// ReadAt implements FileStore
func (m *MemoryStore) ReadAt(ctx context.Context, id string, offset, length int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[id]
	if !ok {
		return nil, ErrFileNotFound
	}
	start, end := clampRange(int64(len(f.Content)), offset, length)
	return append([]byte{}, f.Content[start:end]...), nil
}

// Usage implements FileStore
func (m *MemoryStore) Usage(ctx context.Context) (int64, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used, int64(len(m.files)), nil
}

// Binding implements FileStore
func (m *MemoryStore) Binding(ctx context.Context) (*model.ShardInitArgs, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.binding == nil {
		return nil, nil
	}
	b := *m.binding
	return &b, nil
}

// SaveBinding implements FileStore
func (m *MemoryStore) SaveBinding(ctx context.Context, args *model.ShardInitArgs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := *args
	m.binding = &b
	return nil
}

// Close implements FileStore
func (m *MemoryStore) Close() error {
	return nil
}
