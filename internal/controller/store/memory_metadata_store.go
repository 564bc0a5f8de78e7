package store

import (
	"context"
	"sort"
	"sync"

	"github.com/devrev/datapond/internal/model"
)

// MemoryMetadataStore implements MetadataStore in process memory
type MemoryMetadataStore struct {
	mu     sync.RWMutex
	tenant *model.Tenant
	pkg    *model.ProvisioningPackage
	users  map[string]*model.UserRecord
	files  map[fileKey]string
	shards map[string]*model.ShardNode
}

type fileKey struct {
	userID string
	fileID string
}

// NewMemoryMetadataStore creates an empty in-memory metadata store
func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{
		users:  make(map[string]*model.UserRecord),
		files:  make(map[fileKey]string),
		shards: make(map[string]*model.ShardNode),
	}
}

// GetTenant retrieves the registered tenant
func (s *MemoryMetadataStore) GetTenant(ctx context.Context) (*model.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tenant == nil {
		return nil, ErrNotFound
	}
	t := *s.tenant
	return &t, nil
}

// CreateTenant registers the tenant
func (s *MemoryMetadataStore) CreateTenant(ctx context.Context, tenant *model.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tenant != nil {
		return ErrAlreadyExists
	}
	t := *tenant
	s.tenant = &t
	return nil
}

// GetPackage retrieves the current provisioning package
func (s *MemoryMetadataStore) GetPackage(ctx context.Context) (*model.ProvisioningPackage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pkg == nil {
		return nil, ErrNotFound
	}
	p := *s.pkg
	return &p, nil
}

// PutPackage replaces the provisioning package
func (s *MemoryMetadataStore) PutPackage(ctx context.Context, pkg *model.ProvisioningPackage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := *pkg
	p.Data = append([]byte(nil), pkg.Data...)
	s.pkg = &p
	return nil
}

// GetUser retrieves a user placement record
func (s *MemoryMetadataStore) GetUser(ctx context.Context, userID string) (*model.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

// PutUser creates or replaces a user placement record
func (s *MemoryMetadataStore) PutUser(ctx context.Context, user *model.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.UserID] = user.Clone()
	return nil
}

// GetFileLocation returns the shard holding a user's file
func (s *MemoryMetadataStore) GetFileLocation(ctx context.Context, userID, fileID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shardID, ok := s.files[fileKey{userID, fileID}]
	if !ok {
		return "", ErrNotFound
	}
	return shardID, nil
}

// PutFileLocation records the shard holding a user's file
func (s *MemoryMetadataStore) PutFileLocation(ctx context.Context, userID, fileID, shardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[fileKey{userID, fileID}] = shardID
	return nil
}

// ListShardNodes lists provisioned shards ordered by creation time
func (s *MemoryMetadataStore) ListShardNodes(ctx context.Context) ([]*model.ShardNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := make([]*model.ShardNode, 0, len(s.shards))
	for _, n := range s.shards {
		c := *n
		nodes = append(nodes, &c)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].CreatedAt.Equal(nodes[j].CreatedAt) {
			return nodes[i].ShardID < nodes[j].ShardID
		}
		return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
	})
	return nodes, nil
}

// GetShardNode retrieves a provisioned shard
func (s *MemoryMetadataStore) GetShardNode(ctx context.Context, shardID string) (*model.ShardNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.shards[shardID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *n
	return &c, nil
}

// AddShardNode records a provisioned shard
func (s *MemoryMetadataStore) AddShardNode(ctx context.Context, node *model.ShardNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shards[node.ShardID]; ok {
		return ErrAlreadyExists
	}
	c := *node
	s.shards[node.ShardID] = &c
	return nil
}

// RemoveShardNode forgets a provisioned shard
func (s *MemoryMetadataStore) RemoveShardNode(ctx context.Context, shardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.shards, shardID)
	return nil
}

// Ping implements MetadataStore
func (s *MemoryMetadataStore) Ping(ctx context.Context) error {
	return nil
}

// Close implements MetadataStore
func (s *MemoryMetadataStore) Close() {}
