// Package gossip advertises shard pool members over hashicorp/memberlist.
// Shards publish their PoolMember record as node metadata; the controller
// joins the same cluster and reads the records back.
package gossip

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/datapond/internal/model"
	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
)

// Config holds gossip protocol configuration
type Config struct {
	BindAddr       string
	BindPort       int
	SeedNodes      []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
}

// Service manages cluster membership and pool member advertisement
type Service struct {
	memberlist *memberlist.Memberlist
	name       string
	logger     *zap.Logger

	mu   sync.RWMutex
	meta []byte
}

// New joins (or starts) a gossip cluster under the given node name.
func New(cfg Config, name string, logger *zap.Logger) (*Service, error) {
	s := &Service{
		name:   name,
		logger: logger,
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = name
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = cfg.ProbeTimeout
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	mlConfig.Delegate = s
	mlConfig.Events = &eventDelegate{service: s}
	mlConfig.LogOutput = zap.NewStdLog(logger.Named("memberlist")).Writer()

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	s.memberlist = ml

	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
	}

	return s, nil
}

// Advertise publishes member as this node's metadata.
func (s *Service) Advertise(member model.PoolMember) error {
	data, err := json.Marshal(member)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.meta = data
	s.mu.Unlock()

	if err := s.memberlist.UpdateNode(5 * time.Second); err != nil {
		return fmt.Errorf("failed to broadcast node metadata: %w", err)
	}
	return nil
}

// PoolMembers returns the pool members currently alive in the cluster,
// excluding this node.
func (s *Service) PoolMembers() []model.PoolMember {
	var members []model.PoolMember
	for _, node := range s.memberlist.Members() {
		if node.Name == s.name || len(node.Meta) == 0 {
			continue
		}
		var m model.PoolMember
		if err := json.Unmarshal(node.Meta, &m); err != nil {
			s.logger.Debug("Ignoring node with foreign metadata",
				zap.String("node", node.Name),
				zap.Error(err))
			continue
		}
		members = append(members, m)
	}
	return members
}

// Port returns the bound gossip port.
func (s *Service) Port() int {
	return int(s.memberlist.LocalNode().Port)
}

// Shutdown leaves the cluster and stops the gossip service
func (s *Service) Shutdown() error {
	if err := s.memberlist.Leave(time.Second); err != nil {
		s.logger.Warn("Failed to leave gossip cluster", zap.Error(err))
	}
	return s.memberlist.Shutdown()
}

// NodeMeta implements memberlist.Delegate
func (s *Service) NodeMeta(limit int) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.meta) > limit {
		s.logger.Error("Node metadata exceeds gossip limit", zap.Int("limit", limit))
		return nil
	}
	return s.meta
}

// NotifyMsg implements memberlist.Delegate
func (s *Service) NotifyMsg([]byte) {}

// GetBroadcasts implements memberlist.Delegate
func (s *Service) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (s *Service) LocalState(join bool) []byte {
	return nil
}

// MergeRemoteState implements memberlist.Delegate
func (s *Service) MergeRemoteState(buf []byte, join bool) {}

// eventDelegate logs memberlist events
type eventDelegate struct {
	service *Service
}

// NotifyJoin is called when a node joins
func (d *eventDelegate) NotifyJoin(node *memberlist.Node) {
	d.service.logger.Info("Node joined",
		zap.String("node", node.Name),
		zap.String("addr", node.Address()))
}

// NotifyLeave is called when a node leaves
func (d *eventDelegate) NotifyLeave(node *memberlist.Node) {
	d.service.logger.Info("Node left",
		zap.String("node", node.Name))
}

// NotifyUpdate is called when a node is updated
func (d *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	d.service.logger.Debug("Node updated",
		zap.String("node", node.Name))
}
