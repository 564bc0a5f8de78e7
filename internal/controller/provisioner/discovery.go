package provisioner

import (
	"context"

	"github.com/devrev/datapond/internal/gossip"
	"github.com/devrev/datapond/internal/model"
)

// Discovery lists the shard processes available to the remote provisioner
type Discovery interface {
	Members(ctx context.Context) ([]model.PoolMember, error)
}

// StaticDiscovery serves a fixed member list from configuration
type StaticDiscovery struct {
	members []model.PoolMember
}

// NewStaticDiscovery creates a static member list
func NewStaticDiscovery(members []model.PoolMember) *StaticDiscovery {
	return &StaticDiscovery{members: members}
}

// Members implements Discovery
func (d *StaticDiscovery) Members(ctx context.Context) ([]model.PoolMember, error) {
	out := make([]model.PoolMember, len(d.members))
	copy(out, d.members)
	return out, nil
}

// GossipDiscovery reads pool members advertised over gossip
type GossipDiscovery struct {
	gossip *gossip.Service
}

// NewGossipDiscovery wraps a joined gossip service
func NewGossipDiscovery(g *gossip.Service) *GossipDiscovery {
	return &GossipDiscovery{gossip: g}
}

// Members implements Discovery
func (d *GossipDiscovery) Members(ctx context.Context) ([]model.PoolMember, error) {
	return d.gossip.PoolMembers(), nil
}
