package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/datapond/internal/auth"
	"github.com/devrev/datapond/internal/errors"
	"github.com/devrev/datapond/internal/model"
	"github.com/devrev/datapond/pkg/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ShardClient talks to remote shards. Connections are kept per address and
// every call carries the controller's token.
type ShardClient struct {
	connections map[string]*grpc.ClientConn
	mu          sync.RWMutex
	timeout     time.Duration
	dialOptions []grpc.DialOption
}

// NewShardClient creates a shard client authenticating with token. Extra
// dial options are appended to the defaults.
func NewShardClient(token string, timeout time.Duration, maxMessageBytes int, opts ...grpc.DialOption) *ShardClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	dialOptions := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(auth.TokenCredentials{Token: token}),
	}
	if maxMessageBytes > 0 {
		dialOptions = append(dialOptions, grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageBytes),
			grpc.MaxCallSendMsgSize(maxMessageBytes),
		))
	}
	return &ShardClient{
		connections: make(map[string]*grpc.ClientConn),
		timeout:     timeout,
		dialOptions: append(dialOptions, opts...),
	}
}

// Write sends a write request to the shard at address
func (c *ShardClient) Write(ctx context.Context, address string, file *model.FilePayload, chunked bool) error {
	client, err := c.getClient(address)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err = client.Write(ctx, &api.WriteRequest{File: *file, Chunked: chunked})
	return errors.FromGRPC(err)
}

// Read sends a read request to the shard at address
func (c *ShardClient) Read(ctx context.Context, address, fileID string, chunkNumber uint64) (*model.FileChunkResponse, error) {
	client, err := c.getClient(address)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := client.Read(ctx, &api.ShardReadRequest{FileID: fileID, ChunkNumber: chunkNumber})
	if err != nil {
		return nil, errors.FromGRPC(err)
	}
	return resp, nil
}

// Provision binds the shard at address to this controller
func (c *ShardClient) Provision(ctx context.Context, address string, pkg []byte, args model.ShardInitArgs) error {
	client, err := c.getClient(address)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err = client.Provision(ctx, &api.ProvisionRequest{Package: pkg, InitArgs: args})
	return errors.FromGRPC(err)
}

// Stats fetches live utilization of the shard at address
func (c *ShardClient) Stats(ctx context.Context, address string) (*model.Utilization, error) {
	client, err := c.getClient(address)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := client.Stats(ctx, &api.StatsRequest{})
	if err != nil {
		return nil, errors.FromGRPC(err)
	}
	return resp, nil
}

// At returns a client bound to one shard address
func (c *ShardClient) At(address string) *NodeClient {
	return &NodeClient{client: c, address: address}
}

// getClient returns or creates a gRPC client for address
func (c *ShardClient) getClient(address string) (api.ShardServiceClient, error) {
	c.mu.RLock()
	conn, exists := c.connections[address]
	c.mu.RUnlock()

	if exists {
		return api.NewShardServiceClient(conn), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, exists := c.connections[address]; exists {
		return api.NewShardServiceClient(conn), nil
	}

	conn, err := grpc.NewClient(address, c.dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	c.connections[address] = conn
	return api.NewShardServiceClient(conn), nil
}

// Close closes all connections
func (c *ShardClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, conn := range c.connections {
		conn.Close()
	}
	c.connections = make(map[string]*grpc.ClientConn)
}

// NodeClient is a ShardClient bound to a single address
type NodeClient struct {
	client  *ShardClient
	address string
}

// Write implements provisioner.ShardClient
func (n *NodeClient) Write(ctx context.Context, file *model.FilePayload, chunked bool) error {
	return n.client.Write(ctx, n.address, file, chunked)
}

// Read implements provisioner.ShardClient
func (n *NodeClient) Read(ctx context.Context, fileID string, chunkNumber uint64) (*model.FileChunkResponse, error) {
	return n.client.Read(ctx, n.address, fileID, chunkNumber)
}
