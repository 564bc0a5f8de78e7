// Package client is the tenant-side SDK for the datapond controller.
package client

import (
	"context"
	"fmt"
	"io"

	"github.com/devrev/datapond/internal/auth"
	"github.com/devrev/datapond/internal/errors"
	"github.com/devrev/datapond/internal/model"
	"github.com/devrev/datapond/pkg/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultMaxMessageBytes fits one JSON-encoded read page with headroom.
const DefaultMaxMessageBytes = 16 << 20

// Client calls the controller with a principal token.
type Client struct {
	conn   *grpc.ClientConn
	client api.ControllerServiceClient
}

// Dial connects to the controller at target. Extra dial options are
// appended to the defaults.
func Dial(target, token string, opts ...grpc.DialOption) (*Client, error) {
	dialOptions := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(auth.TokenCredentials{Token: token}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(DefaultMaxMessageBytes),
			grpc.MaxCallSendMsgSize(DefaultMaxMessageBytes),
		),
	}
	conn, err := grpc.NewClient(target, append(dialOptions, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return &Client{conn: conn, client: api.NewControllerServiceClient(conn)}, nil
}

// New wraps an existing controller client.
func New(c api.ControllerServiceClient) *Client {
	return &Client{client: c}
}

// Register registers tenantID. The token must be the controller's own.
func (c *Client) Register(ctx context.Context, tenantID string) error {
	_, err := c.client.Register(ctx, &api.RegisterRequest{TenantID: tenantID})
	return errors.FromGRPC(err)
}

// LoadProvisioningPackage uploads the shard package. The token must be the
// controller's own.
func (c *Client) LoadProvisioningPackage(ctx context.Context, data []byte) error {
	_, err := c.client.LoadProvisioningPackage(ctx, &api.LoadProvisioningPackageRequest{Data: data})
	return errors.FromGRPC(err)
}

// UserShards returns where a user's data lives.
func (c *Client) UserShards(ctx context.Context, userID string) (*model.UserRecord, error) {
	resp, err := c.client.UserShards(ctx, &api.UserShardsRequest{UserID: userID})
	if err != nil {
		return nil, errors.FromGRPC(err)
	}
	return &model.UserRecord{UserID: resp.UserID, ShardIDs: resp.ShardIDs, FullShardIDs: resp.FullShardIDs}, nil
}

// Chunk reads a single page of a file.
func (c *Client) Chunk(ctx context.Context, userID, fileID, shardID string, chunkNumber uint64) (*model.FileChunkResponse, error) {
	resp, err := c.client.Read(ctx, &api.ReadRequest{
		UserID:      userID,
		FileID:      fileID,
		ShardID:     shardID,
		ChunkNumber: chunkNumber,
	})
	if err != nil {
		return nil, errors.FromGRPC(err)
	}
	return resp, nil
}

// Upload uploads the content of r. See Uploader.
func (c *Client) Upload(ctx context.Context, file File, r io.Reader) (*model.FileResponse, error) {
	return c.Uploader().Upload(ctx, file, r)
}

// Download writes a whole file to w. See Downloader.
func (c *Client) Download(ctx context.Context, userID, fileID, shardID string, w io.Writer) (string, int64, error) {
	return c.Downloader().Download(ctx, userID, fileID, shardID, w)
}

// Uploader returns an uploader using this client.
func (c *Client) Uploader() *Uploader {
	return NewUploader(c.client)
}

// Downloader returns a downloader using this client.
func (c *Client) Downloader() *Downloader {
	return NewDownloader(c.client)
}

// Check reports whether the controller connection is usable. An idle
// connection is asked to connect and counts as usable.
func (c *Client) Check(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}
	switch state := c.conn.GetState(); state {
	case connectivity.Idle:
		c.conn.Connect()
	case connectivity.TransientFailure, connectivity.Shutdown:
		return fmt.Errorf("controller connection is %s", state)
	}
	return nil
}

// Close closes the underlying connection, if the client owns one.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
