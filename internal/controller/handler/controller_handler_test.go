package handler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/devrev/datapond/internal/auth"
	"github.com/devrev/datapond/internal/controller/metrics"
	"github.com/devrev/datapond/internal/controller/provisioner"
	"github.com/devrev/datapond/internal/controller/service"
	"github.com/devrev/datapond/internal/controller/store"
	"github.com/devrev/datapond/internal/errors"
	"github.com/devrev/datapond/internal/model"
	"github.com/devrev/datapond/pkg/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
)

type testServer struct {
	lis    *bufconn.Listener
	signer *auth.Signer
}

func startController(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	signer, err := auth.NewSigner("test-secret")
	require.NoError(t, err)

	metadataStore := store.NewMemoryMetadataStore()
	prov, err := provisioner.NewLocalProvisioner(ctx, provisioner.LocalConfig{
		Engine:     "memory",
		Controller: "controller",
	}, metadataStore, prometheus.NewRegistry(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { prov.Close() })

	m := metrics.NewMetrics(prometheus.NewRegistry())
	placement := service.NewPlacementService(prov, metadataStore, service.PlacementConfig{
		CapacityBytes: 1 << 20,
		FullThreshold: 0.05,
	}, "controller", m, zap.NewNop())
	idempotency := service.NewIdempotencyService(store.NewMemoryIdempotencyStore(10, time.Hour), time.Hour, zap.NewNop())
	svc := service.NewControllerService("controller", metadataStore, prov, placement, idempotency, m, zap.NewNop())

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(auth.UnaryServerInterceptor(signer, zap.NewNop())))
	api.RegisterControllerServiceServer(srv, NewControllerHandler(svc, zap.NewNop()))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return &testServer{lis: lis, signer: signer}
}

func (s *testServer) dial(t *testing.T, principal auth.Principal) api.ControllerServiceClient {
	t.Helper()

	token, err := s.signer.Mint(principal)
	require.NoError(t, err)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return s.lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(auth.TokenCredentials{Token: token}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return api.NewControllerServiceClient(conn)
}

func TestControllerOverGRPC(t *testing.T) {
	srv := startController(t)
	admin := srv.dial(t, "controller")
	tenant := srv.dial(t, "tenant-t")
	ctx := context.Background()

	_, err := admin.Register(ctx, &api.RegisterRequest{TenantID: "tenant-t"})
	require.NoError(t, err)
	_, err = admin.Register(ctx, &api.RegisterRequest{TenantID: "tenant-t"})
	assert.True(t, errors.IsKind(errors.FromGRPC(err), errors.KindConflict))

	_, err = admin.LoadProvisioningPackage(ctx, &api.LoadProvisioningPackageRequest{Data: []byte("pkg")})
	require.NoError(t, err)

	resp, err := tenant.Upload(ctx, &api.UploadRequest{
		File:   model.FilePayload{ID: "f1", Name: "a.txt", Size: 5, Content: []byte("hello")},
		UserID: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "f1", resp.ID)
	assert.NotEmpty(t, resp.ShardID)

	chunk, err := tenant.Read(ctx, &api.ReadRequest{UserID: "alice", FileID: "f1", ShardID: resp.ShardID})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), chunk.Chunk)
	assert.Equal(t, "a.txt", chunk.Name)
	assert.False(t, chunk.HasNext)

	shards, err := tenant.UserShards(ctx, &api.UserShardsRequest{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{resp.ShardID}, shards.ShardIDs)
}

func TestControllerErrorsCrossTheWire(t *testing.T) {
	srv := startController(t)
	admin := srv.dial(t, "controller")
	tenant := srv.dial(t, "tenant-t")
	intruder := srv.dial(t, "intruder")
	ctx := context.Background()

	_, err := tenant.Register(ctx, &api.RegisterRequest{TenantID: "tenant-t"})
	assert.True(t, errors.IsKind(errors.FromGRPC(err), errors.KindUnauthorized))

	_, err = admin.Register(ctx, &api.RegisterRequest{TenantID: "tenant-t"})
	require.NoError(t, err)

	_, err = intruder.Upload(ctx, &api.UploadRequest{File: model.FilePayload{ID: "f1"}, UserID: "alice"})
	assert.True(t, errors.IsKind(errors.FromGRPC(err), errors.KindUnauthorized))

	// No package loaded yet: placement cannot provision.
	_, err = tenant.Upload(ctx, &api.UploadRequest{File: model.FilePayload{ID: "f1", Content: []byte("x")}, UserID: "alice"})
	assert.True(t, errors.IsKind(errors.FromGRPC(err), errors.KindNotKnown))

	_, err = admin.LoadProvisioningPackage(ctx, &api.LoadProvisioningPackageRequest{Data: []byte("pkg")})
	require.NoError(t, err)

	resp, err := tenant.Upload(ctx, &api.UploadRequest{File: model.FilePayload{ID: "f1", Content: []byte("x")}, UserID: "alice"})
	require.NoError(t, err)

	// A chunk with a gap in its sequence is rejected by the shard.
	_, err = tenant.Upload(ctx, &api.UploadRequest{
		File:    model.FilePayload{ID: "f1", Content: []byte("y"), Sequence: 5},
		UserID:  "alice",
		Chunked: true,
	})
	decoded := errors.FromGRPC(err)
	require.True(t, errors.IsKind(decoded, errors.KindUploadError))
	inner, ok := errors.Downstream(decoded)
	require.True(t, ok)
	assert.Equal(t, errors.KindConflict, inner.Kind)

	_, err = tenant.Read(ctx, &api.ReadRequest{UserID: "alice", FileID: "missing", ShardID: resp.ShardID})
	decoded = errors.FromGRPC(err)
	require.True(t, errors.IsKind(decoded, errors.KindNotKnown))
	inner, ok = errors.Downstream(decoded)
	require.True(t, ok)
	assert.Equal(t, errors.KindNotFound, inner.Kind)
}

func TestIdempotencyKeyFromMetadata(t *testing.T) {
	srv := startController(t)
	admin := srv.dial(t, "controller")
	tenant := srv.dial(t, "tenant-t")
	ctx := context.Background()

	_, err := admin.Register(ctx, &api.RegisterRequest{TenantID: "tenant-t"})
	require.NoError(t, err)
	_, err = admin.LoadProvisioningPackage(ctx, &api.LoadProvisioningPackageRequest{Data: []byte("pkg")})
	require.NoError(t, err)

	keyed := metadata.AppendToOutgoingContext(ctx, api.IdempotencyKeyHeader, "retry-1")
	req := &api.UploadRequest{File: model.FilePayload{ID: "f1", Content: []byte("abc")}, UserID: "alice", Chunked: true}

	first, err := tenant.Upload(keyed, req)
	require.NoError(t, err)
	_, err = tenant.Upload(keyed, req)
	require.NoError(t, err)

	chunk, err := tenant.Read(ctx, &api.ReadRequest{UserID: "alice", FileID: "f1", ShardID: first.ShardID})
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), chunk.Chunk)
}
