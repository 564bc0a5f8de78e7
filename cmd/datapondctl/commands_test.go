package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devrev/datapond/internal/auth"
	"github.com/devrev/datapond/internal/controller/handler"
	"github.com/devrev/datapond/internal/controller/metrics"
	"github.com/devrev/datapond/internal/controller/provisioner"
	"github.com/devrev/datapond/internal/controller/service"
	"github.com/devrev/datapond/internal/controller/store"
	"github.com/devrev/datapond/internal/errors"
	"github.com/devrev/datapond/pkg/api"
	"github.com/devrev/datapond/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const testSecret = "ctl-test-secret"

func startController(t *testing.T) *bufconn.Listener {
	t.Helper()
	ctx := context.Background()

	signer, err := auth.NewSigner(testSecret)
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
	api.RegisterControllerServiceServer(srv, handler.NewControllerHandler(svc, zap.NewNop()))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis
}

// run executes one datapondctl invocation against lis and returns stdout.
func run(t *testing.T, lis *bufconn.Listener, args ...string) (string, error) {
	t.Helper()
	opts := &options{
		v: viper.New(),
		dial: func(target, token string) (*client.Client, error) {
			return client.Dial("passthrough:///bufnet", token,
				grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
					return lis.DialContext(ctx)
				}))
		},
	}
	cmd := opts.rootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--secret", testSecret}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	out, err := run(t, nil, "token", "--principal", "tenant-t")
	require.NoError(t, err)

	signer, err := auth.NewSigner(testSecret)
	require.NoError(t, err)
	p, err := signer.Verify(string(bytes.TrimSpace([]byte(out))))
	require.NoError(t, err)
	assert.Equal(t, auth.Principal("tenant-t"), p)

	_, err = run(t, nil, "token")
	assert.Error(t, err)
}

func TestEndToEnd(t *testing.T) {
	lis := startController(t)
	dir := t.TempDir()

	pkgPath := filepath.Join(dir, "shard.pkg")
	require.NoError(t, os.WriteFile(pkgPath, []byte("package"), 0o600))
	srcPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("datapond notes"), 0o600))

	out, err := run(t, lis, "--principal", "controller", "register", "tenant-t")
	require.NoError(t, err)
	assert.Contains(t, out, "registered tenant tenant-t")

	_, err = run(t, lis, "--principal", "controller", "load-package", pkgPath)
	require.NoError(t, err)

	out, err = run(t, lis, "--principal", "tenant-t", "upload", "alice", "f1", srcPath, "--idempotency-key", "k1")
	require.NoError(t, err)
	var uploaded struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		ShardID string `json:"shard_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &uploaded))
	assert.Equal(t, "f1", uploaded.ID)
	assert.Equal(t, "notes.txt", uploaded.Name)
	require.NotEmpty(t, uploaded.ShardID)

	out, err = run(t, lis, "--principal", "tenant-t", "shards", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, uploaded.ShardID)

	dest := filepath.Join(dir, "copy.txt")
	_, err = run(t, lis, "--principal", "tenant-t", "download", "alice", "f1", "--shard", uploaded.ShardID, "-o", dest)
	require.NoError(t, err)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "datapond notes", string(data))
}

func TestTenantCannotRegister(t *testing.T) {
	lis := startController(t)

	_, err := run(t, lis, "--principal", "tenant-t", "register", "tenant-t")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindUnauthorized))
}
