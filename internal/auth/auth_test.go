package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

func TestSignerRoundTrip(t *testing.T) {
	signer, err := NewSigner("cluster-secret")
	require.NoError(t, err)

	token, err := signer.Mint("svc.tenant-1")
	require.NoError(t, err)

	p, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, Principal("svc.tenant-1"), p)
}

func TestSignerRejectsForgedTokens(t *testing.T) {
	signer, _ := NewSigner("cluster-secret")
	other, _ := NewSigner("other-secret")

	token, _ := other.Mint("controller")
	_, err := signer.Verify(token)
	assert.Error(t, err)

	good, _ := signer.Mint("tenant")
	forged := "controller" + good[strings.LastIndex(good, "."):]
	_, err = signer.Verify(forged)
	assert.Error(t, err)

	for _, bad := range []string{"", "nodot", ".abc", "tenant.", "tenant.zz"} {
		_, err := signer.Verify(bad)
		assert.Error(t, err, bad)
	}
}

func TestSignerLongSecret(t *testing.T) {
	signer, err := NewSigner(strings.Repeat("k", 200))
	require.NoError(t, err)
	token, err := signer.Mint("controller")
	require.NoError(t, err)
	_, err = signer.Verify(token)
	assert.NoError(t, err)
}

func TestNewSignerRequiresSecret(t *testing.T) {
	_, err := NewSigner("")
	assert.Error(t, err)
}

func TestGuards(t *testing.T) {
	assert.True(t, IsInternalAdmin("controller", "controller"))
	assert.False(t, IsInternalAdmin("tenant", "controller"))
	assert.False(t, IsInternalAdmin(Anonymous, Anonymous))

	assert.True(t, IsTenant("tenant", "tenant"))
	assert.False(t, IsTenant("tenant", ""))
	assert.False(t, IsTenant(Anonymous, ""))

	assert.True(t, IsController("controller", "controller"))
	assert.False(t, IsController("tenant", "controller"))
}

func TestUnaryServerInterceptor(t *testing.T) {
	signer, _ := NewSigner("cluster-secret")
	interceptor := UnaryServerInterceptor(signer, zap.NewNop())
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Method"}

	capture := func(ctx context.Context, req interface{}) (interface{}, error) {
		return PrincipalFromContext(ctx), nil
	}

	token, _ := signer.Mint("tenant")
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
	got, err := interceptor(ctx, nil, info, capture)
	require.NoError(t, err)
	assert.Equal(t, Principal("tenant"), got)

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer tenant.00"))
	got, _ = interceptor(ctx, nil, info, capture)
	assert.Equal(t, Anonymous, got)

	got, _ = interceptor(context.Background(), nil, info, capture)
	assert.Equal(t, Anonymous, got)
}

func TestTokenCredentials(t *testing.T) {
	md, err := TokenCredentials{Token: "abc"}.GetRequestMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", md["authorization"])
}
