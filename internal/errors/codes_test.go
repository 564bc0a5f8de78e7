package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestNestedKindsSurviveWrapping(t *testing.T) {
	downstream := FileNotFound("f1")
	err := NotKnown("failed to get file", downstream)

	assert.Equal(t, KindNotKnown, KindOf(err))

	inner, ok := Downstream(err)
	require.True(t, ok)
	assert.Equal(t, KindNotFound, inner.Kind)
	assert.Equal(t, "f1", inner.Details["file_id"])

	wrapped := fmt.Errorf("controller: %w", err)
	assert.Equal(t, KindNotKnown, KindOf(wrapped))
	assert.True(t, stderrors.Is(wrapped, &Error{Kind: KindNotFound}))
	assert.False(t, stderrors.Is(wrapped, &Error{Kind: KindConflict}))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindNotKnown, KindOf(stderrors.New("boom")))
	assert.False(t, IsKind(nil, KindNotKnown))
}

func TestGRPCRoundTripPreservesChain(t *testing.T) {
	original := UploadFailed("shard-1", Unauthorized("Unauthorized access!"))

	st := ToGRPCStatus(original)
	assert.Equal(t, codes.Aborted, st.Code())

	decoded := FromGRPC(st.Err())
	e, ok := As(decoded)
	require.True(t, ok)
	assert.Equal(t, KindUploadError, e.Kind)
	assert.Equal(t, "failed to upload file", e.Message)
	assert.Equal(t, "shard-1", e.Details["shard_id"])

	inner, ok := Downstream(decoded)
	require.True(t, ok)
	assert.Equal(t, KindUnauthorized, inner.Kind)
	assert.Equal(t, "Unauthorized access!", inner.Message)
}

func TestGRPCPlainCauseBecomesNotKnown(t *testing.T) {
	original := NotKnown("failed to find or create shard", stderrors.New("pool exhausted"))

	decoded := FromGRPC(ToGRPCStatus(original).Err())
	inner, ok := Downstream(decoded)
	require.True(t, ok)
	assert.Equal(t, KindNotKnown, inner.Kind)
	assert.Equal(t, "pool exhausted", inner.Message)
}

func TestFromGRPCWithoutDetails(t *testing.T) {
	err := FromGRPC(status.Error(codes.Unavailable, "connection refused"))
	e, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, KindNotKnown, e.Kind)
	assert.Equal(t, "connection refused", e.Message)
}

func TestToGRPCCodes(t *testing.T) {
	cases := map[Kind]codes.Code{
		KindUnauthorized:   codes.PermissionDenied,
		KindNotFound:       codes.NotFound,
		KindConflict:       codes.AlreadyExists,
		KindInvalidPayload: codes.InvalidArgument,
		KindUploadError:    codes.Aborted,
		KindNotKnown:       codes.Unavailable,
	}
	for kind, code := range cases {
		assert.Equal(t, code, ToGRPCStatus(New(kind, "x", nil)).Code(), string(kind))
	}
}
