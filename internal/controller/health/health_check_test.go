package health

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/devrev/datapond/internal/controller/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type downIdempotencyStore struct {
	store.IdempotencyStore
}

func (downIdempotencyStore) Ping(ctx context.Context) error {
	return stderrors.New("connection refused")
}

func TestReadiness(t *testing.T) {
	healthy := NewHealthChecker(store.NewMemoryMetadataStore(), store.NewMemoryIdempotencyStore(10, time.Minute), zap.NewNop())
	mux := http.NewServeMux()
	healthy.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "ready", status.Status)
	assert.Equal(t, "healthy", status.Checks["metadata_store"])

	degraded := NewHealthChecker(store.NewMemoryMetadataStore(), downIdempotencyStore{}, zap.NewNop())
	rec = httptest.NewRecorder()
	degraded.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "not_ready", status.Status)
	assert.Contains(t, status.Checks["idempotency_store"], "connection refused")
}

func TestLiveness(t *testing.T) {
	h := NewHealthChecker(store.NewMemoryMetadataStore(), store.NewMemoryIdempotencyStore(10, time.Minute), zap.NewNop())
	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")
}
