package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/devrev/datapond/internal/controller/store"
	"go.uber.org/zap"
)

// HealthChecker serves liveness and readiness probes
type HealthChecker struct {
	metadataStore    store.MetadataStore
	idempotencyStore store.IdempotencyStore
	logger           *zap.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(
	metadataStore store.MetadataStore,
	idempotencyStore store.IdempotencyStore,
	logger *zap.Logger,
) *HealthChecker {
	return &HealthChecker{
		metadataStore:    metadataStore,
		idempotencyStore: idempotencyStore,
		logger:           logger,
	}
}

// LivenessHandler handles liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().Unix(),
	})
}

// ReadinessHandler handles readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if err := h.metadataStore.Ping(ctx); err != nil {
		h.logger.Error("Metadata store health check failed", zap.Error(err))
		checks["metadata_store"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["metadata_store"] = "healthy"
	}

	if err := h.idempotencyStore.Ping(ctx); err != nil {
		h.logger.Error("Idempotency store health check failed", zap.Error(err))
		checks["idempotency_store"] = "unhealthy: " + err.Error()
		allHealthy = false
	} else {
		checks["idempotency_store"] = "healthy"
	}

	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}
	code := http.StatusOK
	if !allHealthy {
		status.Status = "not_ready"
		code = http.StatusServiceUnavailable
	}
	writeStatus(w, code, status)
}

// Register mounts the probes on mux
func (h *HealthChecker) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health/live", h.LivenessHandler)
	mux.HandleFunc("/health/ready", h.ReadinessHandler)
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
