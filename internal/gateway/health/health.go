// Package health provides health check endpoints for the gateway.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Checker reports whether a dependency is usable.
type Checker interface {
	Check(ctx context.Context) error
}

// HealthCheck serves liveness and readiness probes.
type HealthCheck struct {
	controller Checker
	logger     *zap.Logger
}

// NewHealthCheck creates a new HealthCheck instance.
func NewHealthCheck(controller Checker, logger *zap.Logger) *HealthCheck {
	return &HealthCheck{controller: controller, logger: logger}
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LivenessHandler handles GET /health.
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

// ReadinessHandler handles GET /ready.
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := hc.controller.Check(ctx); err != nil {
		hc.logger.Warn("Controller readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{
			Status: "not_ready",
			Checks: map[string]string{"controller": "unhealthy: " + err.Error()},
		})
		return
	}
	writeJSON(w, http.StatusOK, ReadinessResponse{
		Status: "ready",
		Checks: map[string]string{"controller": "healthy"},
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
