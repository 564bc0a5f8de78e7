package metrics

import (
	"time"

	"github.com/devrev/datapond/internal/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the controller
type Metrics struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestErrors   *prometheus.CounterVec

	// Placement metrics
	PlacementDecisions *prometheus.CounterVec
	ShardsProvisioned  prometheus.Counter
	ShardsMarkedFull   prometheus.Counter
	UtilizationErrors  prometheus.Counter

	// Idempotency metrics
	IdempotencyHits   prometheus.Counter
	IdempotencyMisses prometheus.Counter

	UploadedBytes prometheus.Counter
}

// NewMetrics creates and registers controller metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datapond",
			Subsystem: "controller",
			Name:      "requests_total",
			Help:      "Total number of controller requests",
		}, []string{"operation", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "datapond",
			Subsystem: "controller",
			Name:      "request_duration_seconds",
			Help:      "Duration of controller request processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		RequestErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datapond",
			Subsystem: "controller",
			Name:      "request_errors_total",
			Help:      "Total number of request errors by kind",
		}, []string{"operation", "error_kind"}),

		PlacementDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datapond",
			Subsystem: "controller",
			Name:      "placement_decisions_total",
			Help:      "Placement decisions by outcome",
		}, []string{"outcome"}),

		ShardsProvisioned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "datapond",
			Subsystem: "controller",
			Name:      "shards_provisioned_total",
			Help:      "Total number of shards provisioned",
		}),

		ShardsMarkedFull: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "datapond",
			Subsystem: "controller",
			Name:      "shards_marked_full_total",
			Help:      "Total number of shards marked full",
		}),

		UtilizationErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "datapond",
			Subsystem: "controller",
			Name:      "utilization_errors_total",
			Help:      "Utilization queries that failed during placement",
		}),

		IdempotencyHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "datapond",
			Subsystem: "controller",
			Name:      "idempotency_hits_total",
			Help:      "Uploads answered from the idempotency store",
		}),

		IdempotencyMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "datapond",
			Subsystem: "controller",
			Name:      "idempotency_misses_total",
			Help:      "Keyed uploads with no cached response",
		}),

		UploadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "datapond",
			Subsystem: "controller",
			Name:      "uploaded_bytes_total",
			Help:      "Content bytes forwarded to shards",
		}),
	}
}

// RecordRequest records the outcome, latency and error kind of one operation.
func (m *Metrics) RecordRequest(operation string, start time.Time, err error) {
	m.RequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err == nil {
		m.RequestsTotal.WithLabelValues(operation, "ok").Inc()
		return
	}
	m.RequestsTotal.WithLabelValues(operation, "error").Inc()
	m.RequestErrors.WithLabelValues(operation, string(errors.KindOf(err))).Inc()
}
