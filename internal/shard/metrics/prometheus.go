package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a shard
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	BytesWritten    prometheus.Counter
	BytesRead       prometheus.Counter
	UsedBytes       prometheus.Gauge
	FilesTotal      prometheus.Gauge
}

// NewMetrics creates and registers shard metrics on reg.
func NewMetrics(reg prometheus.Registerer, shardID string) *Metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"shard_id": shardID}

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "datapond",
			Subsystem:   "shard",
			Name:        "requests_total",
			Help:        "Total number of shard requests",
			ConstLabels: labels,
		}, []string{"operation", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "datapond",
			Subsystem:   "shard",
			Name:        "request_duration_seconds",
			Help:        "Histogram of shard request durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"operation"}),
		BytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "datapond",
			Subsystem:   "shard",
			Name:        "bytes_written_total",
			Help:        "Total content bytes accepted by writes",
			ConstLabels: labels,
		}),
		BytesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "datapond",
			Subsystem:   "shard",
			Name:        "bytes_read_total",
			Help:        "Total content bytes served by reads",
			ConstLabels: labels,
		}),
		UsedBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "datapond",
			Subsystem:   "shard",
			Name:        "used_bytes",
			Help:        "Committed content bytes",
			ConstLabels: labels,
		}),
		FilesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "datapond",
			Subsystem:   "shard",
			Name:        "files",
			Help:        "Number of stored files",
			ConstLabels: labels,
		}),
	}
}

// RecordRequest records the outcome and latency of one operation.
func (m *Metrics) RecordRequest(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
