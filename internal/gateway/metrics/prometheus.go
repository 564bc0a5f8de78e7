// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/devrev/datapond/internal/gateway/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all gateway metrics.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	uploadedBytes    prometheus.Counter
	downloadedBytes  prometheus.Counter
}

// NewMetrics creates and registers gateway metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datapond",
			Subsystem: "gateway",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "datapond",
			Subsystem: "gateway",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),
		requestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "datapond",
			Subsystem: "gateway",
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		}),
		uploadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "datapond",
			Subsystem: "gateway",
			Name:      "uploaded_bytes_total",
			Help:      "File bytes accepted from clients",
		}),
		downloadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "datapond",
			Subsystem: "gateway",
			Name:      "downloaded_bytes_total",
			Help:      "File bytes streamed to clients",
		}),
	}
}

// AddUploaded counts uploaded file bytes.
func (m *Metrics) AddUploaded(n int64) {
	m.uploadedBytes.Add(float64(n))
}

// AddDownloaded counts downloaded file bytes.
func (m *Metrics) AddDownloaded(n int64) {
	m.downloadedBytes.Add(float64(n))
}

// Middleware records request metrics labeled by route template, so path
// parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requestsInFlight.Inc()
		defer m.requestsInFlight.Dec()

		start := time.Now()
		rw := middleware.WrapResponseWriter(w)
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.Status())).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
