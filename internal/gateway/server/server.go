// Package server wires the gateway's HTTP routes.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/devrev/datapond/internal/gateway/config"
	"github.com/devrev/datapond/internal/gateway/handler"
	"github.com/devrev/datapond/internal/gateway/health"
	"github.com/devrev/datapond/internal/gateway/httperr"
	"github.com/devrev/datapond/internal/gateway/metrics"
	"github.com/devrev/datapond/internal/gateway/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Controller is what the gateway needs from the controller connection.
type Controller interface {
	handler.FileService
	health.Checker
}

// Server represents the HTTP server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	handlers     *handler.Handlers
	healthCheck  *health.HealthCheck
	errorHandler *httperr.Handler
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer
	logger       *zap.Logger
	cfg          *config.Config
}

// NewServer creates a new HTTP server with its routes set up. Metrics are
// registered on reg and served from it.
func NewServer(cfg *config.Config, controller Controller, reg *prometheus.Registry, logger *zap.Logger) *Server {
	router := mux.NewRouter()
	errorHandler := httperr.NewHandler(logger)
	m := metrics.NewMetrics(reg)

	s := &Server{
		router: router,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		handlers:     handler.NewHandlers(controller, errorHandler, m, logger, cfg.Controller.Timeout, cfg.Server.MaxUploadBytes),
		healthCheck:  health.NewHealthCheck(controller, logger),
		errorHandler: errorHandler,
		metrics:      m,
		gatherer:     reg,
		logger:       logger,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	chain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
		middleware.CORS(s.cfg.CORS.AllowedOrigins),
	}
	if s.cfg.RateLimiter.Enabled {
		limiter := middleware.NewRateLimiter(s.cfg.RateLimiter.RequestsPerSecond, s.cfg.RateLimiter.BurstSize, s.logger)
		chain = append(chain, limiter.Limit)
	}
	chain = append(chain, s.metrics.Middleware)
	s.router.Use(middleware.Chain(chain...))

	s.router.HandleFunc("/health", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)
	if s.cfg.Metrics.Enabled {
		s.router.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/users/{user_id}/files/{file_id}", s.handlers.UploadFile).Methods(http.MethodPut)
	v1.HandleFunc("/users/{user_id}/files/{file_id}", s.handlers.DownloadFile).Methods(http.MethodGet)
	v1.HandleFunc("/users/{user_id}/files/{file_id}/chunks/{n}", s.handlers.ReadChunk).Methods(http.MethodGet)
	v1.HandleFunc("/users/{user_id}/shards", s.handlers.UserShards).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, http.StatusNotFound, httperr.ErrorCodeNotFound, "endpoint not found", r.Header.Get(middleware.RequestIDHeader))
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.WriteErrorResponse(w, http.StatusMethodNotAllowed, httperr.ErrorCodeInvalidRequest, "method not allowed", r.Header.Get(middleware.RequestIDHeader))
	})
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.Int("port", s.cfg.Server.Port))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
