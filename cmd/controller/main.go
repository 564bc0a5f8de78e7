// Command controller runs the datapond placement controller.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/datapond/internal/auth"
	"github.com/devrev/datapond/internal/controller/client"
	"github.com/devrev/datapond/internal/controller/config"
	"github.com/devrev/datapond/internal/controller/handler"
	"github.com/devrev/datapond/internal/controller/health"
	"github.com/devrev/datapond/internal/controller/metrics"
	"github.com/devrev/datapond/internal/controller/provisioner"
	"github.com/devrev/datapond/internal/controller/service"
	"github.com/devrev/datapond/internal/controller/store"
	"github.com/devrev/datapond/internal/gossip"
	"github.com/devrev/datapond/internal/logging"
	"github.com/devrev/datapond/internal/model"
	"github.com/devrev/datapond/pkg/api"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// idempotencyEntries bounds the in-memory idempotency cache.
const idempotencyEntries = 100000

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.MustNew(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Controller failed", zap.Error(err))
	}
	logger.Info("Controller stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting datapond controller",
		zap.String("principal", cfg.Server.Principal),
		zap.String("address", cfg.Server.Address()),
		zap.String("provisioner", cfg.Provisioner.Mode),
		zap.String("metadata_store", cfg.Store.Metadata),
		zap.String("idempotency_store", cfg.Store.Idempotency))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	signer, err := auth.NewSigner(cfg.Auth.Secret)
	if err != nil {
		return err
	}
	self := auth.Principal(cfg.Server.Principal)

	metadataStore, err := openMetadataStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer metadataStore.Close()

	idempotencyStore, err := openIdempotencyStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer idempotencyStore.Close()

	prov, closeProv, err := openProvisioner(ctx, cfg, self, signer, metadataStore, reg, logger)
	if err != nil {
		return err
	}
	defer closeProv()

	placement := service.NewPlacementService(prov, metadataStore, service.PlacementConfig{
		CapacityBytes: cfg.Placement.CapacityBytes,
		FullThreshold: cfg.Placement.FullThreshold,
	}, self, m, logger)
	idempotency := service.NewIdempotencyService(idempotencyStore, cfg.Store.IdempotencyTTL, logger)
	controllerService := service.NewControllerService(self, metadataStore, prov, placement, idempotency, m, logger)

	var pkg []byte
	if cfg.Tenant.PackagePath != "" {
		pkg, err = os.ReadFile(cfg.Tenant.PackagePath)
		if err != nil {
			return fmt.Errorf("failed to read provisioning package: %w", err)
		}
	}
	if err := controllerService.Bootstrap(ctx, cfg.Tenant.BootstrapID, pkg); err != nil {
		return err
	}

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(auth.UnaryServerInterceptor(signer, logger)),
		grpc.MaxRecvMsgSize(cfg.Server.MaxMessageBytes),
		grpc.MaxSendMsgSize(cfg.Server.MaxMessageBytes),
	)
	api.RegisterControllerServiceServer(grpcServer, handler.NewControllerHandler(controllerService, logger))

	listener, err := net.Listen("tcp", cfg.Server.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Address(), err)
	}

	mux := http.NewServeMux()
	health.NewHealthChecker(metadataStore, idempotencyStore, logger).Register(mux)
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Serving gRPC", zap.String("address", listener.Addr().String()))
		return grpcServer.Serve(listener)
	})
	g.Go(func() error {
		logger.Info("Serving health and metrics", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to shut down HTTP server", zap.Error(err))
		}

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			logger.Warn("gRPC server stop timeout, forcing shutdown")
			grpcServer.Stop()
		}
		return nil
	})
	return g.Wait()
}

func openMetadataStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.MetadataStore, error) {
	var backing store.MetadataStore
	switch cfg.Store.Metadata {
	case "postgres":
		pg, err := store.NewPostgresMetadataStore(ctx,
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.Database,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.MaxConnections,
			cfg.Database.MinConnections,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to open metadata store: %w", err)
		}
		backing = pg
	default:
		backing = store.NewMemoryMetadataStore()
	}
	if cfg.Store.UserCacheSize > 0 {
		return store.NewCachedMetadataStore(backing, cfg.Store.UserCacheSize, cfg.Store.UserCacheTTL), nil
	}
	return backing, nil
}

func openIdempotencyStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.IdempotencyStore, error) {
	switch cfg.Store.Idempotency {
	case "redis":
		s, err := store.NewRedisIdempotencyStore(ctx,
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to open idempotency store: %w", err)
		}
		return s, nil
	default:
		return store.NewMemoryIdempotencyStore(idempotencyEntries, cfg.Store.IdempotencyTTL), nil
	}
}

func openProvisioner(
	ctx context.Context,
	cfg *config.Config,
	self auth.Principal,
	signer *auth.Signer,
	metadataStore store.MetadataStore,
	reg prometheus.Registerer,
	logger *zap.Logger,
) (provisioner.ShardProvisioner, func(), error) {
	if cfg.Provisioner.Mode == "local" {
		p, err := provisioner.NewLocalProvisioner(ctx, provisioner.LocalConfig{
			Engine:          cfg.Provisioner.Engine,
			DataDir:         cfg.Provisioner.DataDir,
			Compression:     cfg.Provisioner.Compression,
			Controller:      self,
			DefaultCapacity: cfg.Placement.CapacityBytes,
		}, metadataStore, reg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start local provisioner: %w", err)
		}
		return p, func() { p.Close() }, nil
	}

	token, err := signer.Mint(self)
	if err != nil {
		return nil, nil, err
	}
	shards := client.NewShardClient(token, cfg.Provisioner.CallTimeout, cfg.Server.MaxMessageBytes)

	var (
		discovery provisioner.Discovery
		gossipSvc *gossip.Service
	)
	switch cfg.Provisioner.Discovery {
	case "gossip":
		gossipSvc, err = gossip.New(gossip.Config{
			BindPort:       cfg.Gossip.BindPort,
			SeedNodes:      cfg.Gossip.SeedNodes,
			GossipInterval: cfg.Gossip.GossipInterval,
			ProbeTimeout:   cfg.Gossip.ProbeTimeout,
			ProbeInterval:  cfg.Gossip.ProbeInterval,
		}, cfg.Server.Principal, logger)
		if err != nil {
			shards.Close()
			return nil, nil, fmt.Errorf("failed to join gossip cluster: %w", err)
		}
		discovery = provisioner.NewGossipDiscovery(gossipSvc)
	default:
		members := make([]model.PoolMember, 0, len(cfg.Provisioner.Pool))
		for _, m := range cfg.Provisioner.Pool {
			members = append(members, model.PoolMember{ShardID: m.ID, Address: m.Address})
		}
		discovery = provisioner.NewStaticDiscovery(members)
	}

	p := provisioner.NewRemoteProvisioner(discovery, metadataStore, shards, logger)
	return p, func() {
		p.Close()
		if gossipSvc != nil {
			gossipSvc.Shutdown()
		}
	}, nil
}
