// Command shard runs one datapond storage shard.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/datapond/internal/auth"
	"github.com/devrev/datapond/internal/gossip"
	"github.com/devrev/datapond/internal/logging"
	"github.com/devrev/datapond/internal/model"
	"github.com/devrev/datapond/internal/shard/config"
	"github.com/devrev/datapond/internal/shard/handler"
	"github.com/devrev/datapond/internal/shard/metrics"
	"github.com/devrev/datapond/internal/shard/service"
	"github.com/devrev/datapond/internal/shard/storage"
	"github.com/devrev/datapond/pkg/api"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./shard.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.MustNew(cfg.Logging.Level, cfg.Logging.Format).
		With(zap.String("shard_id", cfg.Server.ShardID))
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Shard failed", zap.Error(err))
	}
	logger.Info("Shard stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signer, err := auth.NewSigner(cfg.Auth.Secret)
	if err != nil {
		return err
	}

	fileStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	shardSvc, err := service.NewShardService(ctx, service.Config{
		ShardID:         cfg.Server.ShardID,
		Controller:      auth.Principal(cfg.Controller.Principal),
		DefaultCapacity: cfg.Storage.CapacityBytes,
	}, fileStore, metrics.NewMetrics(reg, cfg.Server.ShardID), logger)
	if err != nil {
		fileStore.Close()
		return err
	}
	defer shardSvc.Close()

	if cfg.Gossip.Enabled {
		gossipSvc, err := gossip.New(gossip.Config{
			BindPort:       cfg.Gossip.BindPort,
			SeedNodes:      cfg.Gossip.SeedNodes,
			GossipInterval: cfg.Gossip.GossipInterval,
			ProbeTimeout:   cfg.Gossip.ProbeTimeout,
			ProbeInterval:  cfg.Gossip.ProbeInterval,
		}, cfg.Server.ShardID, logger)
		if err != nil {
			return fmt.Errorf("failed to start gossip: %w", err)
		}
		defer gossipSvc.Shutdown()

		member := model.PoolMember{
			ShardID: cfg.Server.ShardID,
			Address: cfg.Server.AdvertiseAddress,
			Claimed: shardSvc.Provisioned(),
		}
		if err := gossipSvc.Advertise(member); err != nil {
			logger.Warn("Failed to advertise pool membership", zap.Error(err))
		}
		shardSvc.SetProvisionHook(func(model.ShardInitArgs) {
			claimed := member
			claimed.Claimed = true
			if err := gossipSvc.Advertise(claimed); err != nil {
				logger.Warn("Failed to advertise claimed state", zap.Error(err))
			}
		})
		logger.Info("Gossip service initialized",
			zap.Int("bind_port", gossipSvc.Port()),
			zap.Bool("claimed", member.Claimed))
	}

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(auth.UnaryServerInterceptor(signer, logger)),
		grpc.MaxConcurrentStreams(uint32(cfg.Server.MaxConnections)),
		grpc.MaxRecvMsgSize(cfg.Server.MaxMessageBytes),
		grpc.MaxSendMsgSize(cfg.Server.MaxMessageBytes),
	)
	api.RegisterShardServiceServer(grpcServer, handler.NewShardHandler(shardSvc, logger))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Shard serving",
			zap.String("address", addr),
			zap.String("advertise_address", cfg.Server.AdvertiseAddress),
			zap.String("engine", cfg.Storage.Engine))
		return grpcServer.Serve(listener)
	})
	if metricsServer != nil {
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Failed to shut down metrics server", zap.Error(err))
			}
		}

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		return nil
	})
	return g.Wait()
}

func openStore(cfg *config.Config, logger *zap.Logger) (storage.FileStore, error) {
	if cfg.Storage.Engine == "memory" {
		return storage.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	s, err := storage.OpenBadgerStore(storage.BadgerConfig{
		Dir:         cfg.Storage.DataDir,
		Compression: cfg.Storage.Compression,
		SegmentSize: cfg.Storage.SegmentSize,
	}, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}
