// Command gateway serves the tenant's HTTP file API in front of the
// controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/devrev/datapond/internal/auth"
	"github.com/devrev/datapond/internal/gateway/config"
	"github.com/devrev/datapond/internal/gateway/server"
	"github.com/devrev/datapond/internal/logging"
	"github.com/devrev/datapond/pkg/client"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.MustNew(cfg.Logging.Level, cfg.Logging.Format)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Gateway failed", zap.Error(err))
	}
	logger.Info("Gateway shutdown complete")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signer, err := auth.NewSigner(cfg.Auth.Secret)
	if err != nil {
		return err
	}
	token, err := signer.Mint(auth.Principal(cfg.Auth.TenantID))
	if err != nil {
		return err
	}

	controller, err := client.Dial(cfg.Controller.Address, token)
	if err != nil {
		return err
	}
	defer controller.Close()

	logger.Info("Starting gateway",
		zap.Int("port", cfg.Server.Port),
		zap.String("controller", cfg.Controller.Address),
		zap.String("tenant_id", cfg.Auth.TenantID))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpServer := server.NewServer(cfg, controller, reg, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
