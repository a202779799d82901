// Package main provides the API server entry point for the vault snapshot service.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vault-snapshots/internal/adapter"
	"github.com/vault-snapshots/internal/api"
	"github.com/vault-snapshots/internal/config"
	"github.com/vault-snapshots/internal/logging"
	"github.com/vault-snapshots/internal/service"
	"github.com/vault-snapshots/internal/storage"
	"github.com/vault-snapshots/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer func() { _ = logger.Sync() }()

	logger.WithFields(map[string]interface{}{
		"backend": cfg.Database.Backend,
		"chainId": cfg.Vault.ChainID,
	}).Info("Vault snapshot API server starting")

	ctx := context.Background()

	store, err := storage.OpenSnapshotStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open snapshot store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Error closing snapshot store")
		}
	}()

	vaults := config.NewVaultDirectory(cfg.Vault)
	ingestService := service.NewIngestService(store, adapter.DialEthereumVaultReader, vaults, logger)
	queryService := service.NewSnapshotQueryService(store, vaults)

	// The poller shares the server's store, so it must not close it
	var poller *worker.Poller
	var status api.PollerStatusProvider
	if cfg.Server.PollerInProcess {
		poller = worker.Ensure(worker.PollerConfig{
			Vault:    cfg.Vault,
			Pipeline: ingestService,
			Logger:   logger,
		})
		poller.Start(ctx)
		status = poller
	}

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		IngestTimeout:   cfg.Server.IngestTimeout,
		IngestSecret:    cfg.Vault.IngestSecret,
		IngestRPS:       float64(cfg.Server.IngestRateLimit),
	}

	if serverConfig.IngestSecret == "" {
		logger.Warn("INGEST_SECRET is not set, /ingest is open to any caller")
	}

	server := api.NewServer(serverConfig, ingestService, queryService, status, store, logger)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if poller != nil {
		if err := poller.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Poller did not drain before shutdown deadline")
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
