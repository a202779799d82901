// Package main provides the background poller entry point for the vault snapshot service.
//
// Usage:
//
//	poller        run the poller until SIGINT/SIGTERM
//	poller run    run one acquisition cycle and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vault-snapshots/internal/adapter"
	"github.com/vault-snapshots/internal/config"
	"github.com/vault-snapshots/internal/logging"
	"github.com/vault-snapshots/internal/service"
	"github.com/vault-snapshots/internal/storage"
	"github.com/vault-snapshots/internal/types"
	"github.com/vault-snapshots/internal/worker"
)

func main() {
	chainID := flag.String("chain", "", "Chain id to sample (defaults to VAULT_CHAIN_ID)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *chainID != "" {
		cfg.Vault.ChainID = *chainID
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	store, err := storage.OpenSnapshotStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open snapshot store")
	}

	vaults := config.NewVaultDirectory(cfg.Vault)
	pipeline := service.NewIngestService(store, adapter.DialEthereumVaultReader, vaults, logger)
	poller := worker.Ensure(worker.PollerConfig{
		Vault:    cfg.Vault,
		Pipeline: pipeline,
		Store:    store,
		Logger:   logger,
	})

	if flag.Arg(0) == "run" {
		code := runOnce(ctx, poller, cfg.Server.ShutdownTimeout, logger)
		_ = logger.Sync()
		os.Exit(code)
	}

	if poller.State() == types.PollerDisabled {
		logger.WithField("reason", poller.Status().DisabledReason).Warn("Poller is disabled, waiting for shutdown signal")
	}
	poller.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.WithField("signal", sig.String()).Info("Shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := poller.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("Poller shutdown incomplete")
		os.Exit(1)
	}
}

// runOnce performs a single cycle and returns the process exit code
func runOnce(ctx context.Context, poller *worker.Poller, closeTimeout time.Duration, logger *logging.Logger) int {
	result, err := poller.RunOnce(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if stopErr := poller.Stop(stopCtx); stopErr != nil {
		logger.WithError(stopErr).Warn("Error releasing snapshot store")
	}

	if err != nil {
		logger.WithError(err).Error("Snapshot run failed")
		return 1
	}

	fmt.Printf("block=%d growthPct=%s totalAssets=%s sharePrice=%s\n",
		result.Snapshot.BlockNumber,
		result.Snapshot.GrowthPct,
		result.Snapshot.TotalAssets,
		result.Snapshot.SharePrice,
	)
	return 0
}
