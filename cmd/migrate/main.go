// Package main provides a CLI tool for running database migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/vault-snapshots/internal/config"
	"github.com/vault-snapshots/internal/storage"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version")
		dbType = flag.String("db", "", "Database type: postgres, clickhouse (defaults to STORE_BACKEND)")
		path   = flag.String("path", "", "Migrations directory (defaults to migrations/<db>)")
	)
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	backend := *dbType
	if backend == "" {
		backend = cfg.Database.Backend
	}

	switch backend {
	case config.BackendPostgres:
		if err := runPostgresMigrations(cfg, *action, pathOr(*path, storage.DefaultPostgresMigrationsPath)); err != nil {
			log.Fatalf("Postgres migration failed: %v", err)
		}
	case config.BackendClickHouse:
		if err := runClickHouseMigrations(cfg, *action, pathOr(*path, "migrations/clickhouse")); err != nil {
			log.Fatalf("ClickHouse migration failed: %v", err)
		}
	case config.BackendMemory:
		log.Println("Memory backend has no schema, nothing to migrate")
	default:
		log.Fatalf("Unknown database type: %s", backend)
	}
}

func pathOr(path, fallback string) string {
	if path != "" {
		return path
	}
	return fallback
}

func runPostgresMigrations(cfg *config.Config, action, migrationsPath string) error {
	databaseURL := cfg.Database.Postgres.URL()

	switch action {
	case "up":
		log.Println("Running Postgres migrations...")
		if err := storage.RunMigrations(databaseURL, migrationsPath); err != nil {
			return err
		}
		log.Println("Postgres migrations completed successfully")

	case "down":
		log.Println("Rolling back Postgres migration...")
		if err := storage.RollbackMigrations(databaseURL, migrationsPath); err != nil {
			return err
		}
		log.Println("Postgres migration rolled back successfully")

	case "version":
		version, dirty, err := storage.MigrationVersion(databaseURL, migrationsPath)
		if err != nil {
			return err
		}
		log.Printf("Current Postgres migration version: %d (dirty: %v)", version, dirty)

	default:
		return fmt.Errorf("unknown action: %s", action)
	}

	return nil
}

func runClickHouseMigrations(cfg *config.Config, action, migrationsPath string) error {
	if action != "up" {
		return fmt.Errorf("ClickHouse migrations only support 'up' action")
	}

	if _, err := os.Stat(migrationsPath); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory not found: %s", migrationsPath)
	}

	ctx := context.Background()

	log.Println("Connecting to ClickHouse...")
	db, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing ClickHouse connection: %v", err)
		}
	}()

	log.Println("Running ClickHouse migrations...")
	applied, err := storage.RunClickHouseMigrations(ctx, db, migrationsPath)
	if err != nil {
		return err
	}

	log.Printf("ClickHouse migrations completed successfully (%d applied)", len(applied))
	return nil
}
