package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vault-snapshots/internal/logging"
)

const clickHouseMigrationsTable = "vault_snapshots_migrations"

// RunClickHouseMigrations applies the .sql files in migrationsPath that are not yet recorded
// in the migrations ledger, in name order. It returns the names it applied.
func RunClickHouseMigrations(ctx context.Context, db *ClickHouseDB, migrationsPath string) ([]string, error) {
	logger := logging.FromContext(ctx).WithField("component", "clickhouse-migrate")

	files, err := clickHouseMigrationFiles(migrationsPath)
	if err != nil {
		return nil, err
	}

	if err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+clickHouseMigrationsTable+` (
		name String,
		applied_at DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedClickHouseMigrations(ctx, db)
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, name := range files {
		if applied[name] {
			continue
		}

		content, err := os.ReadFile(filepath.Join(migrationsPath, name)) // #nosec G304 - names come from listing migrationsPath
		if err != nil {
			return ran, fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		for i, stmt := range splitSQLStatements(string(content)) {
			if err := db.Exec(ctx, stmt); err != nil {
				logger.WithError(err).WithFields(map[string]interface{}{
					"file":      name,
					"statement": truncate(stmt, 80),
				}).Error("Migration statement failed")
				return ran, fmt.Errorf("migration %s statement %d: %w", name, i+1, err)
			}
		}

		if err := db.Exec(ctx, `INSERT INTO `+clickHouseMigrationsTable+` (name, applied_at) VALUES (?, ?)`, name, time.Now().UTC()); err != nil {
			return ran, fmt.Errorf("failed to record migration %s: %w", name, err)
		}
		logger.WithField("file", name).Info("Applied migration")
		ran = append(ran, name)
	}

	if len(ran) == 0 {
		logger.Info("ClickHouse schema is up to date")
	}
	return ran, nil
}

// clickHouseMigrationFiles lists the .sql files in dir, sorted by name
func clickHouseMigrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func appliedClickHouseMigrations(ctx context.Context, db *ClickHouseDB) (map[string]bool, error) {
	rows, err := db.Query(ctx, `SELECT name FROM `+clickHouseMigrationsTable+` FINAL`)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations table: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// splitSQLStatements splits on lines ending in ';' and drops comment-only lines.
func splitSQLStatements(content string) []string {
	var statements []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()

	return statements
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
