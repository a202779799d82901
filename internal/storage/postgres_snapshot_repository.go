package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vault-snapshots/internal/models"
)

const snapshotColumns = `
	chain_id,
	vault_address,
	block_number,
	block_timestamp,
	vault_decimals,
	total_assets_raw::text,
	total_supply_raw::text,
	share_price_raw::text,
	total_assets,
	total_supply,
	share_price,
	growth_pct,
	created_at`

// PostgresSnapshotRepository stores snapshots in the vault_snapshots table
type PostgresSnapshotRepository struct {
	db *PostgresDB
}

// NewPostgresSnapshotRepository creates a new Postgres-backed snapshot store
func NewPostgresSnapshotRepository(db *PostgresDB) *PostgresSnapshotRepository {
	return &PostgresSnapshotRepository{db: db}
}

// Upsert inserts a snapshot or overwrites the row with the same key.
// created_at keeps the value from the first insert and is copied back into s.
func (r *PostgresSnapshotRepository) Upsert(ctx context.Context, s *models.Snapshot) error {
	query := `
		INSERT INTO vault_snapshots (
			chain_id,
			vault_address,
			block_number,
			block_timestamp,
			vault_decimals,
			total_assets_raw,
			total_supply_raw,
			share_price_raw,
			total_assets,
			total_supply,
			share_price,
			growth_pct,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7::text::numeric, $8::text::numeric, $9, $10, $11, $12, $13)
		ON CONFLICT (chain_id, vault_address, block_number)
		DO UPDATE SET
			block_timestamp = EXCLUDED.block_timestamp,
			vault_decimals = EXCLUDED.vault_decimals,
			total_assets_raw = EXCLUDED.total_assets_raw,
			total_supply_raw = EXCLUDED.total_supply_raw,
			share_price_raw = EXCLUDED.share_price_raw,
			total_assets = EXCLUDED.total_assets,
			total_supply = EXCLUDED.total_supply,
			share_price = EXCLUDED.share_price,
			growth_pct = EXCLUDED.growth_pct
	`

	_, err := r.db.Pool().Exec(
		ctx,
		query,
		s.ChainID,
		s.VaultAddress,
		int64(s.BlockNumber), // #nosec G115 - block heights fit in BIGINT
		s.BlockTimestamp,
		s.VaultDecimals,
		s.TotalAssetsRaw,
		s.TotalSupplyRaw,
		s.SharePriceRaw,
		s.TotalAssets,
		s.TotalSupply,
		s.SharePrice,
		s.GrowthPct,
		s.CreatedAt,
	).Scan(&createdAt)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	s.CreatedAt = createdAt.UTC()
	return nil
}

// FindEarliest returns the snapshot with the lowest block number for the pair
func (r *PostgresSnapshotRepository) FindEarliest(ctx context.Context, chainID, vaultAddress string) (*models.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM vault_snapshots
		WHERE chain_id = $1 AND vault_address = $2
		ORDER BY block_number ASC
		LIMIT 1
	`

	s, err := scanSnapshot(r.db.Pool().QueryRow(ctx, query, chainID, vaultAddress))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to query earliest snapshot: %w", err)
	}
	return s, nil
}

// ListDescendingByTimestamp returns up to limit snapshots, newest first
func (r *PostgresSnapshotRepository) ListDescendingByTimestamp(ctx context.Context, chainID, vaultAddress string, limit int) ([]*models.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM vault_snapshots
		WHERE chain_id = $1 AND vault_address = $2
		ORDER BY block_timestamp DESC, block_number DESC
		LIMIT $3
	`

	rows, err := r.db.Pool().Query(ctx, query, chainID, vaultAddress, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]*models.Snapshot, 0)
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snapshots, nil
}

// Ping checks if the database is reachable
func (r *PostgresSnapshotRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Close releases the connection pool
func (r *PostgresSnapshotRepository) Close() error {
	r.db.Close()
	return nil
}

func scanSnapshot(row pgx.Row) (*models.Snapshot, error) {
	var s models.Snapshot
	var block int64
	err := row.Scan(
		&s.ChainID,
		&s.VaultAddress,
		&block,
		&s.BlockTimestamp,
		&s.VaultDecimals,
		&s.TotalAssetsRaw,
		&s.TotalSupplyRaw,
		&s.SharePriceRaw,
		&s.TotalAssets,
		&s.TotalSupply,
		&s.SharePrice,
		&s.GrowthPct,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.BlockNumber = uint64(block) // #nosec G115 - stored values are non-negative
	s.BlockTimestamp = s.BlockTimestamp.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}
