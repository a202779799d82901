package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/vault-snapshots/internal/models"
)

const clickHouseSnapshotColumns = `
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
	created_at`

// ClickHouseSnapshotRepository stores snapshots in a ReplacingMergeTree keyed by
// (chain_id, vault_address, block_number). Reads use FINAL so the latest version wins.
type ClickHouseSnapshotRepository struct {
	db          *ClickHouseDB
	lastVersion atomic.Uint64
}

// NewClickHouseSnapshotRepository creates a new ClickHouse-backed snapshot store
func NewClickHouseSnapshotRepository(db *ClickHouseDB) *ClickHouseSnapshotRepository {
	return &ClickHouseSnapshotRepository{db: db}
}

// nextVersion returns a strictly increasing version for this process.
func (r *ClickHouseSnapshotRepository) nextVersion() uint64 {
	for {
		last := r.lastVersion.Load()
		next := uint64(time.Now().UnixNano()) // #nosec G115 - wall clock is positive
		if next <= last {
			next = last + 1
		}
		if r.lastVersion.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Upsert writes a new version of the row. created_at is carried over from an existing row.
func (r *ClickHouseSnapshotRepository) Upsert(ctx context.Context, s *models.Snapshot) error {
	createdAt := s.CreatedAt
	existing, err := r.queryOne(ctx, `SELECT `+clickHouseSnapshotColumns+`
		FROM vault_snapshots FINAL
		WHERE chain_id = ? AND vault_address = ? AND block_number = ?
		LIMIT 1`, s.ChainID, s.VaultAddress, s.BlockNumber)
	if err != nil && err != ErrSnapshotNotFound {
		return fmt.Errorf("failed to read existing snapshot: %w", err)
	}
	if existing != nil {
		createdAt = existing.CreatedAt
	}

	query := `INSERT INTO vault_snapshots (` + clickHouseSnapshotColumns + `, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err = r.db.Exec(ctx, query,
		s.ChainID,
		s.VaultAddress,
		s.BlockNumber,
		s.BlockTimestamp,
		uint8(s.VaultDecimals), // #nosec G115 - decimals are normalized to [0, 255]
		s.TotalAssetsRaw,
		s.TotalSupplyRaw,
		s.SharePriceRaw,
		s.TotalAssets,
		s.TotalSupply,
		s.SharePrice,
		s.GrowthPct,
		createdAt,
		r.nextVersion(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	s.CreatedAt = createdAt
	return nil
}

// FindEarliest returns the snapshot with the lowest block number for the pair
func (r *ClickHouseSnapshotRepository) FindEarliest(ctx context.Context, chainID, vaultAddress string) (*models.Snapshot, error) {
	return r.queryOne(ctx, `SELECT `+clickHouseSnapshotColumns+`
		FROM vault_snapshots FINAL
		WHERE chain_id = ? AND vault_address = ?
		ORDER BY block_number ASC
		LIMIT 1`, chainID, vaultAddress)
}

// ListDescendingByTimestamp returns up to limit snapshots, newest first
func (r *ClickHouseSnapshotRepository) ListDescendingByTimestamp(ctx context.Context, chainID, vaultAddress string, limit int) ([]*models.Snapshot, error) {
	rows, err := r.db.Query(ctx, `SELECT `+clickHouseSnapshotColumns+`
		FROM vault_snapshots FINAL
		WHERE chain_id = ? AND vault_address = ?
		ORDER BY block_timestamp DESC, block_number DESC
		LIMIT ?`, chainID, vaultAddress, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshots := make([]*models.Snapshot, 0)
	for rows.Next() {
		s, err := scanClickHouseSnapshot(rows)
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

// Ping checks if ClickHouse is reachable
func (r *ClickHouseSnapshotRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Close closes the connection
func (r *ClickHouseSnapshotRepository) Close() error {
	return r.db.Close()
}

func (r *ClickHouseSnapshotRepository) queryOne(ctx context.Context, query string, args ...interface{}) (*models.Snapshot, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query snapshot: %w", err)
		}
		return nil, ErrSnapshotNotFound
	}
	return scanClickHouseSnapshot(rows)
}

func scanClickHouseSnapshot(rows driver.Rows) (*models.Snapshot, error) {
	var s models.Snapshot
	var decimals uint8
	err := rows.Scan(
		&s.ChainID,
		&s.VaultAddress,
		&s.BlockNumber,
		&s.BlockTimestamp,
		&decimals,
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
	s.VaultDecimals = int(decimals)
	s.BlockTimestamp = s.BlockTimestamp.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}
