package storage

import (
	"context"
	"errors"

	"github.com/vault-snapshots/internal/models"
)

const (
	// DefaultListLimit is used when a listing asks for no usable limit
	DefaultListLimit = 120
	// MaxListLimit bounds a single listing
	MaxListLimit = 2000
)

// ErrSnapshotNotFound is returned when no snapshot exists for a pair
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore persists vault snapshots.
//
// Upsert inserts by (chain id, vault address, block number) or overwrites every non-key
// field of the existing row; CreatedAt of an existing row is kept and written back into snapshot,
// so after Upsert the snapshot matches the persisted row. FindEarliest returns the row
// with the smallest block number or ErrSnapshotNotFound. ListDescendingByTimestamp returns at most
// limit rows, newest block timestamp first.
type SnapshotStore interface {
	Upsert(ctx context.Context, snapshot *models.Snapshot) error
	FindEarliest(ctx context.Context, chainID, vaultAddress string) (*models.Snapshot, error)
	ListDescendingByTimestamp(ctx context.Context, chainID, vaultAddress string, limit int) ([]*models.Snapshot, error)
	Ping(ctx context.Context) error
	Close() error
}

// ClampLimit bounds a listing limit to [1, MaxListLimit].
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
