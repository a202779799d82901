package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/vault-snapshots/internal/config"
	apperrors "github.com/vault-snapshots/internal/errors"
	"github.com/vault-snapshots/internal/models"
	"github.com/vault-snapshots/internal/storage"
)

// SnapshotListing is a window of snapshots ordered oldest to newest.
type SnapshotListing struct {
	ChainID      string                  `json:"chainId"`
	VaultAddress string                  `json:"vaultAddress"`
	Snapshots    []*models.Snapshot      `json:"snapshots"`
	Summary      *models.SnapshotSummary `json:"summary"`
}

// SnapshotQueryService serves snapshot listings
type SnapshotQueryService struct {
	store  storage.SnapshotStore
	vaults *config.VaultDirectory
}

// NewSnapshotQueryService creates a new snapshot query service
func NewSnapshotQueryService(store storage.SnapshotStore, vaults *config.VaultDirectory) *SnapshotQueryService {
	return &SnapshotQueryService{store: store, vaults: vaults}
}

// ParseLimit turns a raw limit parameter into a bounded limit.
// Missing, non-numeric and zero values select the default.
func ParseLimit(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n == 0 {
		return storage.DefaultListLimit
	}
	return storage.ClampLimit(n)
}

// List returns up to limit of the most recent snapshots for chainID, oldest first, with a summary.
func (s *SnapshotQueryService) List(ctx context.Context, chainID string, limit int) (*SnapshotListing, error) {
	if chainID == "" {
		chainID = s.vaults.DefaultChainID()
	}
	vault := s.vaults.Address(chainID)
	if vault == "" {
		return nil, apperrors.NewMissingVaultAddressError(chainID)
	}

	rows, err := s.store.ListDescendingByTimestamp(ctx, chainID, vault, storage.ClampLimit(limit))
	if err != nil {
		return nil, apperrors.NewDatabaseError("snapshot listing", err)
	}

	ordered := make([]*models.Snapshot, len(rows))
	for i, row := range rows {
		ordered[len(rows)-1-i] = row
	}

	return &SnapshotListing{
		ChainID:      chainID,
		VaultAddress: vault,
		Snapshots:    ordered,
		Summary:      Summarize(ordered),
	}, nil
}

// Summarize describes an oldest-first window of snapshots.
func Summarize(ordered []*models.Snapshot) *models.SnapshotSummary {
	summary := &models.SnapshotSummary{
		Count:           len(ordered),
		LatestGrowthPct: ZeroGrowth,
	}
	if len(ordered) == 0 {
		return summary
	}

	first := ordered[0].BlockNumber
	latest := ordered[len(ordered)-1]
	last := latest.BlockNumber

	summary.FirstBlock = &first
	summary.LastBlock = &last
	summary.LatestGrowthPct = latest.GrowthPct
	summary.LatestTotalAssets = latest.TotalAssets
	summary.LatestSharePrice = latest.SharePrice
	return summary
}
