// Package models defines persisted records.
package models

import (
	"time"
)

// Snapshot is one point-in-time record of a vault's accounting state at a block.
// Unique per (ChainID, VaultAddress, BlockNumber).
type Snapshot struct {
	ChainID        string    `json:"chainId" db:"chain_id"`
	VaultAddress   string    `json:"vaultAddress" db:"vault_address"`
	BlockNumber    uint64    `json:"blockNumber" db:"block_number"`
	BlockTimestamp time.Time `json:"blockTimestamp" db:"block_timestamp"`
	VaultDecimals  int       `json:"vaultDecimals" db:"vault_decimals"`
	TotalAssetsRaw string    `json:"totalAssetsRaw" db:"total_assets_raw"`
	TotalSupplyRaw string    `json:"totalSupplyRaw" db:"total_supply_raw"`
	SharePriceRaw  string    `json:"sharePriceRaw" db:"share_price_raw"`
	TotalAssets    string    `json:"totalAssets" db:"total_assets"`
	TotalSupply    string    `json:"totalSupply" db:"total_supply"`
	SharePrice     string    `json:"sharePrice" db:"share_price"`
	GrowthPct      string    `json:"growthPct" db:"growth_pct"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

// SnapshotKey is the uniqueness key of a snapshot.
type SnapshotKey struct {
	ChainID      string
	VaultAddress string
	BlockNumber  uint64
}

// Key returns the uniqueness key of the snapshot.
func (s *Snapshot) Key() SnapshotKey {
	return SnapshotKey{
		ChainID:      s.ChainID,
		VaultAddress: s.VaultAddress,
		BlockNumber:  s.BlockNumber,
	}
}

// SnapshotSummary describes a listed window of snapshots.
type SnapshotSummary struct {
	Count             int     `json:"count"`
	FirstBlock        *uint64 `json:"firstBlock"`
	LastBlock         *uint64 `json:"lastBlock"`
	LatestGrowthPct   string  `json:"growthPct"`
	LatestTotalAssets string  `json:"latestTotalAssets,omitempty"`
	LatestSharePrice  string  `json:"latestSharePrice,omitempty"`
}
