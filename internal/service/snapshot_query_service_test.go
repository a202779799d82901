package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-snapshots/internal/config"
	"github.com/vault-snapshots/internal/models"
	"github.com/vault-snapshots/internal/storage"
)

func TestParseLimit(t *testing.T) {
	tests := map[string]int{
		"":     120,
		"0":    120,
		"abc":  120,
		"5000": 2000,
		"2000": 2000,
		"1":    1,
		"-5":   1,
		" 50 ": 50,
	}
	for raw, want := range tests {
		t.Run(fmt.Sprintf("%q", raw), func(t *testing.T) {
			assert.Equal(t, want, ParseLimit(raw))
		})
	}
}

func seedSnapshots(t *testing.T, store storage.SnapshotStore, n int) {
	t.Helper()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		require.NoError(t, store.Upsert(context.Background(), &models.Snapshot{
			ChainID:        "1",
			VaultAddress:   testVault,
			BlockNumber:    uint64(1000 + i),
			BlockTimestamp: base.Add(time.Duration(i) * time.Minute),
			TotalAssets:    fmt.Sprintf("%d.0", 100+i),
			SharePrice:     "1.0",
			GrowthPct:      fmt.Sprintf("%d.00000000", i),
		}))
	}
}

func TestSnapshotQueryService_List(t *testing.T) {
	store := storage.NewMemorySnapshotStore()
	seedSnapshots(t, store, 5)
	svc := NewSnapshotQueryService(store, config.NewVaultDirectory(testVaultConfig()))

	listing, err := svc.List(context.Background(), "", 3)
	require.NoError(t, err)

	require.Len(t, listing.Snapshots, 3)
	assert.Equal(t, uint64(1002), listing.Snapshots[0].BlockNumber)
	assert.Equal(t, uint64(1004), listing.Snapshots[2].BlockNumber)

	s := listing.Summary
	assert.Equal(t, 3, s.Count)
	require.NotNil(t, s.FirstBlock)
	require.NotNil(t, s.LastBlock)
	assert.Equal(t, uint64(1002), *s.FirstBlock)
	assert.Equal(t, uint64(1004), *s.LastBlock)
	assert.Equal(t, "4.00000000", s.LatestGrowthPct)
	assert.Equal(t, "104.0", s.LatestTotalAssets)
}

func TestSnapshotQueryService_ListClampsLimit(t *testing.T) {
	store := storage.NewMemorySnapshotStore()
	seedSnapshots(t, store, 2005)
	svc := NewSnapshotQueryService(store, config.NewVaultDirectory(testVaultConfig()))

	listing, err := svc.List(context.Background(), "1", ParseLimit("5000"))
	require.NoError(t, err)
	assert.Len(t, listing.Snapshots, 2000)

	listing, err = svc.List(context.Background(), "1", ParseLimit("0"))
	require.NoError(t, err)
	assert.Len(t, listing.Snapshots, 120)
}

func TestSnapshotQueryService_Empty(t *testing.T) {
	svc := NewSnapshotQueryService(storage.NewMemorySnapshotStore(), config.NewVaultDirectory(testVaultConfig()))

	listing, err := svc.List(context.Background(), "1", 10)
	require.NoError(t, err)
	assert.Empty(t, listing.Snapshots)
	assert.Nil(t, listing.Summary.FirstBlock)
	assert.Equal(t, "0.00000000", listing.Summary.LatestGrowthPct)
}
