package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vault-snapshots/internal/models"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// projectRoot walks up from the working directory to the directory holding go.mod.
func projectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}

// testSnapshot builds a snapshot for block n, one minute apart.
func testSnapshot(chainID, vault string, n uint64) *models.Snapshot {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	return &models.Snapshot{
		ChainID:        chainID,
		VaultAddress:   vault,
		BlockNumber:    n,
		BlockTimestamp: base.Add(time.Duration(n) * time.Minute),
		VaultDecimals:  6,
		TotalAssetsRaw: fmt.Sprintf("%d000000", 100+n),
		TotalSupplyRaw: "100000000",
		SharePriceRaw:  "1000000",
		TotalAssets:    fmt.Sprintf("%d.0", 100+n),
		TotalSupply:    "100.0",
		SharePrice:     "1.0",
		GrowthPct:      "0.00000000",
		CreatedAt:      base.Add(time.Duration(n) * time.Minute),
	}
}
