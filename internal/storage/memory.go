package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/vault-snapshots/internal/models"
)

// MemorySnapshotStore keeps snapshots in process memory. Used for local runs and tests.
type MemorySnapshotStore struct {
	mu   sync.RWMutex
	rows map[models.SnapshotKey]*models.Snapshot
}

// NewMemorySnapshotStore creates an empty in-memory store
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{
		rows: make(map[models.SnapshotKey]*models.Snapshot),
	}
}

// Upsert inserts or overwrites a snapshot, keeping the original CreatedAt
func (m *MemorySnapshotStore) Upsert(ctx context.Context, snapshot *models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := snapshot.Key()
	if existing, ok := m.rows[key]; ok {
		snapshot.CreatedAt = existing.CreatedAt
	}
	row := *snapshot
	m.rows[key] = &row
	return nil
}

// pair returns copies of the rows stored for one (chain, vault) pair. Caller holds mu.
func (m *MemorySnapshotStore) pair(chainID, vaultAddress string) []*models.Snapshot {
	var out []*models.Snapshot
	for key, row := range m.rows {
		if key.ChainID == chainID && key.VaultAddress == vaultAddress {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out
}

// FindEarliest returns the snapshot with the smallest block number
func (m *MemorySnapshotStore) FindEarliest(ctx context.Context, chainID, vaultAddress string) (*models.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var earliest *models.Snapshot
	for _, row := range m.pair(chainID, vaultAddress) {
		if earliest == nil || row.BlockNumber < earliest.BlockNumber {
			earliest = row
		}
	}
	if earliest == nil {
		return nil, ErrSnapshotNotFound
	}
	return earliest, nil
}

// ListDescendingByTimestamp returns up to limit snapshots, newest first
func (m *MemorySnapshotStore) ListDescendingByTimestamp(ctx context.Context, chainID, vaultAddress string, limit int) ([]*models.Snapshot, error) {
	m.mu.RLock()
	result := m.pair(chainID, vaultAddress)
	m.mu.RUnlock()
	if result == nil {
		result = make([]*models.Snapshot, 0)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].BlockTimestamp.Equal(result[j].BlockTimestamp) {
			return result[i].BlockNumber > result[j].BlockNumber
		}
		return result[i].BlockTimestamp.After(result[j].BlockTimestamp)
	})

	limit = ClampLimit(limit)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Ping always succeeds
func (m *MemorySnapshotStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (m *MemorySnapshotStore) Close() error {
	return nil
}

// Count returns the number of stored snapshots for a pair
func (m *MemorySnapshotStore) Count(chainID, vaultAddress string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pair(chainID, vaultAddress))
}
