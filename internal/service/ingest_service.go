package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/vault-snapshots/internal/adapter"
	"github.com/vault-snapshots/internal/config"
	apperrors "github.com/vault-snapshots/internal/errors"
	"github.com/vault-snapshots/internal/logging"
	"github.com/vault-snapshots/internal/models"
	"github.com/vault-snapshots/internal/storage"
	"github.com/vault-snapshots/internal/types"
)

// IngestResult is the outcome of one acquisition-and-persist cycle.
type IngestResult struct {
	Snapshot  *models.Snapshot `json:"snapshot"`
	NetworkID string           `json:"networkId"`
}

// IngestService runs the snapshot pipeline: read chain, normalize, compute growth, upsert.
// It is shared by the background poller and the HTTP trigger.
type IngestService struct {
	store  storage.SnapshotStore
	dial   adapter.ReaderFactory
	vaults *config.VaultDirectory
	logger *logging.Logger
	now    func() time.Time
}

// NewIngestService creates a new ingest service. Vault addresses come from vaults, which
// resolves each chain once; share it with the other services of the process.
func NewIngestService(store storage.SnapshotStore, dial adapter.ReaderFactory, vaults *config.VaultDirectory, logger *logging.Logger) *IngestService {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &IngestService{
		store:  store,
		dial:   dial,
		vaults: vaults,
		logger: logger.WithField("component", "ingest"),
		now:    time.Now,
	}
}

// DefaultChainID returns the configured chain id
func (s *IngestService) DefaultChainID() string {
	return s.vaults.DefaultChainID()
}

// ResolveTarget returns the RPC endpoint and vault address for chainID.
// An empty chainID selects the configured default.
func (s *IngestService) ResolveTarget(chainID string) (string, string, error) {
	if chainID == "" {
		chainID = s.vaults.DefaultChainID()
	}
	rpcURL := strings.TrimSpace(s.vaults.Config().RPCURL)
	if rpcURL == "" {
		return "", "", apperrors.NewMissingRPCURLError()
	}
	vault := s.vaults.Address(chainID)
	if vault == "" {
		return "", "", apperrors.NewMissingVaultAddressError(chainID)
	}
	return rpcURL, vault, nil
}

// Ingest performs one cycle for chainID and returns the persisted snapshot.
func (s *IngestService) Ingest(ctx context.Context, chainID string, source types.TriggerSource) (*IngestResult, error) {
	if chainID == "" {
		chainID = s.vaults.DefaultChainID()
	}
	start := s.now()
	log := s.logger.WithFields(map[string]interface{}{
		"chainId": chainID,
		"source":  string(source),
	})

	rpcURL, vault, err := s.ResolveTarget(chainID)
	if err != nil {
		return nil, err
	}
	log = log.WithField("vault", vault)

	reader, err := s.dial(ctx, rpcURL, vault)
	if err != nil {
		return nil, apperrors.NewChainReadError(err)
	}
	defer reader.Close()

	raw, err := AcquireVaultState(ctx, reader, log, s.now)
	if err != nil {
		return nil, apperrors.NewChainReadError(err)
	}
	norm := Normalize(raw)

	baseline := norm.TotalAssets
	earliest, err := s.store.FindEarliest(ctx, chainID, vault)
	switch {
	case err == nil:
		baseline = earliest.TotalAssets
	case errors.Is(err, storage.ErrSnapshotNotFound):
	default:
		return nil, apperrors.NewDatabaseError("baseline lookup", err)
	}

	snapshot := &models.Snapshot{
		ChainID:        chainID,
		VaultAddress:   vault,
		BlockNumber:    norm.BlockNumber,
		BlockTimestamp: norm.BlockTimestamp,
		VaultDecimals:  norm.Decimals,
		TotalAssetsRaw: norm.TotalAssetsRaw.String(),
		TotalSupplyRaw: norm.TotalSupplyRaw.String(),
		SharePriceRaw:  norm.SharePriceRaw.String(),
		TotalAssets:    norm.TotalAssets,
		TotalSupply:    norm.TotalSupply,
		SharePrice:     norm.SharePrice,
		GrowthPct:      ComputeGrowthPct(norm.TotalAssets, baseline),
		CreatedAt:      s.now().UTC(),
	}

	// a re-sampled block comes back with its stored createdAt
	if err := s.store.Upsert(ctx, snapshot); err != nil {
		return nil, apperrors.NewDatabaseError("snapshot upsert", err)
	}

	networkID := ""
	if raw.NetworkID != nil {
		networkID = raw.NetworkID.String()
	}

	log.WithFields(map[string]interface{}{
		"networkId":         networkID,
		"block":             snapshot.BlockNumber,
		"totalAssets":       snapshot.TotalAssets,
		"sharePrice":        snapshot.SharePrice,
		"sharePriceDerived": norm.SharePriceDerived,
		"growthPct":         snapshot.GrowthPct,
		"duration_ms":       s.now().Sub(start).Milliseconds(),
	}).Info("Snapshot ingested")

	return &IngestResult{Snapshot: snapshot, NetworkID: networkID}, nil
}
