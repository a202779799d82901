package service

import (
	"context"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vault-snapshots/internal/adapter"
	"github.com/vault-snapshots/internal/logging"
	"github.com/vault-snapshots/internal/types"
)

// AcquireVaultState reads everything a snapshot needs in one step.
// Independent reads run concurrently; the block timestamp is read once the block number is known.
// A failing sharePrice read is recorded as absent. Any other failing read fails the whole acquisition.
func AcquireVaultState(ctx context.Context, reader adapter.VaultReader, logger *logging.Logger, now func() time.Time) (*RawVaultState, error) {
	if now == nil {
		now = time.Now
	}

	state := &RawVaultState{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		id, err := reader.NetworkID(gctx)
		if err != nil {
			return err
		}
		state.NetworkID = id
		return nil
	})

	g.Go(func() error {
		block, err := reader.CurrentBlock(gctx)
		if err != nil {
			return err
		}
		state.BlockNumber = block

		ts, err := reader.BlockTimestamp(gctx, block)
		if err != nil {
			logger.WithError(err).WithField("block", block).Warn("Block timestamp unavailable, using wall clock")
			state.BlockTimestamp = now().UTC()
			state.TimestampFallback = true
			return nil
		}
		state.BlockTimestamp = ts
		return nil
	})

	g.Go(func() error {
		d, err := reader.Decimals(gctx)
		if err != nil {
			return err
		}
		state.Decimals = d
		return nil
	})

	g.Go(func() error {
		v, err := reader.TotalAssets(gctx)
		if err != nil {
			return err
		}
		state.TotalAssets = v
		return nil
	})

	g.Go(func() error {
		v, err := reader.TotalSupply(gctx)
		if err != nil {
			return err
		}
		state.TotalSupply = v
		return nil
	})

	g.Go(func() error {
		state.SharePrice = readOptional(gctx, reader.SharePrice, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return state, nil
}

func readOptional(ctx context.Context, read func(context.Context) (*big.Int, error), logger *logging.Logger) types.OptionalUint {
	v, err := read(ctx)
	if err != nil {
		logger.WithError(err).Debug("Optional vault read unavailable")
		return types.Absent()
	}
	return types.Present(v)
}
