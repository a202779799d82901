package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vault-snapshots/internal/logging"
)

func TestAcquireVaultState(t *testing.T) {
	reader := newFakeReader()
	reader.sharePrice = reader.assets

	state, err := AcquireVaultState(context.Background(), reader, logging.NewNop(), nil)
	require.NoError(t, err)

	assert.Equal(t, "1", state.NetworkID.String())
	assert.Equal(t, uint64(100), state.BlockNumber)
	assert.Equal(t, reader.timestamp, state.BlockTimestamp)
	assert.False(t, state.TimestampFallback)
	assert.Equal(t, int64(6), state.Decimals.Int64())
	assert.True(t, state.SharePrice.OK)
	assert.Equal(t, int64(7), reader.calls.Load())
}

func TestAcquireVaultState_SharePriceOptional(t *testing.T) {
	reader := newFakeReader()
	reader.fail("sharePrice")

	state, err := AcquireVaultState(context.Background(), reader, logging.NewNop(), nil)
	require.NoError(t, err)
	assert.False(t, state.SharePrice.OK)
	assert.Nil(t, state.SharePrice.Value)
}

func TestAcquireVaultState_TimestampFallback(t *testing.T) {
	reader := newFakeReader()
	reader.fail("blockTimestamp")
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	state, err := AcquireVaultState(context.Background(), reader, logging.NewNop(), func() time.Time { return fixed })
	require.NoError(t, err)
	assert.True(t, state.TimestampFallback)
	assert.Equal(t, fixed, state.BlockTimestamp)
}

func TestAcquireVaultState_RequiredReadFails(t *testing.T) {
	for _, method := range []string{"networkId", "currentBlock", "decimals", "totalAssets", "totalSupply"} {
		t.Run(method, func(t *testing.T) {
			reader := newFakeReader()
			reader.fail(method)

			state, err := AcquireVaultState(context.Background(), reader, logging.NewNop(), nil)
			require.Error(t, err)
			assert.Nil(t, state)
			assert.Contains(t, err.Error(), method)
		})
	}
}
