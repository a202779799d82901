package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vault-snapshots/internal/adapter"
)

const testVault = "0x1111111111111111111111111111111111111111"

// fakeReader is a scripted VaultReader that counts every call.
type fakeReader struct {
	mu sync.Mutex

	networkID  *big.Int
	block      uint64
	timestamp  time.Time
	decimals   *big.Int
	assets     *big.Int
	supply     *big.Int
	sharePrice *big.Int

	errs  map[string]error
	calls atomic.Int64

	closed bool
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		networkID: big.NewInt(1),
		block:     100,
		timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		decimals:  big.NewInt(6),
		assets:    big.NewInt(100_000_000),
		supply:    big.NewInt(100_000_000),
		errs:      map[string]error{},
	}
}

func (f *fakeReader) fail(method string) {
	f.errs[method] = errors.New(method + " reverted")
}

func (f *fakeReader) result(method string, v *big.Int) (*big.Int, error) {
	f.calls.Add(1)
	if err := f.errs[method]; err != nil {
		return nil, err
	}
	if v == nil {
		return nil, adapter.ErrEmptyResponse
	}
	return v, nil
}

func (f *fakeReader) NetworkID(ctx context.Context) (*big.Int, error) {
	return f.result("networkId", f.networkID)
}

func (f *fakeReader) CurrentBlock(ctx context.Context) (uint64, error) {
	f.calls.Add(1)
	if err := f.errs["currentBlock"]; err != nil {
		return 0, err
	}
	return f.block, nil
}

func (f *fakeReader) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	f.calls.Add(1)
	if err := f.errs["blockTimestamp"]; err != nil {
		return time.Time{}, err
	}
	return f.timestamp, nil
}

func (f *fakeReader) Decimals(ctx context.Context) (*big.Int, error) {
	return f.result("decimals", f.decimals)
}

func (f *fakeReader) TotalAssets(ctx context.Context) (*big.Int, error) {
	return f.result("totalAssets", f.assets)
}

func (f *fakeReader) TotalSupply(ctx context.Context) (*big.Int, error) {
	return f.result("totalSupply", f.supply)
}

func (f *fakeReader) SharePrice(ctx context.Context) (*big.Int, error) {
	return f.result("sharePrice", f.sharePrice)
}

func (f *fakeReader) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeReader) factory() adapter.ReaderFactory {
	return func(ctx context.Context, rpcURL, vaultAddress string) (adapter.VaultReader, error) {
		return f, nil
	}
}
