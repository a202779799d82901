package adapter

import (
	"context"
	"fmt"
	"math/big"
	"time"
)

// VaultReader is a read-only view of a chain and one vault contract on it.
// Implementations must be safe for concurrent use; all methods may fail transiently.
type VaultReader interface {
	// NetworkID returns the chain id reported by the RPC endpoint
	NetworkID(ctx context.Context) (*big.Int, error)

	// CurrentBlock returns the latest block number
	CurrentBlock(ctx context.Context) (uint64, error)

	// BlockTimestamp returns the wall-clock time of a block
	BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)

	// Decimals calls decimals() on the vault
	Decimals(ctx context.Context) (*big.Int, error)

	// TotalAssets calls totalAssets() on the vault
	TotalAssets(ctx context.Context) (*big.Int, error)

	// TotalSupply calls totalSupply() on the vault
	TotalSupply(ctx context.Context) (*big.Int, error)

	// SharePrice calls sharePrice() on the vault. Not every vault exposes it.
	SharePrice(ctx context.Context) (*big.Int, error)

	// Close releases the underlying connection
	Close()
}

// ReaderFactory dials a VaultReader for an RPC endpoint and vault address.
type ReaderFactory func(ctx context.Context, rpcURL, vaultAddress string) (VaultReader, error)

var (
	// ErrMissingRPCURL indicates no RPC endpoint is configured
	ErrMissingRPCURL = fmt.Errorf("rpc url is not configured")

	// ErrMissingVaultAddress indicates no vault address resolves for the chain
	ErrMissingVaultAddress = fmt.Errorf("vault address is not configured")

	// ErrInvalidAddress indicates the address format is invalid
	ErrInvalidAddress = fmt.Errorf("invalid address format")

	// ErrEmptyResponse indicates a view call returned no data (missing method or EOA)
	ErrEmptyResponse = fmt.Errorf("empty call response")

	// ErrBlockNotFound indicates the requested block was not found
	ErrBlockNotFound = fmt.Errorf("block not found")
)

// AdapterError wraps errors with additional context
type AdapterError struct {
	Vault   string
	Op      string // Operation that failed (e.g., "totalAssets", "CurrentBlock")
	Err     error
	Details map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("vault reader error [%s:%s]: %v (details: %+v)", e.Vault, e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("vault reader error [%s:%s]: %v", e.Vault, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(vault string, op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Vault:   vault,
		Op:      op,
		Err:     err,
		Details: details,
	}
}
