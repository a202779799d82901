package adapter

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// vaultABI covers the view functions sampled from the vault.
const vaultABI = `[
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"totalAssets","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"sharePrice","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	parsedVaultABI = mustParseABI(vaultABI)
	addressPattern = regexp.MustCompile("^0x[a-fA-F0-9]{40}$")
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid vault ABI: %v", err))
	}
	return parsed
}

// ethCaller is the subset of ethclient.Client used by the reader.
type ethCaller interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// EthereumVaultReader implements VaultReader over a JSON-RPC endpoint.
type EthereumVaultReader struct {
	client  ethCaller
	vault   common.Address
	address string
}

// NewEthereumVaultReader dials rpcURL and binds the reader to vaultAddress.
func NewEthereumVaultReader(ctx context.Context, rpcURL, vaultAddress string) (*EthereumVaultReader, error) {
	if rpcURL == "" {
		return nil, ErrMissingRPCURL
	}
	if vaultAddress == "" {
		return nil, ErrMissingVaultAddress
	}
	if !ValidateAddress(vaultAddress) {
		return nil, NewAdapterError(vaultAddress, "NewEthereumVaultReader", ErrInvalidAddress, nil)
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, NewAdapterError(vaultAddress, "Dial", err, nil)
	}

	return newEthereumVaultReader(client, vaultAddress), nil
}

// DialEthereumVaultReader is the ReaderFactory backed by go-ethereum.
func DialEthereumVaultReader(ctx context.Context, rpcURL, vaultAddress string) (VaultReader, error) {
	return NewEthereumVaultReader(ctx, rpcURL, vaultAddress)
}

func newEthereumVaultReader(client ethCaller, vaultAddress string) *EthereumVaultReader {
	return &EthereumVaultReader{
		client:  client,
		vault:   common.HexToAddress(vaultAddress),
		address: vaultAddress,
	}
}

// NetworkID returns the chain id reported by the endpoint
func (r *EthereumVaultReader) NetworkID(ctx context.Context) (*big.Int, error) {
	id, err := r.client.ChainID(ctx)
	if err != nil {
		return nil, NewAdapterError(r.address, "NetworkID", err, nil)
	}
	return id, nil
}

// CurrentBlock returns the latest block number
func (r *EthereumVaultReader) CurrentBlock(ctx context.Context) (uint64, error) {
	n, err := r.client.BlockNumber(ctx)
	if err != nil {
		return 0, NewAdapterError(r.address, "CurrentBlock", err, nil)
	}
	return n, nil
}

// BlockTimestamp returns the header time of a block
func (r *EthereumVaultReader) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	header, err := r.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return time.Time{}, NewAdapterError(r.address, "BlockTimestamp", err, map[string]interface{}{
			"block": blockNumber,
		})
	}
	if header == nil {
		return time.Time{}, NewAdapterError(r.address, "BlockTimestamp", ErrBlockNotFound, map[string]interface{}{
			"block": blockNumber,
		})
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil // #nosec G115 - block times fit in int64
}

// Decimals calls decimals()
func (r *EthereumVaultReader) Decimals(ctx context.Context) (*big.Int, error) {
	return r.callUint(ctx, "decimals")
}

// TotalAssets calls totalAssets()
func (r *EthereumVaultReader) TotalAssets(ctx context.Context) (*big.Int, error) {
	return r.callUint(ctx, "totalAssets")
}

// TotalSupply calls totalSupply()
func (r *EthereumVaultReader) TotalSupply(ctx context.Context) (*big.Int, error) {
	return r.callUint(ctx, "totalSupply")
}

// SharePrice calls sharePrice()
func (r *EthereumVaultReader) SharePrice(ctx context.Context) (*big.Int, error) {
	return r.callUint(ctx, "sharePrice")
}

// Close closes the RPC connection
func (r *EthereumVaultReader) Close() {
	if r.client != nil {
		r.client.Close()
	}
}

// callUint performs an eth_call against latest state and decodes a single unsigned integer.
func (r *EthereumVaultReader) callUint(ctx context.Context, method string) (*big.Int, error) {
	data, err := parsedVaultABI.Pack(method)
	if err != nil {
		return nil, NewAdapterError(r.address, method, err, nil)
	}

	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &r.vault, Data: data}, nil)
	if err != nil {
		return nil, NewAdapterError(r.address, method, err, nil)
	}
	if len(out) == 0 {
		return nil, NewAdapterError(r.address, method, ErrEmptyResponse, nil)
	}

	values, err := parsedVaultABI.Unpack(method, out)
	if err != nil {
		return nil, NewAdapterError(r.address, method, err, nil)
	}
	if len(values) != 1 {
		return nil, NewAdapterError(r.address, method, fmt.Errorf("expected 1 output, got %d", len(values)), nil)
	}

	switch v := values[0].(type) {
	case *big.Int:
		return v, nil
	case uint8:
		return big.NewInt(int64(v)), nil
	default:
		return nil, NewAdapterError(r.address, method, fmt.Errorf("unexpected output type %T", v), nil)
	}
}

// ValidateAddress checks for a 0x-prefixed 20 byte hex address. Case is preserved by callers.
func ValidateAddress(address string) bool {
	return addressPattern.MatchString(address)
}
