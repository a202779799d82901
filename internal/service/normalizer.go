package service

import (
	"math/big"
	"strings"
	"time"

	"github.com/vault-snapshots/internal/types"
)

const (
	// DefaultDecimals is used when the vault reports no usable precision
	DefaultDecimals = 18
	maxDecimals     = 255
)

// RawVaultState is the unscaled result of one acquisition.
type RawVaultState struct {
	NetworkID      *big.Int
	BlockNumber    uint64
	BlockTimestamp time.Time
	// TimestampFallback is true when the block time could not be read and wall clock was used
	TimestampFallback bool
	Decimals          *big.Int
	TotalAssets       *big.Int
	TotalSupply       *big.Int
	SharePrice        types.OptionalUint
}

// NormalizedState holds raw and scaled figures ready for persistence.
type NormalizedState struct {
	BlockNumber    uint64
	BlockTimestamp time.Time
	Decimals       int
	TotalAssetsRaw *big.Int
	TotalSupplyRaw *big.Int
	SharePriceRaw  *big.Int
	// SharePriceDerived is true when SharePriceRaw was computed from assets and supply
	SharePriceDerived bool
	TotalAssets       string
	TotalSupply       string
	SharePrice        string
}

// Normalize scales raw reads by the vault precision, deriving the share price if the vault did not supply one.
func Normalize(raw *RawVaultState) *NormalizedState {
	decimals := NormalizeDecimals(raw.Decimals)
	assets := nonNil(raw.TotalAssets)
	supply := nonNil(raw.TotalSupply)

	sharePrice := raw.SharePrice.Value
	derived := false
	if !raw.SharePrice.OK || sharePrice == nil {
		sharePrice = DeriveSharePriceRaw(assets, supply, decimals)
		derived = true
	}

	return &NormalizedState{
		BlockNumber:       raw.BlockNumber,
		BlockTimestamp:    raw.BlockTimestamp,
		Decimals:          decimals,
		TotalAssetsRaw:    assets,
		TotalSupplyRaw:    supply,
		SharePriceRaw:     sharePrice,
		SharePriceDerived: derived,
		TotalAssets:       FormatUnits(assets, decimals),
		TotalSupply:       FormatUnits(supply, decimals),
		SharePrice:        FormatUnits(sharePrice, decimals),
	}
}

// NormalizeDecimals returns d as an int, or DefaultDecimals if d is missing or outside [0, 255].
func NormalizeDecimals(d *big.Int) int {
	if d == nil || !d.IsInt64() {
		return DefaultDecimals
	}
	v := d.Int64()
	if v < 0 || v > maxDecimals {
		return DefaultDecimals
	}
	return int(v)
}

// DeriveSharePriceRaw computes assets * 10^decimals / supply with truncation.
// With no supply one share is worth one unit of asset, i.e. 10^decimals.
func DeriveSharePriceRaw(assets, supply *big.Int, decimals int) *big.Int {
	scale := pow10(decimals)
	if supply == nil || supply.Sign() == 0 {
		return scale
	}
	num := new(big.Int).Mul(nonNil(assets), scale)
	return num.Quo(num, supply)
}

// FormatUnits renders value / 10^decimals without rounding.
// The fractional part has trailing zeros trimmed but always keeps at least one digit ("2.0", "0.000001").
func FormatUnits(value *big.Int, decimals int) string {
	v := nonNil(value)
	negative := v.Sign() < 0
	abs := new(big.Int).Abs(v)

	whole, frac := new(big.Int).QuoRem(abs, pow10(decimals), new(big.Int))

	fracStr := ""
	if decimals > 0 {
		fracStr = frac.String()
		if pad := decimals - len(fracStr); pad > 0 {
			fracStr = strings.Repeat("0", pad) + fracStr
		}
		fracStr = strings.TrimRight(fracStr, "0")
	}
	if fracStr == "" {
		fracStr = "0"
	}

	var b strings.Builder
	if negative {
		b.WriteByte('-')
	}
	b.WriteString(whole.String())
	b.WriteByte('.')
	b.WriteString(fracStr)
	return b.String()
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
