package service

import (
	"github.com/shopspring/decimal"
)

// GrowthPrecision is the number of fractional digits in a growth percentage
const GrowthPrecision = 8

var hundred = decimal.NewFromInt(100)

// ZeroGrowth is the rendering of 0% growth
var ZeroGrowth = decimal.Zero.StringFixed(GrowthPrecision)

// ComputeGrowthPct returns (current - baseline) / baseline * 100 with 8 fractional digits.
// A non-positive or unparseable baseline, or an unparseable current value, yields "0.00000000".
func ComputeGrowthPct(current, baseline string) string {
	cur, err := decimal.NewFromString(current)
	if err != nil {
		return ZeroGrowth
	}
	base, err := decimal.NewFromString(baseline)
	if err != nil || !base.IsPositive() {
		return ZeroGrowth
	}

	return cur.Sub(base).Mul(hundred).DivRound(base, GrowthPrecision).StringFixed(GrowthPrecision)
}
