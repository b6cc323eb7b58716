package math

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int    // Number of decimal places
	Scale            uint64 // 10^DecimalPrecision
}

var (
	// Collateral is bridged USDC: 6 decimals, 1 share = 1 base unit.
	CollateralConfig = DecimalConfig{DecimalPrecision: 6, Scale: 1_000_000}
	// Oracle prices are published in cents.
	PriceConfig = DecimalConfig{DecimalPrecision: 2, Scale: 100}
	// Odds are reported in basis points.
	OddsConfig = DecimalConfig{DecimalPrecision: 4, Scale: 10_000}
)

var maxUint64 = new(big.Int).SetUint64(^uint64(0))

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding
	RoundDown
	RoundUp
)

// MulDiv computes a * b / denominator with a 128-bit intermediate.
// ok is false when denominator is zero or the rounded quotient does not fit
// in uint64.
func MulDiv(a, b, denominator uint64, mode RoundingMode) (result uint64, ok bool) {
	if denominator == 0 {
		return 0, false
	}

	product := getInt128()
	quotient := getInt128()
	remainder := getInt128()
	denom := getInt128()
	defer func() {
		putInt128(product)
		putInt128(quotient)
		putInt128(remainder)
		putInt128(denom)
	}()

	product.SetUint64(a)
	quotient.SetUint64(b)
	product.Mul(product, quotient)
	denom.SetUint64(denominator)

	quotient.QuoRem(product, denom, remainder)

	if remainder.Sign() != 0 {
		switch mode {
		case RoundUp:
			quotient.Add(quotient, big.NewInt(1))
		case RoundHalfEven:
			// compare 2*remainder against denominator
			remainder.Lsh(remainder, 1)
			cmp := remainder.Cmp(denom)
			if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
				quotient.Add(quotient, big.NewInt(1))
			}
		}
	}

	if quotient.Cmp(maxUint64) > 0 {
		return 0, false
	}
	return quotient.Uint64(), true
}

// AddUint64 returns a + b and false when the sum wraps.
func AddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum >= a
}
