package math

import "PredictLedger/internal/domain"

// ComputePayout returns floor(userShares * totalPool / winningPool).
//
// The product is taken in 128 bits so a large pool times a large position
// never truncates. Rounding is always down, which keeps the sum of payouts
// across all winners at or below totalPool; the remainder stays in the pool.
func ComputePayout(userShares, winningPool, totalPool uint64) (uint64, error) {
	if winningPool == 0 {
		return 0, domain.ErrInvalidPool
	}
	payout, ok := MulDiv(userShares, totalPool, winningPool, RoundDown)
	if !ok {
		return 0, domain.ErrPayoutOverflow
	}
	return payout, nil
}

// ImpliedOddsBps returns sidePool / totalPool in basis points, rounded half
// to even. An empty market reports even odds.
func ImpliedOddsBps(sidePool, totalPool uint64) uint64 {
	if totalPool == 0 {
		return OddsConfig.Scale / 2
	}
	bps, ok := MulDiv(sidePool, OddsConfig.Scale, totalPool, RoundHalfEven)
	if !ok {
		return OddsConfig.Scale
	}
	return bps
}
