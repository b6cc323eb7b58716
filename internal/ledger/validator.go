package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed and balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateWalletNonNegative checks a participant never goes into debt
func (v *InvariantValidator) ValidateWalletNonNegative(owner common.Address, assetID AssetID) error {
	return v.tracker.ValidateNonNegative(NewUserAccountKey(owner, SubTypeWallet, assetID))
}

// ValidatePoolCustody verifies the collateral held for a market equals what
// the market says is still owed (stakes minus payouts).
func (v *InvariantValidator) ValidatePoolCustody(marketID uuid.UUID, assetID AssetID, expected uint64) error {
	held := v.tracker.GetPoolBalance(marketID, assetID)
	if held < 0 || uint64(held) != expected {
		return fmt.Errorf("market %s pool holds %d, market state expects %d", marketID, held, expected)
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
