package query

import (
	"PredictLedger/internal/domain"
	"PredictLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Market states as reported by queries. Expired is derived at query time.
const (
	MarketOpen     = "open"
	MarketExpired  = "expired"
	MarketResolved = "resolved"
)

// MarketResponse represents a market for API queries.
type MarketResponse struct {
	state.MarketRecord
	State        string `json:"state"`
	TotalPool    uint64 `json:"total_pool"`
	Unclaimed    uint64 `json:"unclaimed"`
	YesOddsBps   uint64 `json:"yes_odds_bps"`
	NoOddsBps    uint64 `json:"no_odds_bps"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// MarketFilter narrows ListMarkets. Zero values match everything.
type MarketFilter struct {
	Commodity *domain.CommodityID
	State     string
}

// PriceResponse represents the latest observation of one commodity.
type PriceResponse struct {
	state.PriceRecord
	AsOfSequence int64 `json:"as_of_sequence"`
}

// PositionResponse represents a position for API queries.
type PositionResponse struct {
	MarketID  uuid.UUID      `json:"market_id"`
	Owner     common.Address `json:"owner"`
	YesShares uint64         `json:"yes_shares"`
	NoShares  uint64         `json:"no_shares"`
	Claimed   bool           `json:"claimed"`
	Stake     uint64         `json:"stake"`
	// Claimable is derived at query time: the payout (or refund) a claim
	// would produce now. Zero while the market is open or once claimed.
	Claimable    uint64 `json:"claimable"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// BalanceResponse represents a participant's collateral.
type BalanceResponse struct {
	Owner common.Address `json:"owner"`
	Asset string         `json:"asset"`

	// Ledger balance
	Wallet int64 `json:"wallet"`

	// Derived values (computed at query time, NOT ledger balances)
	AtStake   uint64 `json:"at_stake"`  // stakes in unresolved markets
	Claimable uint64 `json:"claimable"` // unclaimed payouts and refunds

	AsOfSequence int64 `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	PoolMismatches   []PoolMismatch    `json:"pool_mismatches,omitempty"`
	AsOfSequence     int64             `json:"as_of_sequence"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}

// PoolMismatch is a market whose custody account disagrees with its pools.
type PoolMismatch struct {
	MarketID uuid.UUID `json:"market_id"`
	Custody  int64     `json:"custody"`
	Expected uint64    `json:"expected"`
}
