package state

import (
	"PredictLedger/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// MarketState is derived from whether a resolution snapshot exists.
type MarketState int32

const (
	MarketStateOpen MarketState = iota
	MarketStateResolved
)

func (s MarketState) String() string {
	switch s {
	case MarketStateOpen:
		return "Open"
	case MarketStateResolved:
		return "Resolved"
	default:
		return "Unknown"
	}
}

// Resolution is the immutable outcome snapshot of a resolved market.
type Resolution struct {
	Outcome        bool   `json:"outcome"`
	OraclePrice    uint64 `json:"oracle_price"`
	ResolutionTime int64  `json:"resolution_time"`
}

// Market is a binary market on "commodity price >= threshold at expiry".
// Pools only grow while open; resolution is set exactly once.
type Market struct {
	ID             uuid.UUID
	Commodity      domain.CommodityID
	ThresholdPrice uint64
	CreationTime   int64
	ExpiryTime     int64
	Creator        common.Address
	YesPool        uint64
	NoPool         uint64
	PaidOut        uint64 // payouts and refunds already credited

	resolution *Resolution
}

// State is Resolved once a resolution snapshot exists. Expiry is not a
// stored state; see IsExpired.
func (m *Market) State() MarketState {
	if m.resolution != nil {
		return MarketStateResolved
	}
	return MarketStateOpen
}

// Resolution returns the snapshot and true once the market is resolved.
func (m *Market) Resolution() (Resolution, bool) {
	if m.resolution == nil {
		return Resolution{}, false
	}
	return *m.resolution, true
}

// IsExpired is the derived expiry predicate; buys at expiry are rejected.
func (m *Market) IsExpired(now int64) bool {
	return now >= m.ExpiryTime
}

// TotalPool never overflows: buys that would overflow are rejected.
func (m *Market) TotalPool() uint64 {
	return m.YesPool + m.NoPool
}

// Pool returns the collateral staked on one side.
func (m *Market) Pool(side domain.Side) uint64 {
	if side == domain.SideYes {
		return m.YesPool
	}
	return m.NoPool
}

// WinningPool returns the pool of the winning side, false while open.
func (m *Market) WinningPool() (uint64, bool) {
	if m.resolution == nil {
		return 0, false
	}
	return m.Pool(domain.SideForOutcome(m.resolution.Outcome)), true
}

// Unclaimed is what custody still holds for this market: unclaimed winnings
// plus floor-rounding dust after every winner has claimed.
func (m *Market) Unclaimed() uint64 {
	return m.TotalPool() - m.PaidOut
}

// MarketRecord is the serializable form of a Market.
type MarketRecord struct {
	ID             uuid.UUID          `json:"id"`
	Commodity      domain.CommodityID `json:"commodity"`
	ThresholdPrice uint64             `json:"threshold_price"`
	CreationTime   int64              `json:"creation_time"`
	ExpiryTime     int64              `json:"expiry_time"`
	Creator        common.Address     `json:"creator"`
	YesPool        uint64             `json:"yes_pool"`
	NoPool         uint64             `json:"no_pool"`
	PaidOut        uint64             `json:"paid_out"`
	Resolution     *Resolution        `json:"resolution,omitempty"`
}

// Record returns a copy safe to hand outside the core.
func (m *Market) Record() MarketRecord {
	rec := MarketRecord{
		ID:             m.ID,
		Commodity:      m.Commodity,
		ThresholdPrice: m.ThresholdPrice,
		CreationTime:   m.CreationTime,
		ExpiryTime:     m.ExpiryTime,
		Creator:        m.Creator,
		YesPool:        m.YesPool,
		NoPool:         m.NoPool,
		PaidOut:        m.PaidOut,
	}
	if m.resolution != nil {
		r := *m.resolution
		rec.Resolution = &r
	}
	return rec
}

// MarketFromRecord is the inverse of Record.
func MarketFromRecord(rec MarketRecord) *Market {
	m := &Market{
		ID:             rec.ID,
		Commodity:      rec.Commodity,
		ThresholdPrice: rec.ThresholdPrice,
		CreationTime:   rec.CreationTime,
		ExpiryTime:     rec.ExpiryTime,
		Creator:        rec.Creator,
		YesPool:        rec.YesPool,
		NoPool:         rec.NoPool,
		PaidOut:        rec.PaidOut,
	}
	if rec.Resolution != nil {
		r := *rec.Resolution
		m.resolution = &r
	}
	return m
}
