package state

import (
	"bytes"
	"fmt"
	"sort"

	"PredictLedger/internal/domain"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"
	fpmath "PredictLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// MarketManager runs the market lifecycle. Every operation checks all of its
// failure conditions before touching a Market, Position or custody; a
// returned error means nothing changed.
type MarketManager struct {
	markets      map[uuid.UUID]*Market
	feeds        *PriceFeedStore
	positions    *PositionLedger
	custody      ledger.Custody
	maxOracleAge int64
}

// NewMarketManager wires the lifecycle to its price feeds, positions and
// custody. A non-positive maxOracleAge selects MaxOracleAge.
func NewMarketManager(feeds *PriceFeedStore, positions *PositionLedger, custody ledger.Custody, maxOracleAge int64) *MarketManager {
	if maxOracleAge <= 0 {
		maxOracleAge = MaxOracleAge
	}
	return &MarketManager{
		markets:      make(map[uuid.UUID]*Market),
		feeds:        feeds,
		positions:    positions,
		custody:      custody,
		maxOracleAge: maxOracleAge,
	}
}

// Get returns the market or nil.
func (mm *MarketManager) Get(id uuid.UUID) *Market {
	return mm.markets[id]
}

func (mm *MarketManager) lookup(id uuid.UUID) (*Market, error) {
	m := mm.markets[id]
	if m == nil {
		return nil, domain.ErrMarketNotFound
	}
	return m, nil
}

// Create opens a market. expiry must be strictly after now.
func (mm *MarketManager) Create(
	id uuid.UUID,
	commodity domain.CommodityID,
	threshold uint64,
	expiry int64,
	creator common.Address,
	now int64,
) (event.MarketCreated, error) {
	if expiry <= now {
		return event.MarketCreated{}, domain.ErrInvalidExpiryTime
	}
	if _, exists := mm.markets[id]; exists {
		return event.MarketCreated{}, domain.ErrMarketExists
	}

	mm.markets[id] = &Market{
		ID:             id,
		Commodity:      commodity,
		ThresholdPrice: threshold,
		CreationTime:   now,
		ExpiryTime:     expiry,
		Creator:        creator,
	}

	return event.MarketCreated{
		Market:         id,
		Commodity:      commodity,
		ThresholdPrice: threshold,
		ExpiryTime:     expiry,
		Creator:        creator,
	}, nil
}

// Buy stakes amount on side and issues the same number of shares.
func (mm *MarketManager) Buy(
	id uuid.UUID,
	participant common.Address,
	side domain.Side,
	amount uint64,
	now int64,
) (event.SharesPurchased, error) {
	m, err := mm.lookup(id)
	if err != nil {
		return event.SharesPurchased{}, err
	}
	if m.State() == MarketStateResolved {
		return event.SharesPurchased{}, domain.ErrMarketResolved
	}
	if m.IsExpired(now) {
		return event.SharesPurchased{}, domain.ErrMarketExpired
	}
	if amount == 0 {
		return event.SharesPurchased{}, domain.ErrInvalidAmount
	}
	if !side.Valid() {
		return event.SharesPurchased{}, domain.ErrInvalidSide
	}
	if _, ok := fpmath.AddUint64(m.TotalPool(), amount); !ok {
		return event.SharesPurchased{}, domain.ErrPoolOverflow
	}

	if err := mm.custody.Debit(participant, id, amount); err != nil {
		return event.SharesPurchased{}, fmt.Errorf("debit stake: %w", err)
	}

	pos := mm.positions.GetOrCreate(id, participant)
	if side == domain.SideYes {
		m.YesPool += amount
		pos.YesShares += amount
	} else {
		m.NoPool += amount
		pos.NoShares += amount
	}

	return event.SharesPurchased{
		Market:      id,
		Participant: participant,
		Side:        side,
		Amount:      amount,
	}, nil
}

// Resolve settles an expired market from a fresh oracle price. Anyone may
// call it; the resolution is written once and never overwritten.
func (mm *MarketManager) Resolve(id uuid.UUID, now int64) (event.MarketResolved, error) {
	m, err := mm.lookup(id)
	if err != nil {
		return event.MarketResolved{}, err
	}
	if now < m.ExpiryTime {
		return event.MarketResolved{}, domain.ErrMarketNotExpired
	}
	if m.State() == MarketStateResolved {
		return event.MarketResolved{}, domain.ErrAlreadyResolved
	}

	record, err := mm.feeds.Read(m.Commodity)
	if err != nil {
		return event.MarketResolved{}, err
	}
	// Stale at exactly maxAge, one second stricter than IsStale.
	if now-record.Timestamp >= mm.maxOracleAge {
		return event.MarketResolved{}, domain.ErrStaleOraclePrice
	}

	outcome := record.Price >= m.ThresholdPrice
	m.resolution = &Resolution{
		Outcome:        outcome,
		OraclePrice:    record.Price,
		ResolutionTime: now,
	}

	return event.MarketResolved{
		Market:         id,
		Outcome:        outcome,
		OraclePrice:    record.Price,
		ThresholdPrice: m.ThresholdPrice,
		ResolutionTime: now,
	}, nil
}

// Claim pays the participant's pro-rata share of the total pool.
func (mm *MarketManager) Claim(id uuid.UUID, participant common.Address) (event.WinningsClaimed, error) {
	m, err := mm.lookup(id)
	if err != nil {
		return event.WinningsClaimed{}, err
	}
	res, resolved := m.Resolution()
	if !resolved {
		return event.WinningsClaimed{}, domain.ErrMarketNotResolved
	}

	winningSide := domain.SideForOutcome(res.Outcome)
	pos := mm.positions.Get(id, participant)
	if pos == nil || pos.Shares(winningSide) == 0 {
		return event.WinningsClaimed{}, domain.ErrNoWinningShares
	}
	if pos.Claimed {
		return event.WinningsClaimed{}, domain.ErrAlreadyClaimed
	}

	winningPool := m.Pool(winningSide)
	payout, err := fpmath.ComputePayout(pos.Shares(winningSide), winningPool, m.TotalPool())
	if err != nil {
		return event.WinningsClaimed{}, err
	}
	if payout == 0 {
		return event.WinningsClaimed{}, domain.ErrInvalidPayout
	}

	// Marked before the transfer; undone only if custody refuses it.
	pos.Claimed = true
	if err := mm.custody.Credit(participant, id, payout); err != nil {
		pos.Claimed = false
		return event.WinningsClaimed{}, fmt.Errorf("credit payout: %w", err)
	}
	m.PaidOut += payout

	return event.WinningsClaimed{
		Market:      id,
		Participant: participant,
		Payout:      payout,
	}, nil
}

// Refund returns a participant's whole stake when nobody staked the winning
// side. It shares the claimed flag with Claim, so each position settles once.
func (mm *MarketManager) Refund(id uuid.UUID, participant common.Address) (event.StakeRefunded, error) {
	m, err := mm.lookup(id)
	if err != nil {
		return event.StakeRefunded{}, err
	}
	winningPool, resolved := m.WinningPool()
	if !resolved {
		return event.StakeRefunded{}, domain.ErrMarketNotResolved
	}
	if winningPool != 0 {
		return event.StakeRefunded{}, domain.ErrRefundUnavailable
	}

	pos := mm.positions.Get(id, participant)
	if pos == nil || pos.Stake() == 0 {
		return event.StakeRefunded{}, domain.ErrNothingToRefund
	}
	if pos.Claimed {
		return event.StakeRefunded{}, domain.ErrAlreadyClaimed
	}

	amount := pos.Stake()
	pos.Claimed = true
	if err := mm.custody.Credit(participant, id, amount); err != nil {
		pos.Claimed = false
		return event.StakeRefunded{}, fmt.Errorf("credit refund: %w", err)
	}
	m.PaidOut += amount

	return event.StakeRefunded{
		Market:      id,
		Participant: participant,
		Amount:      amount,
	}, nil
}

// Len returns the number of markets.
func (mm *MarketManager) Len() int {
	return len(mm.markets)
}

// All returns market records ordered by id.
func (mm *MarketManager) All() []MarketRecord {
	out := make([]MarketRecord, 0, len(mm.markets))
	for _, m := range mm.markets {
		out = append(out, m.Record())
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

// Restore installs a market verbatim (snapshot restore only).
func (mm *MarketManager) Restore(rec MarketRecord) {
	mm.markets[rec.ID] = MarketFromRecord(rec)
}
