package state

import (
	"bytes"
	"sort"

	"PredictLedger/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Position is one participant's shares in one market. Shares are issued 1:1
// with stake.
type Position struct {
	MarketID  uuid.UUID      `json:"market_id"`
	Owner     common.Address `json:"owner"`
	YesShares uint64         `json:"yes_shares"`
	NoShares  uint64         `json:"no_shares"`
	Claimed   bool           `json:"claimed"`
}

// Shares returns the shares held on one side.
func (p *Position) Shares(side domain.Side) uint64 {
	if side == domain.SideYes {
		return p.YesShares
	}
	return p.NoShares
}

// Stake is the total collateral the participant committed to the market.
func (p *Position) Stake() uint64 {
	return p.YesShares + p.NoShares
}

// PositionKey identifies a position.
type PositionKey struct {
	MarketID uuid.UUID
	Owner    common.Address
}

// PositionLedger stores positions keyed by (market, owner).
type PositionLedger struct {
	positions map[PositionKey]*Position
}

func NewPositionLedger() *PositionLedger {
	return &PositionLedger{
		positions: make(map[PositionKey]*Position),
	}
}

// Get returns the position or nil.
func (pl *PositionLedger) Get(marketID uuid.UUID, owner common.Address) *Position {
	return pl.positions[PositionKey{MarketID: marketID, Owner: owner}]
}

// GetOrCreate lazily creates an empty position.
func (pl *PositionLedger) GetOrCreate(marketID uuid.UUID, owner common.Address) *Position {
	key := PositionKey{MarketID: marketID, Owner: owner}
	pos := pl.positions[key]
	if pos == nil {
		pos = &Position{MarketID: marketID, Owner: owner}
		pl.positions[key] = pos
	}
	return pos
}

// ForMarket returns copies of a market's positions ordered by owner.
func (pl *PositionLedger) ForMarket(marketID uuid.UUID) []Position {
	out := make([]Position, 0)
	for key, pos := range pl.positions {
		if key.MarketID == marketID {
			out = append(out, *pos)
		}
	}
	sortPositions(out)
	return out
}

// All returns copies of every position ordered by (market, owner).
func (pl *PositionLedger) All() []Position {
	out := make([]Position, 0, len(pl.positions))
	for _, pos := range pl.positions {
		out = append(out, *pos)
	}
	sortPositions(out)
	return out
}

// Restore installs a position verbatim (snapshot restore only).
func (pl *PositionLedger) Restore(pos Position) {
	p := pos
	pl.positions[PositionKey{MarketID: pos.MarketID, Owner: pos.Owner}] = &p
}

func (pl *PositionLedger) Len() int {
	return len(pl.positions)
}

func sortPositions(ps []Position) {
	sort.Slice(ps, func(i, j int) bool {
		if c := bytes.Compare(ps[i].MarketID[:], ps[j].MarketID[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(ps[i].Owner[:], ps[j].Owner[:]) < 0
	})
}
