package event

import (
	"fmt"
	"time"

	"PredictLedger/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// CreateMarket opens a binary market on "commodity price >= threshold at expiry".
type CreateMarket struct {
	Market         uuid.UUID
	Commodity      domain.CommodityID
	ThresholdPrice uint64
	ExpiryTime     int64 // unix seconds
	Creator        common.Address
	Timestamp      time.Time
}

func (c *CreateMarket) IdempotencyKey() string {
	return c.Market.String()
}

func (c *CreateMarket) EventType() EventType {
	return EventTypeMarketCreated
}

func (c *CreateMarket) MarketID() *string {
	id := c.Market.String()
	return &id
}

func (c *CreateMarket) SourceSequence() int64 {
	return 0
}

func (c *CreateMarket) OccurredAt() time.Time {
	return c.Timestamp
}

// ResolveMarket settles an expired market from the oracle feed. Anyone may
// submit it.
type ResolveMarket struct {
	Market    uuid.UUID
	Caller    common.Address
	Timestamp time.Time
}

// IdempotencyKey includes the evaluation time: a resolve rejected as early or
// stale may be retried later under a new key.
func (r *ResolveMarket) IdempotencyKey() string {
	return fmt.Sprintf("%s:resolve:%d", r.Market, r.Timestamp.Unix())
}

func (r *ResolveMarket) EventType() EventType {
	return EventTypeMarketResolved
}

func (r *ResolveMarket) MarketID() *string {
	id := r.Market.String()
	return &id
}

func (r *ResolveMarket) SourceSequence() int64 {
	return 0
}

func (r *ResolveMarket) OccurredAt() time.Time {
	return r.Timestamp
}
