package event

import (
	"time"

	"PredictLedger/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// BuyShares stakes Amount collateral on one side at 1:1.
type BuyShares struct {
	OrderID     uuid.UUID
	Market      uuid.UUID
	Participant common.Address
	Side        domain.Side
	Amount      uint64
	Timestamp   time.Time
}

func (b *BuyShares) IdempotencyKey() string {
	return b.OrderID.String()
}

func (b *BuyShares) EventType() EventType {
	return EventTypeSharesBought
}

func (b *BuyShares) MarketID() *string {
	id := b.Market.String()
	return &id
}

func (b *BuyShares) SourceSequence() int64 {
	return 0
}

func (b *BuyShares) OccurredAt() time.Time {
	return b.Timestamp
}
