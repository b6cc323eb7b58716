package event

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ClaimWinnings pays out a participant's pro-rata share of a resolved market.
type ClaimWinnings struct {
	Market      uuid.UUID
	Participant common.Address
	Timestamp   time.Time
}

// IdempotencyKey includes the evaluation time so a second claim is evaluated
// (and rejected as AlreadyClaimed) rather than silently absorbed.
func (c *ClaimWinnings) IdempotencyKey() string {
	return fmt.Sprintf("%s:claim:%s:%d", c.Market, c.Participant.Hex(), c.Timestamp.Unix())
}

func (c *ClaimWinnings) EventType() EventType {
	return EventTypeWinningsClaimed
}

func (c *ClaimWinnings) MarketID() *string {
	id := c.Market.String()
	return &id
}

func (c *ClaimWinnings) SourceSequence() int64 {
	return 0
}

func (c *ClaimWinnings) OccurredAt() time.Time {
	return c.Timestamp
}

// ClaimRefund returns a participant's full stake when the market resolved
// with nobody on the winning side.
type ClaimRefund struct {
	Market      uuid.UUID
	Participant common.Address
	Timestamp   time.Time
}

func (c *ClaimRefund) IdempotencyKey() string {
	return fmt.Sprintf("%s:refund:%s:%d", c.Market, c.Participant.Hex(), c.Timestamp.Unix())
}

func (c *ClaimRefund) EventType() EventType {
	return EventTypeStakeRefunded
}

func (c *ClaimRefund) MarketID() *string {
	id := c.Market.String()
	return &id
}

func (c *ClaimRefund) SourceSequence() int64 {
	return 0
}

func (c *ClaimRefund) OccurredAt() time.Time {
	return c.Timestamp
}
