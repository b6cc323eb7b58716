package event

import (
	"fmt"
	"time"

	"PredictLedger/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

// PublishPrice is an oracle price observation from the registered publisher.
type PublishPrice struct {
	Commodity    domain.CommodityID
	Price        uint64 // cents
	Confidence   uint64 // 1..100
	Publisher    common.Address
	FeedSequence int64 // monotonic per commodity, gaps tolerated; 0 when unsequenced
	Timestamp    time.Time
}

func (p *PublishPrice) IdempotencyKey() string {
	if p.FeedSequence > 0 {
		return fmt.Sprintf("%s:price:%d", p.Commodity.Hex(), p.FeedSequence)
	}
	return fmt.Sprintf("%s:price:t%d", p.Commodity.Hex(), p.Timestamp.Unix())
}

func (p *PublishPrice) EventType() EventType {
	return EventTypePricePublished
}

func (p *PublishPrice) MarketID() *string {
	return nil
}

func (p *PublishPrice) SourceSequence() int64 {
	return p.FeedSequence
}

func (p *PublishPrice) OccurredAt() time.Time {
	return p.Timestamp
}
