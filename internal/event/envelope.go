package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePricePublished
	EventTypeMarketCreated
	EventTypeFundsDeposited
	EventTypeSharesBought
	EventTypeMarketResolved
	EventTypeWinningsClaimed
	EventTypeStakeRefunded
	EventTypeFundsWithdrawn
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Market context (nil for price, deposit and withdrawal events)
	MarketID *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// Wire-encoded command, replayable through the ingestion parser
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all command payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// MarketID returns the market context (nil for global events)
	MarketID() *string

	// SourceSequence returns upstream ordering key (0 when unsequenced)
	SourceSequence() int64

	// OccurredAt is the versioned input time the command is evaluated at
	OccurredAt() time.Time
}

func (et EventType) String() string {
	switch et {
	case EventTypePricePublished:
		return "PricePublished"
	case EventTypeMarketCreated:
		return "MarketCreated"
	case EventTypeFundsDeposited:
		return "FundsDeposited"
	case EventTypeSharesBought:
		return "SharesBought"
	case EventTypeMarketResolved:
		return "MarketResolved"
	case EventTypeWinningsClaimed:
		return "WinningsClaimed"
	case EventTypeStakeRefunded:
		return "StakeRefunded"
	case EventTypeFundsWithdrawn:
		return "FundsWithdrawn"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) EventType {
	for et := EventTypePricePublished; et <= EventTypeFundsWithdrawn; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}
