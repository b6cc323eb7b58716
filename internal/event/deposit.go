package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Deposit sources.
const (
	DepositSourceBridge = "bridge"
	DepositSourceDirect = "direct"
)

// Deposit credits collateral arriving from outside the ledger to a wallet.
type Deposit struct {
	DepositID   uuid.UUID
	Participant common.Address
	Amount      uint64
	Source      string
	Sequence    int64 // upstream custody sequence; 0 when unsequenced
	Timestamp   time.Time
}

func (d *Deposit) IdempotencyKey() string {
	return d.DepositID.String()
}

func (d *Deposit) EventType() EventType {
	return EventTypeFundsDeposited
}

func (d *Deposit) MarketID() *string {
	return nil // Global event
}

func (d *Deposit) SourceSequence() int64 {
	return d.Sequence
}

func (d *Deposit) OccurredAt() time.Time {
	return d.Timestamp
}
