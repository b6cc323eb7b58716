package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Withdraw moves collateral out of a wallet to an address outside the ledger.
type Withdraw struct {
	WithdrawalID uuid.UUID
	Participant  common.Address
	Destination  common.Address // zero means the participant's own address
	Amount       uint64
	Timestamp    time.Time
}

func (w *Withdraw) IdempotencyKey() string {
	return w.WithdrawalID.String()
}

func (w *Withdraw) EventType() EventType {
	return EventTypeFundsWithdrawn
}

func (w *Withdraw) MarketID() *string {
	return nil
}

func (w *Withdraw) SourceSequence() int64 {
	return 0
}

func (w *Withdraw) OccurredAt() time.Time {
	return w.Timestamp
}

// Recipient is the address the funds leave to.
func (w *Withdraw) Recipient() common.Address {
	if w.Destination == (common.Address{}) {
		return w.Participant
	}
	return w.Destination
}
