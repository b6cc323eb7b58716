package ingestion

import (
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/domain"
	"PredictLedger/internal/event"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// CommandService builds commands for the request/response surfaces and
// applies them synchronously. Commands are stamped with the service clock at
// whole-second precision; the stamp is the evaluation time the core uses.
type CommandService struct {
	processor Processor
	now       func() time.Time
}

func NewCommandService(processor Processor, now func() time.Time) *CommandService {
	if now == nil {
		now = time.Now
	}
	return &CommandService{processor: processor, now: now}
}

func (s *CommandService) stamp() time.Time {
	return time.Unix(s.now().Unix(), 0).UTC()
}

func (s *CommandService) PublishPrice(publisher common.Address, commodity domain.CommodityID, price, confidence uint64, feedSequence int64) (*core.CoreOutput, error) {
	return s.processor.ProcessEvent(&event.PublishPrice{
		Commodity:    commodity,
		Price:        price,
		Confidence:   confidence,
		Publisher:    publisher,
		FeedSequence: feedSequence,
		Timestamp:    s.stamp(),
	})
}

// CreateMarket opens a market. A nil id is replaced by a fresh one; the id
// used is returned.
func (s *CommandService) CreateMarket(id uuid.UUID, creator common.Address, commodity domain.CommodityID, threshold uint64, expiry int64) (uuid.UUID, *core.CoreOutput, error) {
	if id == uuid.Nil {
		id = uuid.New()
	}
	out, err := s.processor.ProcessEvent(&event.CreateMarket{
		Market:         id,
		Commodity:      commodity,
		ThresholdPrice: threshold,
		ExpiryTime:     expiry,
		Creator:        creator,
		Timestamp:      s.stamp(),
	})
	return id, out, err
}

func (s *CommandService) Deposit(depositID uuid.UUID, participant common.Address, amount uint64) (*core.CoreOutput, error) {
	if depositID == uuid.Nil {
		depositID = uuid.New()
	}
	return s.processor.ProcessEvent(&event.Deposit{
		DepositID:   depositID,
		Participant: participant,
		Amount:      amount,
		Source:      event.DepositSourceDirect,
		Timestamp:   s.stamp(),
	})
}

// Withdraw moves funds out of a participant's wallet. A zero destination
// pays out to the participant's own address.
func (s *CommandService) Withdraw(withdrawalID uuid.UUID, participant, destination common.Address, amount uint64) (*core.CoreOutput, error) {
	if withdrawalID == uuid.Nil {
		withdrawalID = uuid.New()
	}
	return s.processor.ProcessEvent(&event.Withdraw{
		WithdrawalID: withdrawalID,
		Participant:  participant,
		Destination:  destination,
		Amount:       amount,
		Timestamp:    s.stamp(),
	})
}

func (s *CommandService) BuyShares(orderID, market uuid.UUID, participant common.Address, side domain.Side, amount uint64) (*core.CoreOutput, error) {
	if orderID == uuid.Nil {
		orderID = uuid.New()
	}
	return s.processor.ProcessEvent(&event.BuyShares{
		OrderID:     orderID,
		Market:      market,
		Participant: participant,
		Side:        side,
		Amount:      amount,
		Timestamp:   s.stamp(),
	})
}

func (s *CommandService) ResolveMarket(market uuid.UUID, caller common.Address) (*core.CoreOutput, error) {
	return s.processor.ProcessEvent(&event.ResolveMarket{
		Market:    market,
		Caller:    caller,
		Timestamp: s.stamp(),
	})
}

func (s *CommandService) ClaimWinnings(market uuid.UUID, participant common.Address) (*core.CoreOutput, error) {
	return s.processor.ProcessEvent(&event.ClaimWinnings{
		Market:      market,
		Participant: participant,
		Timestamp:   s.stamp(),
	})
}

func (s *CommandService) ClaimRefund(market uuid.UUID, participant common.Address) (*core.CoreOutput, error) {
	return s.processor.ProcessEvent(&event.ClaimRefund{
		Market:      market,
		Participant: participant,
		Timestamp:   s.stamp(),
	})
}
