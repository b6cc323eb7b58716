package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"PredictLedger/internal/domain"
	"PredictLedger/internal/event"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// MaxClockSkew bounds how far a wire timestamp may run ahead of the receipt
// time.
const MaxClockSkew = 30 * time.Second

// ParseRawEvent converts a RawEvent into a typed command. eventType is the
// event type name the command produces (event.EventType.String()). A
// payload without a timestamp is stamped with the receipt time, truncated to
// whole seconds.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	return decode(event.ParseEventType(eventType), raw.Data, raw.Timestamp)
}

// DecodePayload rebuilds a command from a stored event log payload.
func DecodePayload(eventType string, payload []byte) (event.Event, error) {
	return decode(event.ParseEventType(eventType), payload, time.Time{})
}

func decode(et event.EventType, data []byte, received time.Time) (event.Event, error) {
	switch et {
	case event.EventTypePricePublished:
		return parsePublishPrice(data, received)
	case event.EventTypeMarketCreated:
		return parseCreateMarket(data, received)
	case event.EventTypeFundsDeposited:
		return parseDeposit(data, received)
	case event.EventTypeSharesBought:
		return parseBuyShares(data, received)
	case event.EventTypeMarketResolved:
		return parseResolveMarket(data, received)
	case event.EventTypeWinningsClaimed:
		return parseClaimWinnings(data, received)
	case event.EventTypeStakeRefunded:
		return parseClaimRefund(data, received)
	case event.EventTypeFundsWithdrawn:
		return parseWithdraw(data, received)
	default:
		return nil, fmt.Errorf("unknown event type: %s", et)
	}
}

// EncodePayload is the inverse of DecodePayload. The core stores its output
// in the event envelope so the log can be replayed.
func EncodePayload(evt event.Event) ([]byte, error) {
	switch e := evt.(type) {
	case *event.PublishPrice:
		return json.Marshal(publishPriceJSON{
			Commodity:    e.Commodity,
			Price:        e.Price,
			Confidence:   e.Confidence,
			Publisher:    e.Publisher,
			FeedSequence: e.FeedSequence,
			Timestamp:    e.Timestamp.Unix(),
		})
	case *event.CreateMarket:
		return json.Marshal(createMarketJSON{
			MarketID:       e.Market,
			Commodity:      e.Commodity,
			ThresholdPrice: e.ThresholdPrice,
			ExpiryTime:     e.ExpiryTime,
			Creator:        e.Creator,
			Timestamp:      e.Timestamp.Unix(),
		})
	case *event.Deposit:
		return json.Marshal(depositJSON{
			DepositID:   e.DepositID,
			Participant: e.Participant,
			Amount:      e.Amount,
			Source:      e.Source,
			Sequence:    e.Sequence,
			Timestamp:   e.Timestamp.Unix(),
		})
	case *event.Withdraw:
		return json.Marshal(withdrawJSON{
			WithdrawalID: e.WithdrawalID,
			Participant:  e.Participant,
			Destination:  e.Destination,
			Amount:       e.Amount,
			Timestamp:    e.Timestamp.Unix(),
		})
	case *event.BuyShares:
		return json.Marshal(buySharesJSON{
			OrderID:     e.OrderID,
			MarketID:    e.Market,
			Participant: e.Participant,
			Side:        e.Side.String(),
			Amount:      e.Amount,
			Timestamp:   e.Timestamp.Unix(),
		})
	case *event.ResolveMarket:
		return json.Marshal(resolveMarketJSON{
			MarketID:  e.Market,
			Caller:    e.Caller,
			Timestamp: e.Timestamp.Unix(),
		})
	case *event.ClaimWinnings:
		return json.Marshal(claimJSON{
			MarketID:    e.Market,
			Participant: e.Participant,
			Timestamp:   e.Timestamp.Unix(),
		})
	case *event.ClaimRefund:
		return json.Marshal(claimJSON{
			MarketID:    e.Market,
			Participant: e.Participant,
			Timestamp:   e.Timestamp.Unix(),
		})
	default:
		return nil, fmt.Errorf("encode: unsupported command %T", evt)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Timestamps are
// unix seconds; prices are cents.

type publishPriceJSON struct {
	Commodity    domain.CommodityID `json:"commodity"`
	Price        uint64             `json:"price"`
	Confidence   uint64             `json:"confidence"`
	Publisher    common.Address     `json:"publisher"`
	FeedSequence int64              `json:"feed_sequence,omitempty"`
	Timestamp    int64              `json:"timestamp"`
}

type createMarketJSON struct {
	MarketID       uuid.UUID          `json:"market_id"`
	Commodity      domain.CommodityID `json:"commodity"`
	ThresholdPrice uint64             `json:"threshold_price"`
	ExpiryTime     int64              `json:"expiry_time"`
	Creator        common.Address     `json:"creator"`
	Timestamp      int64              `json:"timestamp"`
}

type depositJSON struct {
	DepositID   uuid.UUID      `json:"deposit_id"`
	Participant common.Address `json:"participant"`
	Amount      uint64         `json:"amount"`
	Source      string         `json:"source,omitempty"`
	Sequence    int64          `json:"sequence,omitempty"`
	Timestamp   int64          `json:"timestamp"`
}

type withdrawJSON struct {
	WithdrawalID uuid.UUID      `json:"withdrawal_id"`
	Participant  common.Address `json:"participant"`
	Destination  common.Address `json:"destination"`
	Amount       uint64         `json:"amount"`
	Timestamp    int64          `json:"timestamp"`
}

type buySharesJSON struct {
	OrderID     uuid.UUID      `json:"order_id"`
	MarketID    uuid.UUID      `json:"market_id"`
	Participant common.Address `json:"participant"`
	Side        string         `json:"side"` // YES or NO
	Amount      uint64         `json:"amount"`
	Timestamp   int64          `json:"timestamp"`
}

type resolveMarketJSON struct {
	MarketID  uuid.UUID      `json:"market_id"`
	Caller    common.Address `json:"caller"`
	Timestamp int64          `json:"timestamp"`
}

type claimJSON struct {
	MarketID    uuid.UUID      `json:"market_id"`
	Participant common.Address `json:"participant"`
	Timestamp   int64          `json:"timestamp"`
}

// stamp resolves a wire timestamp, falling back to the receipt time. A live
// message may not be dated past the receipt time plus MaxClockSkew; a later
// date would advance the ledger clock and lock out honest producers.
func stamp(ts int64, received time.Time) (time.Time, error) {
	if ts > 0 {
		if !received.IsZero() && ts > received.Add(MaxClockSkew).Unix() {
			return time.Time{}, fmt.Errorf("timestamp %d is ahead of receipt time %d", ts, received.Unix())
		}
		return time.Unix(ts, 0).UTC(), nil
	}
	if received.IsZero() {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	return time.Unix(received.Unix(), 0).UTC(), nil
}

func parsePublishPrice(data []byte, received time.Time) (*event.PublishPrice, error) {
	var j publishPriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PublishPrice: %w", err)
	}
	ts, err := stamp(j.Timestamp, received)
	if err != nil {
		return nil, fmt.Errorf("parse PublishPrice: %w", err)
	}
	return &event.PublishPrice{
		Commodity:    j.Commodity,
		Price:        j.Price,
		Confidence:   j.Confidence,
		Publisher:    j.Publisher,
		FeedSequence: j.FeedSequence,
		Timestamp:    ts,
	}, nil
}

func parseCreateMarket(data []byte, received time.Time) (*event.CreateMarket, error) {
	var j createMarketJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CreateMarket: %w", err)
	}
	if j.MarketID == uuid.Nil {
		return nil, fmt.Errorf("parse CreateMarket: missing market_id")
	}
	ts, err := stamp(j.Timestamp, received)
	if err != nil {
		return nil, fmt.Errorf("parse CreateMarket: %w", err)
	}
	return &event.CreateMarket{
		Market:         j.MarketID,
		Commodity:      j.Commodity,
		ThresholdPrice: j.ThresholdPrice,
		ExpiryTime:     j.ExpiryTime,
		Creator:        j.Creator,
		Timestamp:      ts,
	}, nil
}

func parseDeposit(data []byte, received time.Time) (*event.Deposit, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Deposit: %w", err)
	}
	if j.DepositID == uuid.Nil {
		return nil, fmt.Errorf("parse Deposit: missing deposit_id")
	}
	ts, err := stamp(j.Timestamp, received)
	if err != nil {
		return nil, fmt.Errorf("parse Deposit: %w", err)
	}
	source := j.Source
	if source == "" {
		source = event.DepositSourceDirect
	}
	return &event.Deposit{
		DepositID:   j.DepositID,
		Participant: j.Participant,
		Amount:      j.Amount,
		Source:      source,
		Sequence:    j.Sequence,
		Timestamp:   ts,
	}, nil
}

func parseWithdraw(data []byte, received time.Time) (*event.Withdraw, error) {
	var j withdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Withdraw: %w", err)
	}
	if j.WithdrawalID == uuid.Nil {
		return nil, fmt.Errorf("parse Withdraw: missing withdrawal_id")
	}
	ts, err := stamp(j.Timestamp, received)
	if err != nil {
		return nil, fmt.Errorf("parse Withdraw: %w", err)
	}
	return &event.Withdraw{
		WithdrawalID: j.WithdrawalID,
		Participant:  j.Participant,
		Destination:  j.Destination,
		Amount:       j.Amount,
		Timestamp:    ts,
	}, nil
}

func parseBuyShares(data []byte, received time.Time) (*event.BuyShares, error) {
	var j buySharesJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BuyShares: %w", err)
	}
	if j.OrderID == uuid.Nil {
		return nil, fmt.Errorf("parse BuyShares: missing order_id")
	}
	side, err := domain.ParseSide(j.Side)
	if err != nil {
		return nil, fmt.Errorf("parse BuyShares: %w", err)
	}
	ts, err := stamp(j.Timestamp, received)
	if err != nil {
		return nil, fmt.Errorf("parse BuyShares: %w", err)
	}
	return &event.BuyShares{
		OrderID:     j.OrderID,
		Market:      j.MarketID,
		Participant: j.Participant,
		Side:        side,
		Amount:      j.Amount,
		Timestamp:   ts,
	}, nil
}

func parseResolveMarket(data []byte, received time.Time) (*event.ResolveMarket, error) {
	var j resolveMarketJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ResolveMarket: %w", err)
	}
	ts, err := stamp(j.Timestamp, received)
	if err != nil {
		return nil, fmt.Errorf("parse ResolveMarket: %w", err)
	}
	return &event.ResolveMarket{
		Market:    j.MarketID,
		Caller:    j.Caller,
		Timestamp: ts,
	}, nil
}

func parseClaimWinnings(data []byte, received time.Time) (*event.ClaimWinnings, error) {
	var j claimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClaimWinnings: %w", err)
	}
	ts, err := stamp(j.Timestamp, received)
	if err != nil {
		return nil, fmt.Errorf("parse ClaimWinnings: %w", err)
	}
	return &event.ClaimWinnings{
		Market:      j.MarketID,
		Participant: j.Participant,
		Timestamp:   ts,
	}, nil
}

func parseClaimRefund(data []byte, received time.Time) (*event.ClaimRefund, error) {
	var j claimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClaimRefund: %w", err)
	}
	ts, err := stamp(j.Timestamp, received)
	if err != nil {
		return nil, fmt.Errorf("parse ClaimRefund: %w", err)
	}
	return &event.ClaimRefund{
		Market:      j.MarketID,
		Participant: j.Participant,
		Timestamp:   ts,
	}, nil
}
