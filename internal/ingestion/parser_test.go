package ingestion_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"PredictLedger/internal/domain"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ingestion"
	"PredictLedger/internal/testutil"

	"github.com/google/uuid"
)

var (
	orderID  = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	marketID = uuid.MustParse("660e8400-e29b-41d4-a716-446655440001")
	maize    = domain.MustCommodity("MAIZE")
	t0       = time.Unix(1_700_000_000, 0).UTC()

	receivedAt = t0.Add(30 * time.Second)
)

func rawFromJSON(t *testing.T, v any) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: receivedAt,
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

// ============================================================================
// Parsing
// ============================================================================

func TestParsePublishPrice(t *testing.T) {
	raw := rawFromJSON(t, map[string]any{
		"commodity":     "MAIZE",
		"price":         52_000,
		"confidence":    95,
		"publisher":     testutil.Publisher.Hex(),
		"feed_sequence": 7,
		"timestamp":     t0.Unix(),
	})
	evt, err := ingestion.ParseRawEvent(raw, "PricePublished")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	p, ok := evt.(*event.PublishPrice)
	if !ok {
		t.Fatalf("expected *event.PublishPrice, got %T", evt)
	}
	if p.Commodity != maize {
		t.Errorf("commodity: got %s, want MAIZE", p.Commodity)
	}
	if p.Price != 52_000 || p.Confidence != 95 {
		t.Errorf("price/confidence: got %d/%d, want 52000/95", p.Price, p.Confidence)
	}
	if p.Publisher != testutil.Publisher {
		t.Errorf("publisher: got %s", p.Publisher.Hex())
	}
	if p.FeedSequence != 7 {
		t.Errorf("feed sequence: got %d, want 7", p.FeedSequence)
	}
	if !p.Timestamp.Equal(t0) {
		t.Errorf("timestamp: got %v, want %v", p.Timestamp, t0)
	}
}

func TestParse_MissingTimestampUsesReceiptTime(t *testing.T) {
	raw := rawFromJSON(t, map[string]any{
		"market_id":   marketID.String(),
		"participant": testutil.Alice.Hex(),
	})
	evt, err := ingestion.ParseRawEvent(raw, "WinningsClaimed")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := evt.OccurredAt(); !got.Equal(raw.Timestamp) {
		t.Errorf("timestamp: got %v, want receipt time %v", got, raw.Timestamp)
	}
}

func TestParse_TimestampAheadOfReceiptRejected(t *testing.T) {
	raw := rawFromJSON(t, map[string]any{
		"market_id":   marketID.String(),
		"participant": testutil.Alice.Hex(),
		"timestamp":   receivedAt.Add(ingestion.MaxClockSkew + time.Second).Unix(),
	})
	if _, err := ingestion.ParseRawEvent(raw, "WinningsClaimed"); err == nil {
		t.Error("expected error for a timestamp past the skew bound")
	}

	raw = rawFromJSON(t, map[string]any{
		"market_id":   marketID.String(),
		"participant": testutil.Alice.Hex(),
		"timestamp":   receivedAt.Add(ingestion.MaxClockSkew).Unix(),
	})
	if _, err := ingestion.ParseRawEvent(raw, "WinningsClaimed"); err != nil {
		t.Errorf("timestamp at the skew bound: %v", err)
	}

	// Stored payloads carry no receipt time and are not bounded.
	payload := []byte(`{"market_id":"` + marketID.String() + `","participant":"` + testutil.Alice.Hex() + `","timestamp":4000000000}`)
	if _, err := ingestion.DecodePayload("WinningsClaimed", payload); err != nil {
		t.Errorf("stored payload: %v", err)
	}
}

func TestParseWithdraw_MissingID_Fails(t *testing.T) {
	raw := rawFromJSON(t, map[string]any{
		"participant": testutil.Alice.Hex(),
		"amount":      10,
		"timestamp":   t0.Unix(),
	})
	if _, err := ingestion.ParseRawEvent(raw, "FundsWithdrawn"); err == nil {
		t.Error("expected error for missing withdrawal_id")
	}
}

func TestDecodePayload_MissingTimestamp_Fails(t *testing.T) {
	payload := []byte(`{"market_id":"` + marketID.String() + `","participant":"` + testutil.Alice.Hex() + `"}`)
	if _, err := ingestion.DecodePayload("WinningsClaimed", payload); err == nil {
		t.Error("expected error for stored payload without timestamp")
	}
}

func TestParseDeposit_DefaultsToDirectSource(t *testing.T) {
	raw := rawFromJSON(t, map[string]any{
		"deposit_id":  orderID.String(),
		"participant": testutil.Alice.Hex(),
		"amount":      1_000,
		"timestamp":   t0.Unix(),
	})
	evt, err := ingestion.ParseRawEvent(raw, "FundsDeposited")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if d := evt.(*event.Deposit); d.Source != event.DepositSourceDirect {
		t.Errorf("source: got %q, want %q", d.Source, event.DepositSourceDirect)
	}
}

func TestParseBuyShares_InvalidSide(t *testing.T) {
	raw := rawFromJSON(t, map[string]any{
		"order_id":    orderID.String(),
		"market_id":   marketID.String(),
		"participant": testutil.Alice.Hex(),
		"side":        "MAYBE",
		"amount":      10,
		"timestamp":   t0.Unix(),
	})
	_, err := ingestion.ParseRawEvent(raw, "SharesBought")
	if !errors.Is(err, domain.ErrInvalidSide) {
		t.Errorf("got %v, want InvalidSide", err)
	}
}

func TestParseUnknownEventType_Fails(t *testing.T) {
	raw := rawFromJSON(t, map[string]any{})
	if _, err := ingestion.ParseRawEvent(raw, "TradeFill"); err == nil {
		t.Error("expected error for unknown event type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte("{not json"), Timestamp: t0}
	if _, err := ingestion.ParseRawEvent(raw, "SharesBought"); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestParseInvalidIdentifiers_Fail(t *testing.T) {
	badUUID := rawFromJSON(t, map[string]any{
		"market_id": "not-a-uuid",
		"caller":    testutil.Alice.Hex(),
		"timestamp": t0.Unix(),
	})
	if _, err := ingestion.ParseRawEvent(badUUID, "MarketResolved"); err == nil {
		t.Error("expected error for invalid market_id")
	}

	badAddr := rawFromJSON(t, map[string]any{
		"market_id": marketID.String(),
		"caller":    "0x1234",
		"timestamp": t0.Unix(),
	})
	if _, err := ingestion.ParseRawEvent(badAddr, "MarketResolved"); err == nil {
		t.Error("expected error for short address")
	}

	nilID := rawFromJSON(t, map[string]any{
		"market_id":       uuid.Nil.String(),
		"commodity":       "MAIZE",
		"threshold_price": 50_000,
		"expiry_time":     t0.Unix() + 3600,
		"timestamp":       t0.Unix(),
	})
	if _, err := ingestion.ParseRawEvent(nilID, "MarketCreated"); err == nil {
		t.Error("expected error for nil market_id")
	}
}

// ============================================================================
// Payload encoding (event log replay contract)
// ============================================================================

func TestEncodeDecode_ReplaysEveryCommand(t *testing.T) {
	cmds := []event.Event{
		&event.PublishPrice{Commodity: maize, Price: 52_000, Confidence: 90, Publisher: testutil.Publisher, FeedSequence: 3, Timestamp: t0},
		&event.CreateMarket{Market: marketID, Commodity: maize, ThresholdPrice: 50_000, ExpiryTime: t0.Unix() + 3600, Creator: testutil.Alice, Timestamp: t0},
		&event.Deposit{DepositID: orderID, Participant: testutil.Alice, Amount: 1_000, Source: event.DepositSourceBridge, Sequence: 12, Timestamp: t0},
		&event.BuyShares{OrderID: orderID, Market: marketID, Participant: testutil.Bob, Side: domain.SideNo, Amount: 250, Timestamp: t0},
		&event.ResolveMarket{Market: marketID, Caller: testutil.Bob, Timestamp: t0},
		&event.ClaimWinnings{Market: marketID, Participant: testutil.Alice, Timestamp: t0},
		&event.ClaimRefund{Market: marketID, Participant: testutil.Bob, Timestamp: t0},
		&event.Withdraw{WithdrawalID: orderID, Participant: testutil.Alice, Destination: testutil.Bob, Amount: 75, Timestamp: t0},
	}

	for _, cmd := range cmds {
		name := cmd.EventType().String()
		payload, err := ingestion.EncodePayload(cmd)
		if err != nil {
			t.Fatalf("%s: encode: %v", name, err)
		}
		got, err := ingestion.DecodePayload(name, payload)
		if err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		if !reflect.DeepEqual(got, cmd) {
			t.Errorf("%s: got %+v, want %+v", name, got, cmd)
		}
		if got.IdempotencyKey() != cmd.IdempotencyKey() {
			t.Errorf("%s: idempotency key changed across replay", name)
		}
	}
}

func TestEncodePayload_BuySharesGolden(t *testing.T) {
	payload, err := ingestion.EncodePayload(&event.BuyShares{
		OrderID:     orderID,
		Market:      marketID,
		Participant: testutil.Alice,
		Side:        domain.SideYes,
		Amount:      400,
		Timestamp:   t0,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	testutil.AssertGolden(t, "buy_shares.golden", payload)
}
