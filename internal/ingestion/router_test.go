package ingestion_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"PredictLedger/internal/core"
	"PredictLedger/internal/domain"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ingestion"
	"PredictLedger/internal/testutil"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

type fakeProcessor struct {
	got []event.Event
	err error
}

func (f *fakeProcessor) ProcessEvent(evt event.Event) (*core.CoreOutput, error) {
	f.got = append(f.got, evt)
	if f.err != nil {
		return nil, f.err
	}
	return &core.CoreOutput{Envelope: &event.EventEnvelope{EventType: evt.EventType()}}, nil
}

type ackRecorder struct{ acks, naks int }

func (a *ackRecorder) raw(subject string, data []byte) ingestion.RawEvent {
	return ingestion.RawEvent{
		Subject:   subject,
		Data:      data,
		Timestamp: t0,
		AckFunc:   func() { a.acks++ },
		NakFunc:   func() { a.naks++ },
	}
}

func claimPayload() []byte {
	return []byte(fmt.Sprintf(`{"market_id":%q,"participant":%q,"timestamp":%d}`,
		marketID, testutil.Alice.Hex(), t0.Unix()))
}

// ============================================================================
// Router
// ============================================================================

func TestRouter_EventTypeForSubject(t *testing.T) {
	r := ingestion.NewRouter(&fakeProcessor{}, ingestion.DefaultSubjects(), nil, zerolog.Nop())

	cases := map[string]string{
		"predict.prices.MAIZE":               "PricePublished",
		"predict.markets.create.m1":          "MarketCreated",
		"predict.markets.resolve.m1":         "MarketResolved",
		"predict.claims.refund.m1":           "StakeRefunded",
		"predict.withdrawals.0xabc":          "FundsWithdrawn",
		"predict.claims.winnings.m1":         "WinningsClaimed",
		"predict.orders.m1.0xabc":            "SharesBought",
		"predict.pricesX.MAIZE":              "",
		"predict.ledger.events.PriceUpdated": "",
	}
	for subject, want := range cases {
		if got := r.EventTypeFor(subject); got != want {
			t.Errorf("EventTypeFor(%q): got %q, want %q", subject, got, want)
		}
	}
}

func TestRouter_AppliesAndAcks(t *testing.T) {
	proc := &fakeProcessor{}
	r := ingestion.NewRouter(proc, ingestion.DefaultSubjects(), nil, zerolog.Nop())
	rec := &ackRecorder{}

	r.Handle(rec.raw("predict.claims.winnings.m1", claimPayload()))

	if len(proc.got) != 1 {
		t.Fatalf("processed: got %d, want 1", len(proc.got))
	}
	if _, ok := proc.got[0].(*event.ClaimWinnings); !ok {
		t.Errorf("command: got %T, want *event.ClaimWinnings", proc.got[0])
	}
	if rec.acks != 1 || rec.naks != 0 {
		t.Errorf("acks/naks: got %d/%d, want 1/0", rec.acks, rec.naks)
	}
}

func TestRouter_DomainRejectionIsAcked(t *testing.T) {
	proc := &fakeProcessor{err: fmt.Errorf("claim: %w", domain.ErrAlreadyClaimed)}
	r := ingestion.NewRouter(proc, ingestion.DefaultSubjects(), nil, zerolog.Nop())
	rec := &ackRecorder{}

	r.Handle(rec.raw("predict.claims.winnings.m1", claimPayload()))

	if rec.acks != 1 || rec.naks != 0 {
		t.Errorf("acks/naks: got %d/%d, want 1/0", rec.acks, rec.naks)
	}
}

func TestRouter_InfrastructureErrorIsNakked(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("sequence gap on partition deposit:bridge")}
	r := ingestion.NewRouter(proc, ingestion.DefaultSubjects(), nil, zerolog.Nop())
	rec := &ackRecorder{}

	r.Handle(rec.raw("predict.claims.winnings.m1", claimPayload()))

	if rec.acks != 0 || rec.naks != 1 {
		t.Errorf("acks/naks: got %d/%d, want 0/1", rec.acks, rec.naks)
	}
}

func TestRouter_PoisonMessagesAckedWithoutProcessing(t *testing.T) {
	proc := &fakeProcessor{}
	r := ingestion.NewRouter(proc, ingestion.DefaultSubjects(), nil, zerolog.Nop())
	rec := &ackRecorder{}

	r.Handle(rec.raw("predict.unknown.x", claimPayload()))
	r.Handle(rec.raw("predict.claims.winnings.m1", []byte("{")))

	if len(proc.got) != 0 {
		t.Errorf("processed: got %d, want 0", len(proc.got))
	}
	if rec.acks != 2 {
		t.Errorf("acks: got %d, want 2", rec.acks)
	}
}

func TestRouter_RunDrainsUntilClosed(t *testing.T) {
	proc := &fakeProcessor{}
	r := ingestion.NewRouter(proc, ingestion.DefaultSubjects(), nil, zerolog.Nop())
	rec := &ackRecorder{}

	ch := make(chan ingestion.RawEvent, 2)
	ch <- rec.raw("predict.claims.winnings.m1", claimPayload())
	ch <- rec.raw("predict.claims.refund.m1", claimPayload())
	close(ch)

	if err := r.Run(context.Background(), ch); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(proc.got) != 2 || rec.acks != 2 {
		t.Errorf("processed/acks: got %d/%d, want 2/2", len(proc.got), rec.acks)
	}
}

// ============================================================================
// Outbound publisher
// ============================================================================

type publishCall struct {
	subject string
	data    []byte
}

type fakeJetStream struct{ calls []publishCall }

func (f *fakeJetStream) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.calls = append(f.calls, publishCall{subject: subject, data: data})
	return &jetstream.PubAck{}, nil
}

func TestOutboundPublisher_OneMessagePerNotification(t *testing.T) {
	js := &fakeJetStream{}
	in := make(chan core.CoreOutput, 1)
	in <- core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: 9, EventType: event.EventTypeFundsDeposited, Timestamp: t0},
		Notifications: []event.Notification{
			event.FundsDeposited{DepositID: orderID, Participant: testutil.Alice, Amount: 400, Source: "bridge"},
			event.SharesPurchased{Market: marketID, Participant: testutil.Alice, Side: domain.SideYes, Amount: 400},
		},
	}
	close(in)

	if err := ingestion.NewOutboundPublisher(js, in, zerolog.Nop()).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(js.calls) != 2 {
		t.Fatalf("published: got %d, want 2", len(js.calls))
	}
	if want := "predict.ledger.events.FundsDeposited." + testutil.Alice.Hex(); js.calls[0].subject != want {
		t.Errorf("subject: got %q, want %q", js.calls[0].subject, want)
	}
	if want := "predict.ledger.events.SharesPurchased." + marketID.String(); js.calls[1].subject != want {
		t.Errorf("subject: got %q, want %q", js.calls[1].subject, want)
	}
}
