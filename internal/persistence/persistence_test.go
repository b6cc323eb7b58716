package persistence_test

import (
	"encoding/json"
	"testing"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/domain"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ingestion"
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/persistence"
	"PredictLedger/internal/testutil"

	"github.com/google/uuid"
)

const t0 int64 = 1_700_000_000

var maize = domain.MustCommodity("MAIZE")

func newTestCore(persist chan core.CoreOutput) *core.DeterministicCore {
	cfg := core.Config{Publisher: testutil.Publisher, Encoder: ingestion.EncodePayload}
	return core.NewDeterministicCore(cfg, persist, nil, nil, nil)
}

func mustProcess(t *testing.T, c *core.DeterministicCore, evt event.Event) *core.CoreOutput {
	t.Helper()
	out, err := c.ProcessEvent(evt)
	if err != nil {
		t.Fatalf("%s: %v", evt.EventType(), err)
	}
	return out
}

// script runs a small market: deposits, stakes, a price, resolution and a claim.
func script(t *testing.T, c *core.DeterministicCore) uuid.UUID {
	t.Helper()
	at := func(s int64) time.Time { return time.Unix(t0+s, 0).UTC() }
	id := uuid.MustParse("660e8400-e29b-41d4-a716-446655440001")

	mustProcess(t, c, &event.CreateMarket{Market: id, Commodity: maize, ThresholdPrice: 50_000, ExpiryTime: t0 + 100, Creator: testutil.Alice, Timestamp: at(0)})
	mustProcess(t, c, &event.Deposit{DepositID: uuid.NewSHA1(uuid.Nil, []byte("a")), Participant: testutil.Alice, Amount: 1_000, Source: event.DepositSourceDirect, Timestamp: at(1)})
	mustProcess(t, c, &event.Deposit{DepositID: uuid.NewSHA1(uuid.Nil, []byte("b")), Participant: testutil.Bob, Amount: 1_000, Source: event.DepositSourceDirect, Timestamp: at(2)})
	mustProcess(t, c, &event.BuyShares{OrderID: uuid.NewSHA1(uuid.Nil, []byte("o1")), Market: id, Participant: testutil.Alice, Side: domain.SideYes, Amount: 300, Timestamp: at(3)})
	mustProcess(t, c, &event.BuyShares{OrderID: uuid.NewSHA1(uuid.Nil, []byte("o2")), Market: id, Participant: testutil.Bob, Side: domain.SideNo, Amount: 100, Timestamp: at(4)})
	mustProcess(t, c, &event.PublishPrice{Commodity: maize, Price: 51_000, Confidence: 90, Publisher: testutil.Publisher, FeedSequence: 1, Timestamp: at(150)})
	mustProcess(t, c, &event.ResolveMarket{Market: id, Caller: testutil.Bob, Timestamp: at(160)})
	return id
}

// ============================================================================
// Row conversion
// ============================================================================

func TestRowsFromOutput(t *testing.T) {
	c := newTestCore(nil)
	script(t, c)
	out := mustProcess(t, c, &event.ClaimWinnings{
		Market:      uuid.MustParse("660e8400-e29b-41d4-a716-446655440001"),
		Participant: testutil.Alice,
		Timestamp:   time.Unix(t0+170, 0),
	})

	row, journals := persistence.RowsFromOutput(*out)
	if row.Sequence != out.Envelope.Sequence {
		t.Errorf("sequence: got %d, want %d", row.Sequence, out.Envelope.Sequence)
	}
	if row.EventType != "WinningsClaimed" {
		t.Errorf("event type: got %s", row.EventType)
	}
	if row.MarketID == nil || *row.MarketID != "660e8400-e29b-41d4-a716-446655440001" {
		t.Errorf("market id: got %v", row.MarketID)
	}
	if len(row.StateHash) != 32 || len(row.PrevHash) != 32 {
		t.Fatalf("hash lengths: %d/%d", len(row.StateHash), len(row.PrevHash))
	}
	if len(row.Payload) == 0 {
		t.Error("payload missing")
	}

	if len(journals) != 1 {
		t.Fatalf("journals: got %d, want 1", len(journals))
	}
	j := journals[0]
	if j.Amount != 400 {
		t.Errorf("payout amount: got %d, want 400", j.Amount)
	}
	if j.JournalType != int32(ledger.JournalTypePayout) {
		t.Errorf("journal type: got %d, want payout", j.JournalType)
	}
	if _, err := ledger.ParseAccountPath(j.DebitAccount); err != nil {
		t.Errorf("debit account %q does not parse: %v", j.DebitAccount, err)
	}
}

// ============================================================================
// Snapshot conversion
// ============================================================================

func TestSnapshotData_RestoresIdenticalState(t *testing.T) {
	original := newTestCore(nil)
	id := script(t, original)

	data := persistence.SnapshotFromCore(original.CreateSnapshotState(), time.Unix(t0, 0))
	encoded, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded persistence.SnapshotData
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	cs, err := decoded.ToCore()
	if err != nil {
		t.Fatalf("to core: %v", err)
	}

	restored := newTestCore(nil)
	restored.RestoreFromSnapshot(cs)

	if restored.GetStateHash() != original.GetStateHash() {
		t.Fatal("state hash differs after restore")
	}
	if restored.GetSequence() != original.GetSequence() {
		t.Errorf("sequence: got %d, want %d", restored.GetSequence(), original.GetSequence())
	}
	if restored.Clock() != original.Clock() || restored.Clock() == 0 {
		t.Errorf("clock: got %d, want %d", restored.Clock(), original.Clock())
	}
	if got := restored.WalletBalance(testutil.Bob); got != 900 {
		t.Errorf("bob wallet: got %d, want 900", got)
	}

	claim := &event.ClaimWinnings{Market: id, Participant: testutil.Alice, Timestamp: time.Unix(t0+170, 0)}
	a := mustProcess(t, original, claim)
	b := mustProcess(t, restored, claim)
	if a.Envelope.StateHash != b.Envelope.StateHash {
		t.Error("restored core diverged on the next event")
	}
}

func TestSnapshotData_ToCoreRejectsBadInput(t *testing.T) {
	bad := &persistence.SnapshotData{Sequence: 1, StateHash: []byte{1, 2, 3}}
	if _, err := bad.ToCore(); err == nil {
		t.Error("expected error for short state hash")
	}

	bad = &persistence.SnapshotData{
		Sequence:  1,
		StateHash: make([]byte, 32),
		Balances:  map[string]int64{"user:nope:wallet:USDC": 1},
	}
	if _, err := bad.ToCore(); err == nil {
		t.Error("expected error for malformed account path")
	}
}
