package persistence_test

import (
	"context"
	"testing"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ingestion"
	"PredictLedger/internal/persistence"
	"PredictLedger/internal/testutil"
	"PredictLedger/migrations"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

// persistScript runs the script on a core wired to a real persistence
// worker and waits for the worker to drain.
func persistScript(t *testing.T, pw func(chan core.CoreOutput) *persistence.PersistenceWorker) *core.DeterministicCore {
	t.Helper()
	ch := make(chan core.CoreOutput, 64)
	worker := pw(ch)
	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()

	c := newTestCore(ch)
	script(t, c)
	close(ch)
	if err := <-done; err != nil {
		t.Fatalf("worker: %v", err)
	}
	return c
}

func TestIntegration_PersistAndRecover(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	live := persistScript(t, func(ch chan core.CoreOutput) *persistence.PersistenceWorker {
		return persistence.NewPersistenceWorker(db, ch, 3, 5*time.Millisecond, nil, zerolog.Nop())
	})

	snaps := persistence.NewSnapshotManager(db, nil, zerolog.Nop())
	latest, err := snaps.GetLatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if want := live.GetSequence() - 1; latest != want {
		t.Fatalf("latest persisted: got %d, want %d", latest, want)
	}

	// Cold start: replay the whole log.
	fresh := newTestCore(nil)
	res, err := persistence.NewRecovery(snaps, ingestion.DecodePayload, 2, nil, zerolog.Nop()).Recover(ctx, fresh)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if res.SnapshotSequence != -1 {
		t.Errorf("snapshot sequence: got %d, want -1", res.SnapshotSequence)
	}
	if res.Replayed != int(live.GetSequence()) {
		t.Errorf("replayed: got %d, want %d", res.Replayed, live.GetSequence())
	}
	if res.StateHash != live.GetStateHash() {
		t.Error("replayed state hash differs from live core")
	}

	// Warm start: snapshot, verify, then restore without replay.
	snap := persistence.SnapshotFromCore(live.CreateSnapshotState(), time.Now())
	if err := snaps.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	if got, _ := snaps.LoadLatestSnapshot(ctx); got != nil {
		t.Fatal("unverified snapshot was loadable")
	}
	n, err := snaps.VerifyPending(ctx)
	if err != nil || n != 1 {
		t.Fatalf("verify: got %d %v, want 1", n, err)
	}

	warm := newTestCore(nil)
	res, err = persistence.NewRecovery(snaps, ingestion.DecodePayload, 100, nil, zerolog.Nop()).Recover(ctx, warm)
	if err != nil {
		t.Fatalf("warm recover: %v", err)
	}
	if res.SnapshotSequence != snap.Sequence || res.Replayed != 0 {
		t.Errorf("warm recovery: got %+v", res)
	}
	if warm.GetStateHash() != live.GetStateHash() {
		t.Error("warm state hash differs from live core")
	}
}

func TestIntegration_RecoveryDetectsTamperedLog(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	persistScript(t, func(ch chan core.CoreOutput) *persistence.PersistenceWorker {
		return persistence.NewPersistenceWorker(db, ch, 10, 5*time.Millisecond, nil, zerolog.Nop())
	})
	if _, err := db.Exec(`UPDATE event_log.events SET state_hash = $1 WHERE sequence = 2`, make([]byte, 32)); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	snaps := persistence.NewSnapshotManager(db, nil, zerolog.Nop())
	_, err := persistence.NewRecovery(snaps, ingestion.DecodePayload, 100, nil, zerolog.Nop()).Recover(context.Background(), newTestCore(nil))
	if err == nil {
		t.Fatal("expected state hash mismatch")
	}
}

func TestIntegration_IdempotencyTier2(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	live := persistScript(t, func(ch chan core.CoreOutput) *persistence.PersistenceWorker {
		return persistence.NewPersistenceWorker(db, ch, 100, 5*time.Millisecond, nil, zerolog.Nop())
	})

	checker := persistence.NewPostgresIdempotencyChecker(db, nil)
	keys, err := checker.RecentKeys(context.Background(), 100)
	if err != nil {
		t.Fatalf("recent keys: %v", err)
	}
	if len(keys) != int(live.GetSequence()) {
		t.Fatalf("recent keys: got %d, want %d", len(keys), live.GetSequence())
	}

	if want := "MarketCreated:660e8400-e29b-41d4-a716-446655440001"; keys[0] != want {
		t.Errorf("oldest key: got %q, want %q", keys[0], want)
	}
	dup, err := checker.IsDuplicate(event.EventTypeMarketCreated.String(), "660e8400-e29b-41d4-a716-446655440001")
	if err != nil || !dup {
		t.Errorf("persisted market creation: got %v %v, want duplicate", dup, err)
	}
	dup, err = checker.IsDuplicate(event.EventTypeMarketCreated.String(), "unknown")
	if err != nil || dup {
		t.Errorf("unknown key: got %v %v, want not duplicate", dup, err)
	}
}

func TestIntegration_BridgeSeenStore(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	store := persistence.NewBridgeSeenStore(db)
	id := crypto.Keccak256Hash([]byte("message-1"))

	if seen, err := store.Seen(ctx, id); err != nil || seen {
		t.Fatalf("before mark: got %v %v", seen, err)
	}
	if err := store.MarkSeen(ctx, id); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := store.MarkSeen(ctx, id); err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if seen, err := store.Seen(ctx, id); err != nil || !seen {
		t.Errorf("after mark: got %v %v", seen, err)
	}
	if n, err := store.Prune(ctx, time.Hour); err != nil || n != 0 {
		t.Errorf("prune fresh rows: got %d %v, want 0", n, err)
	}
}

func TestIntegration_MigratorStatusAndRollback(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	m := persistence.NewMigrator(db, migrations.FS, zerolog.Nop())
	status, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for file, applied := range status {
		if !applied {
			t.Errorf("%s not applied", file)
		}
	}

	if err := m.Down(ctx); err != nil {
		t.Fatalf("down: %v", err)
	}
	status, _ = m.Status(ctx)
	if status["000002_bridge.up.sql"] {
		t.Error("bridge migration still recorded after rollback")
	}
	if err := m.Up(ctx); err != nil {
		t.Fatalf("up again: %v", err)
	}
}
