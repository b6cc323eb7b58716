package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// snapshotFormatVersion tags the JSON layout of SnapshotData.
const snapshotFormatVersion = 1

// SnapshotManager creates and loads state snapshots for recovery. A snapshot
// is written unverified and only becomes loadable once the event log holds
// the event at its sequence with the same state hash.
type SnapshotManager struct {
	db      *sql.DB
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// SnapshotData contains the full in-memory state at a point in time.
type SnapshotData struct {
	Sequence        int64                `json:"sequence"`
	StateHash       []byte               `json:"state_hash"`
	Clock           int64                `json:"clock"`
	Balances        map[string]int64     `json:"balances"` // AccountPath -> balance
	Prices          []state.PriceRecord  `json:"prices"`
	Markets         []state.MarketRecord `json:"markets"`
	Positions       []state.Position     `json:"positions"`
	SequenceState   map[string]int64     `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys []string             `json:"idempotency_keys"` // oldest first
	CreatedAt       time.Time            `json:"created_at"`
}

// SnapshotSource is what the snapshot loop captures. *core.DeterministicCore
// satisfies it.
type SnapshotSource interface {
	CreateSnapshotState() *core.SnapshotState
}

func NewSnapshotManager(db *sql.DB, metrics *observability.Metrics, logger zerolog.Logger) *SnapshotManager {
	return &SnapshotManager{db: db, metrics: metrics, logger: logger}
}

// SnapshotFromCore converts core state into its stored form.
func SnapshotFromCore(s *core.SnapshotState, createdAt time.Time) *SnapshotData {
	balances := make(map[string]int64, len(s.Balances))
	for key, bal := range s.Balances {
		balances[key.AccountPath()] = bal
	}
	hash := s.StateHash
	return &SnapshotData{
		Sequence:        s.Sequence,
		StateHash:       hash[:],
		Clock:           s.Clock,
		Balances:        balances,
		Prices:          s.Prices,
		Markets:         s.Markets,
		Positions:       s.Positions,
		SequenceState:   s.SequenceState,
		IdempotencyKeys: s.IdempotencyKeys,
		CreatedAt:       createdAt.UTC(),
	}
}

// ToCore converts a stored snapshot back into core state.
func (d *SnapshotData) ToCore() (*core.SnapshotState, error) {
	if len(d.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot %d: state hash is %d bytes", d.Sequence, len(d.StateHash))
	}
	balances := make(map[ledger.AccountKey]int64, len(d.Balances))
	for path, bal := range d.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", d.Sequence, err)
		}
		balances[key] = bal
	}
	out := &core.SnapshotState{
		Sequence:        d.Sequence,
		Clock:           d.Clock,
		Balances:        balances,
		Prices:          d.Prices,
		Markets:         d.Markets,
		Positions:       d.Positions,
		SequenceState:   d.SequenceState,
		IdempotencyKeys: d.IdempotencyKeys,
	}
	copy(out.StateHash[:], d.StateHash)
	return out, nil
}

// SaveSnapshot persists a snapshot to Postgres, unverified.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6, verified = FALSE
	`, uuid.New(), snap.Sequence, data, snap.StateHash, snapshotFormatVersion, len(data), snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("save snapshot %d: %w", snap.Sequence, err)
	}

	if sm.metrics != nil {
		sm.metrics.SnapshotTaken.Inc()
		sm.metrics.SnapshotSizeBytes.Set(float64(len(data)))
	}
	return nil
}

// VerifyPending marks every unverified snapshot whose sequence is persisted
// with a matching state hash. It returns how many were verified.
func (sm *SnapshotManager) VerifyPending(ctx context.Context) (int64, error) {
	res, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots s SET verified = TRUE
		FROM event_log.events e
		WHERE s.verified = FALSE
		  AND e.sequence = s.sequence
		  AND e.state_hash = s.state_hash
	`)
	if err != nil {
		return 0, fmt.Errorf("verify snapshots: %w", err)
	}
	return res.RowsAffected()
}

// LoadLatestSnapshot loads the most recent verified snapshot. A nil result
// with no error means a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	var (
		data    []byte
		version int
	)
	err := sm.db.QueryRowContext(ctx, `
		SELECT data, format_version FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if version != snapshotFormatVersion {
		return nil, fmt.Errorf("load snapshot: unsupported format version %d", version)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// LoadEventsFrom loads up to limit events starting at fromSequence.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, market_id, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.MarketID,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest persisted sequence, or -1 when the
// event log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// TakeSnapshot captures and saves the source's current state immediately.
// It returns the captured sequence, -1 when nothing has been applied yet.
func (sm *SnapshotManager) TakeSnapshot(ctx context.Context, src SnapshotSource) (int64, error) {
	start := time.Now()
	cs := src.CreateSnapshotState()
	if cs.Sequence < 0 {
		return -1, nil
	}
	snap := SnapshotFromCore(cs, start)
	if err := sm.SaveSnapshot(ctx, snap); err != nil {
		return 0, err
	}
	if sm.metrics != nil {
		sm.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		sm.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	return snap.Sequence, nil
}

// Run takes a snapshot every interval once at least minEvents events have
// been applied since the last one, then verifies pending snapshots.
func (sm *SnapshotManager) Run(ctx context.Context, src SnapshotSource, interval time.Duration, minEvents int64) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := int64(-1)
	var lastHash []byte
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if n, err := sm.VerifyPending(ctx); err != nil {
			sm.logger.Warn().Err(err).Msg("snapshot verification failed")
		} else if n > 0 {
			sm.logger.Info().Int64("verified", n).Msg("snapshots verified")
		}

		start := time.Now()
		cs := src.CreateSnapshotState()
		if cs.Sequence < 0 || cs.Sequence-last < minEvents {
			continue
		}
		snap := SnapshotFromCore(cs, start)
		if bytes.Equal(snap.StateHash, lastHash) {
			continue
		}
		if err := sm.SaveSnapshot(ctx, snap); err != nil {
			sm.logger.Error().Err(err).Int64("sequence", snap.Sequence).Msg("snapshot failed")
			continue
		}
		last, lastHash = snap.Sequence, snap.StateHash
		if sm.metrics != nil {
			sm.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
			sm.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
		}
		sm.logger.Info().
			Int64("sequence", snap.Sequence).
			Int("markets", len(snap.Markets)).
			Int("positions", len(snap.Positions)).
			Msg("snapshot saved")
	}
}
