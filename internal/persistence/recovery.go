package persistence

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/event"
	"PredictLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Decoder rebuilds a command from its stored event type and payload.
type Decoder func(eventType string, payload []byte) (event.Event, error)

// RecoveryResult summarizes a startup recovery.
type RecoveryResult struct {
	SnapshotSequence int64 // -1 on a cold start
	Replayed         int
	NextSequence     int64
	StateHash        [32]byte
}

// Recovery rebuilds the core from the latest verified snapshot plus the
// event log tail. Each replayed event must reproduce its stored state hash.
type Recovery struct {
	snapshots *SnapshotManager
	decode    Decoder
	pageSize  int
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewRecovery(snapshots *SnapshotManager, decode Decoder, pageSize int, metrics *observability.Metrics, logger zerolog.Logger) *Recovery {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Recovery{
		snapshots: snapshots,
		decode:    decode,
		pageSize:  pageSize,
		metrics:   metrics,
		logger:    logger,
	}
}

// Recover must run on a fresh core with no event-log dedup tier installed;
// every logged event would otherwise be reported as a duplicate.
func (r *Recovery) Recover(ctx context.Context, c *core.DeterministicCore) (RecoveryResult, error) {
	start := time.Now()
	result := RecoveryResult{SnapshotSequence: -1}

	snap, err := r.snapshots.LoadLatestSnapshot(ctx)
	if err != nil {
		return result, err
	}
	if snap != nil {
		cs, err := snap.ToCore()
		if err != nil {
			return result, err
		}
		c.RestoreFromSnapshot(cs)
		result.SnapshotSequence = snap.Sequence
		r.logger.Info().Int64("sequence", snap.Sequence).Msg("restored from snapshot")
	}

	for {
		from := c.GetSequence()
		rows, err := r.snapshots.LoadEventsFrom(ctx, from, r.pageSize)
		if err != nil {
			return result, fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			if err := r.replayOne(c, row); err != nil {
				return result, err
			}
			result.Replayed++
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	result.NextSequence = c.GetSequence()
	result.StateHash = c.GetStateHash()
	if r.metrics != nil {
		r.metrics.ReplayEventsTotal.Add(float64(result.Replayed))
		r.metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	r.logger.Info().
		Int64("snapshot_sequence", result.SnapshotSequence).
		Int("replayed", result.Replayed).
		Int64("next_sequence", result.NextSequence).
		Dur("duration", time.Since(start)).
		Msg("recovery complete")
	return result, nil
}

func (r *Recovery) replayOne(c *core.DeterministicCore, row EventRow) error {
	if want := c.GetSequence(); row.Sequence != want {
		return fmt.Errorf("event log gap: expected sequence %d, found %d", want, row.Sequence)
	}
	evt, err := r.decode(row.EventType, row.Payload)
	if err != nil {
		return fmt.Errorf("decode event %d (%s): %w", row.Sequence, row.EventType, err)
	}
	out, err := c.ProcessEvent(evt)
	if err != nil {
		return fmt.Errorf("replay event %d (%s): %w", row.Sequence, row.EventType, err)
	}
	if out == nil {
		return fmt.Errorf("replay event %d (%s): dropped as duplicate", row.Sequence, row.EventType)
	}
	if !bytes.Equal(out.Envelope.StateHash[:], row.StateHash) {
		return fmt.Errorf("state hash mismatch at sequence %d: replayed %s, stored %s",
			row.Sequence, HashHex(out.Envelope.StateHash[:]), HashHex(row.StateHash))
	}
	return nil
}
