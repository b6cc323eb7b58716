package projection

import (
	"context"
	"errors"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/event"
	"PredictLedger/internal/observability"

	"github.com/rs/zerolog"
)

// StateSource supplies a full state capture when the read model must be
// rebuilt. *core.DeterministicCore satisfies it.
type StateSource interface {
	CreateSnapshotState() *core.SnapshotState
}

// PriceSink mirrors applied prices outside the read model.
type PriceSink interface {
	SetPrice(ctx context.Context, n event.PriceUpdated) error
}

// Worker applies core outputs to the read model. The projection channel is
// lossy: on a gap the worker rebuilds the read model from the source and
// skips every output the rebuild already covers.
type Worker struct {
	store     *Store
	inputChan <-chan core.CoreOutput
	source    StateSource
	prices    PriceSink

	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewWorker(store *Store, inputChan <-chan core.CoreOutput, source StateSource, metrics *observability.Metrics, logger zerolog.Logger) *Worker {
	return &Worker{
		store:     store,
		inputChan: inputChan,
		source:    source,
		metrics:   metrics,
		logger:    logger,
	}
}

// SetPriceSink installs an optional price mirror.
func (w *Worker) SetPriceSink(sink PriceSink) {
	w.prices = sink
}

// Sync rebuilds the read model from the source.
func (w *Worker) Sync() error {
	start := time.Now()
	snap := w.source.CreateSnapshotState()
	if err := w.store.Reset(snap); err != nil {
		return err
	}
	w.logger.Info().
		Int64("sequence", snap.Sequence).
		Int("markets", len(snap.Markets)).
		Int("positions", len(snap.Positions)).
		Dur("duration", time.Since(start)).
		Msg("read model rebuilt")
	return nil
}

// Run applies outputs until ctx is done or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case out, ok := <-w.inputChan:
			if !ok {
				return nil
			}
			w.handle(ctx, &out)
		}
	}
}

func (w *Worker) handle(ctx context.Context, out *core.CoreOutput) {
	start := time.Now()
	applied, err := w.store.Apply(out)
	if errors.Is(err, ErrGap) {
		w.logger.Warn().Err(err).Msg("read model fell behind, rebuilding")
		if w.source == nil {
			return
		}
		if err := w.Sync(); err != nil {
			w.logger.Error().Err(err).Msg("read model rebuild failed")
			return
		}
		applied, err = w.store.Apply(out)
	}
	if err != nil {
		// Eventually consistent: the next gap triggers a rebuild.
		w.logger.Error().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("read model update failed")
		return
	}
	if w.metrics != nil {
		w.metrics.ProjectionUpdateDur.WithLabelValues("readmodel").Observe(time.Since(start).Seconds())
	}
	if !applied {
		return
	}

	if w.prices == nil {
		return
	}
	for _, n := range out.Notifications {
		pu, ok := n.(event.PriceUpdated)
		if !ok {
			continue
		}
		if err := w.prices.SetPrice(ctx, pu); err != nil {
			w.logger.Warn().Err(err).Str("commodity", pu.Commodity.String()).Msg("price cache update failed")
		}
	}
}
