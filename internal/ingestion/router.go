package ingestion

import (
	"context"
	"strings"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/domain"
	"PredictLedger/internal/event"
	"PredictLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Processor applies commands. *core.DeterministicCore satisfies it.
type Processor interface {
	ProcessEvent(evt event.Event) (*core.CoreOutput, error)
}

// Router resolves raw NATS commands to typed commands and applies them.
// Deterministic outcomes are acked: applied, duplicate, domain rejection or
// an unparseable payload. Anything else is nakked for redelivery.
type Router struct {
	processor Processor
	prefixes  map[string]string // subject prefix -> event type
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewRouter(processor Processor, subjects []SubjectConfig, metrics *observability.Metrics, logger zerolog.Logger) *Router {
	prefixes := make(map[string]string, len(subjects))
	for _, cfg := range subjects {
		prefixes[strings.TrimSuffix(cfg.Subject, ".>")] = cfg.EventType
	}
	return &Router{
		processor: processor,
		prefixes:  prefixes,
		metrics:   metrics,
		logger:    logger,
	}
}

// EventTypeFor returns the event type for a subject by longest prefix match,
// or "" when no subject is configured for it.
func (r *Router) EventTypeFor(subject string) string {
	best, bestType := "", ""
	for prefix, eventType := range r.prefixes {
		if (subject == prefix || strings.HasPrefix(subject, prefix+".")) && len(prefix) > len(best) {
			best, bestType = prefix, eventType
		}
	}
	return bestType
}

// Run handles raw commands until ctx is cancelled or rawChan closes.
func (r *Router) Run(ctx context.Context, rawChan <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}
			r.Handle(raw)
		}
	}
}

// Handle applies one raw command and settles its ack.
func (r *Router) Handle(raw RawEvent) {
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.NATSPullLatency.WithLabelValues(raw.Subject).Observe(time.Since(start).Seconds())
		}
	}()

	eventType := r.EventTypeFor(raw.Subject)
	if eventType == "" {
		r.logger.Warn().Str("subject", raw.Subject).Msg("unknown subject")
		ack(raw)
		return
	}

	evt, err := ParseRawEvent(raw, eventType)
	if err != nil {
		r.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse command failed")
		ack(raw)
		return
	}

	out, err := r.processor.ProcessEvent(evt)
	if err != nil {
		if domain.KindOf(err) == domain.KindUnknown {
			r.logger.Error().Err(err).
				Str("event_type", eventType).
				Str("idempotency_key", evt.IdempotencyKey()).
				Msg("command failed; requesting redelivery")
			nak(raw)
			return
		}
		r.logger.Info().
			Str("event_type", eventType).
			Str("idempotency_key", evt.IdempotencyKey()).
			Str("code", domain.CodeOf(err)).
			Msg("command rejected")
		ack(raw)
		return
	}

	if out != nil && r.metrics != nil && !raw.Timestamp.IsZero() {
		r.metrics.IngestToApply.WithLabelValues(eventType).Observe(time.Since(raw.Timestamp).Seconds())
	}
	ack(raw)
}

func ack(raw RawEvent) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}

func nak(raw RawEvent) {
	if raw.NakFunc != nil {
		raw.NakFunc()
	}
}
