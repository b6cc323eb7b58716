package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"PredictLedger/internal/core"
	"PredictLedger/internal/event"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundSubjectPrefix roots every published notification subject.
const OutboundSubjectPrefix = "predict.ledger.events"

// Publisher is the subset of jetstream.JetStream the outbound publisher uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes notifications of persisted events to NATS.
// Subjects follow predict.ledger.events.{name}.{scope}.
type OutboundPublisher struct {
	js        Publisher
	inputChan <-chan core.CoreOutput
	logger    zerolog.Logger
}

// OutboundNotification is the published message body.
type OutboundNotification struct {
	Sequence  int64              `json:"sequence"`
	EventType string             `json:"event_type"`
	Name      string             `json:"name"`
	StateHash string             `json:"state_hash"`
	Timestamp time.Time          `json:"timestamp"`
	Data      event.Notification `json:"data"`
}

func NewOutboundPublisher(js Publisher, inputChan <-chan core.CoreOutput, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Subject returns the outbound subject for a notification.
func Subject(n event.Notification) string {
	return fmt.Sprintf("%s.%s.%s", OutboundSubjectPrefix, n.Name(), n.Scope())
}

// Run publishes until ctx is cancelled or the input closes. Publish failures
// are logged; downstream consumers can read the event log directly.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			for _, n := range out.Notifications {
				if err := op.publish(ctx, out, n); err != nil {
					op.logger.Warn().Err(err).
						Int64("sequence", out.Envelope.Sequence).
						Str("notification", n.Name()).
						Msg("outbound publish failed")
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.CoreOutput, n event.Notification) error {
	data, err := json.Marshal(OutboundNotification{
		Sequence:  out.Envelope.Sequence,
		EventType: out.Envelope.EventType.String(),
		Name:      n.Name(),
		StateHash: fmt.Sprintf("%x", out.Envelope.StateHash),
		Timestamp: out.Envelope.Timestamp.UTC(),
		Data:      n,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	// The message id lets JetStream drop a republish after a restart.
	msgID := fmt.Sprintf("%d:%s:%s", out.Envelope.Sequence, n.Name(), n.Scope())
	_, err = op.js.Publish(ctx, Subject(n), data, jetstream.WithMsgID(msgID))
	return err
}

// EnsureOutboundStream creates the outbound notifications stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       "PREDICT_LEDGER_EVENTS",
		Subjects:   []string{OutboundSubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", "PREDICT_LEDGER_EVENTS").Msg("ensured outbound stream")
	return nil
}
