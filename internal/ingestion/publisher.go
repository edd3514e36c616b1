package ingestion

import (
	"RTokenLedger/internal/core"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundPublisher publishes processed events to NATS for downstream
// consumers once persistence has confirmed them. Subjects follow the
// pattern rtoken.ledger.events.{type}.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	logger    zerolog.Logger
}

// PublishableEvent is a processed event ready for outbound publishing. Type
// is the inbound event type for the applied record, or the emitted event
// name for each protocol event it produced.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	Type           string          `json:"type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Partition      string          `json:"partition"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// FromOutput flattens one core output: the applied record first, then
// every emitted event in emission order.
func FromOutput(out core.CoreOutput) ([]PublishableEvent, error) {
	env := out.Envelope
	base := PublishableEvent{
		Sequence:       env.Sequence,
		IdempotencyKey: env.IdempotencyKey,
		Partition:      env.Partition,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      env.Timestamp,
	}

	applied := base
	applied.Type = env.EventType.String()
	applied.Payload = env.Payload
	events := []PublishableEvent{applied}

	for _, e := range out.Emitted {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", e.Name(), err)
		}
		pe := base
		pe.Type = e.Name()
		pe.Payload = data
		events = append(events, pe)
	}
	return events, nil
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				// Downstream consumers can fall back to the event log.
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Str("type", evt.Type).Msg("outbound publish failed")
			}
		}
	}
}

// Subject returns the outbound subject for an event type.
func Subject(eventType string) string {
	return "rtoken.ledger.events." + eventType
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Sequence + type is unique per message and lets JetStream drop
	// republished duplicates after a restart.
	msgID := fmt.Sprintf("%d:%s", evt.Sequence, evt.Type)
	_, err = op.js.Publish(ctx, Subject(evt.Type), data, jetstream.WithMsgID(msgID))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       "RTOKEN_LEDGER_EVENTS",
		Subjects:   []string{"rtoken.ledger.events.>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", "RTOKEN_LEDGER_EVENTS").Msg("ensured outbound stream")
	return nil
}
