package ingestion

import (
	"RTokenLedger/internal/core"
	"RTokenLedger/internal/observability"
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher moves raw NATS messages into the core. A message is acked
// once the core has given its verdict, so a crash between receive and apply
// leads to redelivery, and redelivery of an applied event is caught by
// idempotency.
type Dispatcher struct {
	rawChan <-chan RawEvent
	core    Submitter
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewDispatcher(rawChan <-chan RawEvent, core Submitter, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		rawChan: rawChan,
		core:    core,
		metrics: metrics,
		logger:  logger,
	}
}

// Run blocks until ctx is cancelled, rawChan closes, or the core stops.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-d.rawChan:
			if !ok {
				return nil
			}
			if err := d.dispatch(ctx, raw); err != nil {
				return err
			}
		}
	}
}

// dispatch handles one message. Only an unavailable core is returned as an
// error; the message is then nak'd for redelivery.
func (d *Dispatcher) dispatch(ctx context.Context, raw RawEvent) error {
	evt, err := ParseRawEvent(raw, raw.EventType)
	if err != nil {
		// Redelivery cannot fix a malformed payload.
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable event")
		ack(raw)
		return nil
	}

	err = d.core.Submit(ctx, evt)
	switch {
	case err == nil:
		if d.metrics != nil && !raw.Timestamp.IsZero() {
			d.metrics.IngestToApply.WithLabelValues(raw.EventType).Observe(time.Since(raw.Timestamp).Seconds())
		}
		ack(raw)
		return nil

	case ctx.Err() != nil:
		nak(raw)
		return ctx.Err()

	case errors.Is(err, core.ErrLoopStopped):
		nak(raw)
		return err

	default:
		// Verdicts are deterministic: the same event is rejected again on
		// redelivery.
		ack(raw)
		return nil
	}
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
