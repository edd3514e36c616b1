package ingestion

import (
	"RTokenLedger/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds events
// into the deterministic core via the eventChan. Each subject carries one
// inbound event type.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// RawEvent is the parsed-but-untyped event from NATS, ready for the shell
// to validate and convert into a typed event.Event before sending to the core.
type RawEvent struct {
	Subject   string
	EventType string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to event types.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration. Oracle
// answers and exchange rates live in their own stream so a burst of price
// updates never delays keeper or governance traffic.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "rtoken.oracle.prices.>", EventType: "OracleUpdate", ConsumerName: "ledger-prices", StreamName: "RTOKEN_ORACLE"},
		{Subject: "rtoken.oracle.rates.>", EventType: "ExchangeRateUpdate", ConsumerName: "ledger-rates", StreamName: "RTOKEN_ORACLE"},
		{Subject: "rtoken.keeper.refresh", EventType: "RefreshRequested", ConsumerName: "ledger-refresh", StreamName: "RTOKEN_KEEPER"},
		{Subject: "rtoken.keeper.manage_tokens", EventType: "ManageTokensRequested", ConsumerName: "ledger-manage-tokens", StreamName: "RTOKEN_KEEPER"},
		{Subject: "rtoken.keeper.manage_token.>", EventType: "ManageTokenRequested", ConsumerName: "ledger-manage-token", StreamName: "RTOKEN_KEEPER"},
		{Subject: "rtoken.keeper.basket_refresh", EventType: "BasketRefreshRequested", ConsumerName: "ledger-basket-refresh", StreamName: "RTOKEN_KEEPER"},
		{Subject: "rtoken.venue.settled", EventType: "TradeSettled", ConsumerName: "ledger-settlements", StreamName: "RTOKEN_VENUE"},
		{Subject: "rtoken.issuance.issue", EventType: "Issuance", ConsumerName: "ledger-issue", StreamName: "RTOKEN_ISSUANCE"},
		{Subject: "rtoken.issuance.redeem", EventType: "Redemption", ConsumerName: "ledger-redeem", StreamName: "RTOKEN_ISSUANCE"},
		{Subject: "rtoken.yield.deposits.>", EventType: "CollateralDeposited", ConsumerName: "ledger-deposits", StreamName: "RTOKEN_YIELD"},
		{Subject: "rtoken.governance.params", EventType: "ParamUpdate", ConsumerName: "ledger-params", StreamName: "RTOKEN_GOVERNANCE"},
	}
}

// inboundStreams names every stream DefaultSubjects draws from, with the
// subject space each one captures.
var inboundStreams = map[string]string{
	"RTOKEN_ORACLE":     "rtoken.oracle.>",
	"RTOKEN_KEEPER":     "rtoken.keeper.>",
	"RTOKEN_VENUE":      "rtoken.venue.>",
	"RTOKEN_ISSUANCE":   "rtoken.issuance.>",
	"RTOKEN_YIELD":      "rtoken.yield.>",
	"RTOKEN_GOVERNANCE": "rtoken.governance.>",
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    logger,
	}
}

// WithMetrics records publish-to-delivery latency per subject.
func (ns *NATSSubscriber) WithMetrics(m *observability.Metrics) *NATSSubscriber {
	ns.metrics = m
	return ns
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		eventType := cfg.EventType
		subject := cfg.Subject
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			if ns.metrics != nil {
				if md, err := msg.Metadata(); err == nil {
					ns.metrics.NATSPullLatency.WithLabelValues(subject).Observe(time.Since(md.Timestamp).Seconds())
				}
			}
			raw := RawEvent{
				Subject:   msg.Subject(),
				EventType: eventType,
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { _ = msg.Ack() },
				NakFunc:   func() { _ = msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the inbound JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	for name, subject := range inboundStreams {
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      name,
			Subjects:  []string{subject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		})
		if err != nil {
			return fmt.Errorf("create stream %s: %w", name, err)
		}
		logger.Info().Str("stream", name).Msg("ensured stream")
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("rtokenledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
