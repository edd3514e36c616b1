package core

import (
	"RTokenLedger/internal/event"
	"RTokenLedger/internal/ledger"
	"RTokenLedger/internal/observability"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrUnknownTrader = errors.New("core: unknown trader")
	ErrUnknownEvent  = errors.New("core: unknown event type")
)

// globalCheckInterval is how often (in core sequences) the zero-sum check
// over every token runs. Per-batch checks run on every event.
const globalCheckInterval = 1000

// DeterministicCore is the single-threaded event processor. It owns the
// protocol and the ledger; nothing else may touch either while it runs.
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	protocol          *Protocol
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger

	// evictionsSeen is the LRU eviction count already exported.
	evictionsSeen int64

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream needs from one applied event.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	Emitted    []event.Emitted
	StateDelta []byte
}

func NewDeterministicCore(
	startSequence int64,
	protocol *Protocol,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *DeterministicCore {
	balanceTracker := ledger.NewBalanceTracker()
	idempotency := NewIdempotencyChecker(1_000_000, dbChecker)
	idempotency.hooks.OnLookupError = func(eventType string, err error) {
		logger.Warn().Err(err).Str("event_type", eventType).Msg("event log dedup lookup failed")
	}
	if metrics != nil {
		idempotency.hooks.OnDuplicate = func(eventType string, tier DedupTier) {
			metrics.IdempotencyDuplicates.WithLabelValues(eventType, string(tier)).Inc()
		}
		idempotency.hooks.OnLookup = func(d time.Duration) {
			metrics.DedupTier2Duration.Observe(d.Seconds())
		}
	}

	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        ledger.NewJournalGenerator(startSequence),
		validator:         ledger.NewInvariantValidator(balanceTracker),
		protocol:          protocol,
		idempotency:       idempotency,
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		logger:            logger,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessEvent is the main processing pipeline. An error means the event was
// rejected and nothing changed.
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)

	// Step 2: Sequence validation
	partition := evt.Partition()
	sourceSequence := evt.SourceSequence()

	if event.GapTolerant(evt) {
		if gap := c.sequenceValidator.ValidateFeedSequence(partition, sourceSequence); gap {
			c.logger.Warn().
				Str("partition", partition).
				Int64("source_sequence", sourceSequence).
				Msg("feed sequence gap")
			if c.metrics != nil {
				c.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
			}
		}
	} else if err := c.sequenceValidator.ValidateSequence(partition, sourceSequence, idempotencyKey, isDuplicate); err != nil {
		if c.metrics != nil {
			if errors.Is(err, ErrOutOfOrder) {
				c.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
			} else {
				c.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
			}
		}
		c.reject(eventType, "sequence")
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	if isDuplicate {
		c.reject(eventType, "duplicate")
		return nil
	}

	// Step 3: Dispatch. Handlers stage ledger movements in tx and only
	// mutate protocol state once their inputs have been validated.
	now := evt.EventTime()
	tx := c.balanceTracker.Begin()
	emitted, err := c.dispatchEvent(tx, evt, now)
	if err != nil {
		c.reject(eventType, "validation")
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 4: Batch. State-only events produce no journals but still get
	// an envelope in the event log.
	batch := c.journalGen.GenerateFromTx(tx, idempotencyKey, c.sequence, now.Unix())
	if len(batch.Journals) > 0 {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: malformed batch: %v", err))
		}
		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch after validation: %v", err))
		}
	}

	// Step 5: State digest and hash chain
	hashStart := time.Now()
	stateDigest := c.computeStateDigest(batch)
	prevHash := c.hasher.Tip()
	stateHash := c.hasher.Advance(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, err := json.Marshal(event.Record{Event: evt, Emitted: emitted})
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode event record: %v", err))
	}

	output := CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       c.sequence,
			IdempotencyKey: idempotencyKey,
			EventType:      evt.EventType(),
			Partition:      partition,
			Timestamp:      now,
			SourceSequence: sourceSequence,
			Payload:        payload,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		},
		Batch:      batch,
		Emitted:    emitted,
		StateDelta: stateDigest,
	}

	// Step 6: Post-checks
	if err := c.postCheckInvariants(batch); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}
	c.sequence++

	// Step 7: Emit. Persistence blocks (no event may be lost); projections
	// drop on a full channel and catch up by rebuilding from the log.
	if c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("all").Inc()
			}
		}
	}

	// Step 8: Mark as processed
	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		for _, j := range batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
		c.recordEmitted(emitted)
		c.recordGauges(now)
	}

	return nil
}

func (c *DeterministicCore) reject(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

// postCheckInvariants validates the ledger after a batch was applied.
func (c *DeterministicCore) postCheckInvariants(batch *ledger.Batch) error {
	if err := c.validator.ValidateProtocolNonNegative(batch); err != nil {
		return err
	}
	if c.sequence%globalCheckInterval == 0 {
		return c.validator.ValidateGlobalBalance()
	}
	return nil
}

func (c *DeterministicCore) dispatchEvent(tx *ledger.Tx, evt event.Event, now time.Time) ([]event.Emitted, error) {
	switch e := evt.(type) {
	case *event.OracleUpdate:
		return c.handleOracleUpdate(e)
	case *event.ExchangeRateUpdate:
		return c.handleExchangeRateUpdate(e)
	case *event.RefreshRequested:
		return c.handleRefresh(now)
	case *event.ManageTokensRequested:
		return c.handleManageTokens(tx, e, now)
	case *event.ManageTokenRequested:
		return c.handleManageToken(tx, e, now)
	case *event.TradeSettled:
		return c.handleTradeSettled(tx, e)
	case *event.Issuance:
		return c.handleIssuance(tx, e)
	case *event.Redemption:
		return c.handleRedemption(tx, e)
	case *event.BasketRefreshRequested:
		return c.handleBasketRefresh(now)
	case *event.ParamUpdate:
		return c.handleParamUpdate(e)
	case *event.CollateralDeposited:
		return c.handleCollateralDeposited(tx, e)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEvent, evt)
	}
}

// Protocol exposes the deployment for read-only use by callers that run on
// the core goroutine (tests, replay).
func (c *DeterministicCore) Protocol() *Protocol {
	return c.protocol
}

// Balances exposes the ledger for read-only use on the core goroutine.
func (c *DeterministicCore) Balances() *ledger.BalanceTracker {
	return c.balanceTracker
}
