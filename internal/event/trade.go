package event

import (
	fpmath "RTokenLedger/internal/math"
	"time"

	"github.com/google/uuid"
)

// TradeSettled is the venue's report on a trade the core opened.
// Idempotency key: trade_id.
type TradeSettled struct {
	TradeID   uuid.UUID  `json:"trade_id"`
	Sold      fpmath.Fix `json:"sold"`
	Bought    fpmath.Fix `json:"bought"`
	Failed    bool       `json:"failed"`
	Sequence  int64      `json:"sequence"`
	Timestamp int64      `json:"timestamp"`
}

func (t *TradeSettled) IdempotencyKey() string { return t.TradeID.String() }
func (t *TradeSettled) EventType() EventType   { return EventTypeTradeSettled }
func (t *TradeSettled) Partition() string      { return "venue" }
func (t *TradeSettled) SourceSequence() int64  { return t.Sequence }
func (t *TradeSettled) EventTime() time.Time   { return time.Unix(t.Timestamp, 0) }
