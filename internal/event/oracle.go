package event

import (
	fpmath "RTokenLedger/internal/math"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OracleUpdate is a new answer from a price feed. Feed sequences may skip.
type OracleUpdate struct {
	FeedID       string     `json:"feed_id"`
	Price        fpmath.Fix `json:"price"`
	FeedSequence int64      `json:"feed_sequence"`
	Timestamp    int64      `json:"timestamp"` // unix seconds, feed updatedAt
}

func (o *OracleUpdate) IdempotencyKey() string {
	return fmt.Sprintf("oracle:%s:%d", o.FeedID, o.FeedSequence)
}

func (o *OracleUpdate) EventType() EventType  { return EventTypeOracleUpdate }
func (o *OracleUpdate) Partition() string     { return "feed:" + o.FeedID }
func (o *OracleUpdate) SourceSequence() int64 { return o.FeedSequence }
func (o *OracleUpdate) EventTime() time.Time  { return time.Unix(o.Timestamp, 0) }

// ExchangeRateUpdate is a new refPerTok for a wrapped collateral token
// (cToken, aToken). Like feeds, rate sequences may skip.
type ExchangeRateUpdate struct {
	Token        common.Address `json:"token"`
	RefPerTok    fpmath.Fix     `json:"ref_per_tok"`
	RateSequence int64          `json:"rate_sequence"`
	Timestamp    int64          `json:"timestamp"`
}

func (r *ExchangeRateUpdate) IdempotencyKey() string {
	return fmt.Sprintf("rate:%s:%d", r.Token.Hex(), r.RateSequence)
}

func (r *ExchangeRateUpdate) EventType() EventType  { return EventTypeExchangeRateUpdate }
func (r *ExchangeRateUpdate) Partition() string     { return "rate:" + r.Token.Hex() }
func (r *ExchangeRateUpdate) SourceSequence() int64 { return r.RateSequence }
func (r *ExchangeRateUpdate) EventTime() time.Time  { return time.Unix(r.Timestamp, 0) }

// GapTolerant reports whether the event's source stream may skip
// sequences. Stale updates on such streams are accepted and ignored by the
// books they feed.
func GapTolerant(evt Event) bool {
	switch evt.(type) {
	case *OracleUpdate, *ExchangeRateUpdate:
		return true
	default:
		return false
	}
}
