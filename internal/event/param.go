package event

import (
	fpmath "RTokenLedger/internal/math"
	"time"

	"github.com/google/uuid"
)

// ParamUpdate is a governance change. Nil fields are left alone; the update
// applies all-or-nothing. Trade rules go to Trader ("backing", "rsr",
// "rtoken"), or to every trader when Trader is empty.
type ParamUpdate struct {
	UpdateID         uuid.UUID   `json:"update_id"`
	Trader           string      `json:"trader,omitempty"`
	TradingDelay     *int64      `json:"trading_delay,omitempty"` // seconds
	BackingBuffer    *fpmath.Fix `json:"backing_buffer,omitempty"`
	MaxTradeSlippage *fpmath.Fix `json:"max_trade_slippage,omitempty"`
	MinTradeVolume   *fpmath.Fix `json:"min_trade_volume,omitempty"`
	Sequence         int64       `json:"sequence"`
	Timestamp        int64       `json:"timestamp"`
}

func (p *ParamUpdate) IdempotencyKey() string { return p.UpdateID.String() }
func (p *ParamUpdate) EventType() EventType   { return EventTypeParamUpdate }
func (p *ParamUpdate) Partition() string      { return "governance" }
func (p *ParamUpdate) SourceSequence() int64  { return p.Sequence }
func (p *ParamUpdate) EventTime() time.Time   { return time.Unix(p.Timestamp, 0) }
