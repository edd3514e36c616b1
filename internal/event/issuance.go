package event

import (
	fpmath "RTokenLedger/internal/math"
	"time"

	"github.com/google/uuid"
)

// Issuance mints Amount RToken against basket collateral from issuers.
type Issuance struct {
	IssuanceID uuid.UUID  `json:"issuance_id"`
	Amount     fpmath.Fix `json:"amount"`
	Sequence   int64      `json:"sequence"`
	Timestamp  int64      `json:"timestamp"`
}

func (i *Issuance) IdempotencyKey() string { return i.IssuanceID.String() }
func (i *Issuance) EventType() EventType   { return EventTypeIssuance }
func (i *Issuance) Partition() string      { return "rtoken" }
func (i *Issuance) SourceSequence() int64  { return i.Sequence }
func (i *Issuance) EventTime() time.Time   { return time.Unix(i.Timestamp, 0) }

// Redemption burns Amount RToken for prorata basket collateral.
type Redemption struct {
	RedemptionID uuid.UUID  `json:"redemption_id"`
	Amount       fpmath.Fix `json:"amount"`
	Sequence     int64      `json:"sequence"`
	Timestamp    int64      `json:"timestamp"`
}

func (r *Redemption) IdempotencyKey() string { return r.RedemptionID.String() }
func (r *Redemption) EventType() EventType   { return EventTypeRedemption }
func (r *Redemption) Partition() string      { return "rtoken" }
func (r *Redemption) SourceSequence() int64  { return r.Sequence }
func (r *Redemption) EventTime() time.Time   { return time.Unix(r.Timestamp, 0) }
