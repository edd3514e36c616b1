package event

import (
	fpmath "RTokenLedger/internal/math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// CollateralDeposited credits rewards or direct transfers to the
// BackingManager.
type CollateralDeposited struct {
	DepositID uuid.UUID      `json:"deposit_id"`
	Token     common.Address `json:"token"`
	Amount    fpmath.Fix     `json:"amount"`
	Sequence  int64          `json:"sequence"`
	Timestamp int64          `json:"timestamp"`
}

func (d *CollateralDeposited) IdempotencyKey() string { return d.DepositID.String() }
func (d *CollateralDeposited) EventType() EventType   { return EventTypeCollateralDeposited }
func (d *CollateralDeposited) Partition() string      { return "yield" }
func (d *CollateralDeposited) SourceSequence() int64  { return d.Sequence }
func (d *CollateralDeposited) EventTime() time.Time   { return time.Unix(d.Timestamp, 0) }
