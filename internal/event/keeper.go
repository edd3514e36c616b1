package event

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// PartitionKeeper orders keeper calls: refresh, manageTokens, manageToken
// and basket refreshes.
const PartitionKeeper = "keeper"

// RefreshRequested asks the core to refresh every registered asset.
type RefreshRequested struct {
	RequestID uuid.UUID `json:"request_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
}

func (r *RefreshRequested) IdempotencyKey() string { return r.RequestID.String() }
func (r *RefreshRequested) EventType() EventType   { return EventTypeRefreshRequested }
func (r *RefreshRequested) Partition() string      { return PartitionKeeper }
func (r *RefreshRequested) SourceSequence() int64  { return r.Sequence }
func (r *RefreshRequested) EventTime() time.Time   { return time.Unix(r.Timestamp, 0) }

// ManageTokensRequested calls BackingManager.manageTokens. An empty token
// list hands out every registered token.
type ManageTokensRequested struct {
	RequestID uuid.UUID        `json:"request_id"`
	Tokens    []common.Address `json:"tokens"`
	Sequence  int64            `json:"sequence"`
	Timestamp int64            `json:"timestamp"`
}

func (m *ManageTokensRequested) IdempotencyKey() string { return m.RequestID.String() }
func (m *ManageTokensRequested) EventType() EventType   { return EventTypeManageTokensRequested }
func (m *ManageTokensRequested) Partition() string      { return PartitionKeeper }
func (m *ManageTokensRequested) SourceSequence() int64  { return m.Sequence }
func (m *ManageTokensRequested) EventTime() time.Time   { return time.Unix(m.Timestamp, 0) }

// Revenue trader names on the wire.
const (
	TraderBacking = "backing"
	TraderRSR     = "rsr"
	TraderRToken  = "rtoken"
)

// ManageTokenRequested calls manageToken on one revenue trader.
type ManageTokenRequested struct {
	RequestID uuid.UUID      `json:"request_id"`
	Trader    string         `json:"trader"` // TraderRSR or TraderRToken
	Token     common.Address `json:"token"`
	Sequence  int64          `json:"sequence"`
	Timestamp int64          `json:"timestamp"`
}

func (m *ManageTokenRequested) IdempotencyKey() string { return m.RequestID.String() }
func (m *ManageTokenRequested) EventType() EventType   { return EventTypeManageTokenRequested }
func (m *ManageTokenRequested) Partition() string      { return PartitionKeeper }
func (m *ManageTokenRequested) SourceSequence() int64  { return m.Sequence }
func (m *ManageTokenRequested) EventTime() time.Time   { return time.Unix(m.Timestamp, 0) }

// BasketRefreshRequested asks the BasketHandler to swap DISABLED members
// for backups.
type BasketRefreshRequested struct {
	RequestID uuid.UUID `json:"request_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
}

func (b *BasketRefreshRequested) IdempotencyKey() string { return b.RequestID.String() }
func (b *BasketRefreshRequested) EventType() EventType   { return EventTypeBasketRefreshRequested }
func (b *BasketRefreshRequested) Partition() string      { return PartitionKeeper }
func (b *BasketRefreshRequested) SourceSequence() int64  { return b.Sequence }
func (b *BasketRefreshRequested) EventTime() time.Time   { return time.Unix(b.Timestamp, 0) }
