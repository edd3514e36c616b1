package event

import (
	"fmt"
	"time"
)

// EventType discriminator for inbound events
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeOracleUpdate
	EventTypeExchangeRateUpdate
	EventTypeRefreshRequested
	EventTypeManageTokensRequested
	EventTypeManageTokenRequested
	EventTypeTradeSettled
	EventTypeIssuance
	EventTypeRedemption
	EventTypeBasketRefreshRequested
	EventTypeParamUpdate
	EventTypeCollateralDeposited
)

// EventTypes lists every inbound type in declaration order.
var EventTypes = []EventType{
	EventTypeOracleUpdate,
	EventTypeExchangeRateUpdate,
	EventTypeRefreshRequested,
	EventTypeManageTokensRequested,
	EventTypeManageTokenRequested,
	EventTypeTradeSettled,
	EventTypeIssuance,
	EventTypeRedemption,
	EventTypeBasketRefreshRequested,
	EventTypeParamUpdate,
	EventTypeCollateralDeposited,
}

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	EventType EventType

	// Source ordering partition, e.g. "feed:USDC/USD" or "keeper"
	Partition string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON of the inbound event and everything it emitted
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all inbound payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	EventType() EventType

	// Partition names the source sequence stream the event belongs to
	Partition() string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// EventTime is the versioned timestamp the core uses as "now"
	EventTime() time.Time
}

func (et EventType) String() string {
	switch et {
	case EventTypeOracleUpdate:
		return "OracleUpdate"
	case EventTypeExchangeRateUpdate:
		return "ExchangeRateUpdate"
	case EventTypeRefreshRequested:
		return "RefreshRequested"
	case EventTypeManageTokensRequested:
		return "ManageTokensRequested"
	case EventTypeManageTokenRequested:
		return "ManageTokenRequested"
	case EventTypeTradeSettled:
		return "TradeSettled"
	case EventTypeIssuance:
		return "Issuance"
	case EventTypeRedemption:
		return "Redemption"
	case EventTypeBasketRefreshRequested:
		return "BasketRefreshRequested"
	case EventTypeParamUpdate:
		return "ParamUpdate"
	case EventTypeCollateralDeposited:
		return "CollateralDeposited"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) (EventType, error) {
	for _, et := range EventTypes {
		if et.String() == s {
			return et, nil
		}
	}
	return EventTypeUnknown, fmt.Errorf("unknown event type: %s", s)
}
