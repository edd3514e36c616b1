package event

import (
	"encoding/json"
	"fmt"
)

// New returns a zero event of the given type, ready to unmarshal into.
func New(et EventType) (Event, error) {
	switch et {
	case EventTypeOracleUpdate:
		return &OracleUpdate{}, nil
	case EventTypeExchangeRateUpdate:
		return &ExchangeRateUpdate{}, nil
	case EventTypeRefreshRequested:
		return &RefreshRequested{}, nil
	case EventTypeManageTokensRequested:
		return &ManageTokensRequested{}, nil
	case EventTypeManageTokenRequested:
		return &ManageTokenRequested{}, nil
	case EventTypeTradeSettled:
		return &TradeSettled{}, nil
	case EventTypeIssuance:
		return &Issuance{}, nil
	case EventTypeRedemption:
		return &Redemption{}, nil
	case EventTypeBasketRefreshRequested:
		return &BasketRefreshRequested{}, nil
	case EventTypeParamUpdate:
		return &ParamUpdate{}, nil
	case EventTypeCollateralDeposited:
		return &CollateralDeposited{}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %d", et)
	}
}

// Decode unmarshals the JSON form of an inbound event.
func Decode(eventType string, data []byte) (Event, error) {
	et, err := ParseEventType(eventType)
	if err != nil {
		return nil, err
	}
	evt, err := New(et)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	return evt, nil
}

// DecodeRecord extracts the inbound event from a stored Record payload.
func DecodeRecord(payload []byte) (Event, error) {
	var r struct {
		Type  string          `json:"type"`
		Event json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return Decode(r.Type, r.Event)
}

func unmarshalEmitted[T Emitted](data []byte) (Emitted, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeEmittedEvent decodes one emitted event by name. The result holds a
// value, matching what the core emits.
func DecodeEmittedEvent(name string, data []byte) (Emitted, error) {
	var (
		em  Emitted
		err error
	)
	switch name {
	case "DefaultStatusChanged":
		em, err = unmarshalEmitted[DefaultStatusChanged](data)
	case "TradingDelaySet":
		em, err = unmarshalEmitted[TradingDelaySet](data)
	case "BackingBufferSet":
		em, err = unmarshalEmitted[BackingBufferSet](data)
	case "TradeStarted":
		em, err = unmarshalEmitted[TradeStarted](data)
	case "TradeClosed":
		em, err = unmarshalEmitted[TradeClosed](data)
	case "Haircut":
		em, err = unmarshalEmitted[Haircut](data)
	case "BasketsNeededChanged":
		em, err = unmarshalEmitted[BasketsNeededChanged](data)
	case "RevenueDistributed":
		em, err = unmarshalEmitted[RevenueDistributed](data)
	case "BasketSet":
		em, err = unmarshalEmitted[BasketSet](data)
	default:
		return nil, fmt.Errorf("unknown emitted event %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return em, nil
}

// DecodeEmitted extracts the emitted events from a stored Record payload.
func DecodeEmitted(payload []byte) ([]Emitted, error) {
	var r struct {
		Emitted []struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		} `json:"emitted"`
	}
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	out := make([]Emitted, 0, len(r.Emitted))
	for _, e := range r.Emitted {
		em, err := DecodeEmittedEvent(e.Type, e.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, em)
	}
	return out, nil
}
