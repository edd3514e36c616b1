package ingestion

import (
	"RTokenLedger/internal/event"
	fpmath "RTokenLedger/internal/math"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrInvalidPayload = errors.New("ingestion: invalid payload")

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. Upstream producers send amounts as JSON numbers or
// decimal strings and tokens as hex addresses; both are checked here so the
// core only ever sees well-formed values.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "OracleUpdate":
		return parseOracleUpdate(raw.Data)
	case "ExchangeRateUpdate":
		return parseExchangeRateUpdate(raw.Data)
	case "RefreshRequested":
		return parseRefreshRequested(raw.Data)
	case "ManageTokensRequested":
		return parseManageTokensRequested(raw.Data)
	case "ManageTokenRequested":
		return parseManageTokenRequested(raw.Data)
	case "TradeSettled":
		return parseTradeSettled(raw.Data)
	case "Issuance":
		return parseIssuance(raw.Data)
	case "Redemption":
		return parseRedemption(raw.Data)
	case "BasketRefreshRequested":
		return parseBasketRefreshRequested(raw.Data)
	case "ParamUpdate":
		return parseParamUpdate(raw.Data)
	case "CollateralDeposited":
		return parseCollateralDeposited(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type oracleUpdateJSON struct {
	FeedID       string          `json:"feed_id"`
	Price        decimal.Decimal `json:"price"`
	FeedSequence int64           `json:"feed_sequence"`
	Timestamp    int64           `json:"timestamp"`
}

func parseOracleUpdate(data []byte) (*event.OracleUpdate, error) {
	var j oracleUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OracleUpdate: %w", err)
	}
	if j.FeedID == "" {
		return nil, fmt.Errorf("%w: empty feed_id", ErrInvalidPayload)
	}
	price, err := parseAmount("price", j.Price)
	if err != nil {
		return nil, err
	}
	return &event.OracleUpdate{
		FeedID:       j.FeedID,
		Price:        price,
		FeedSequence: j.FeedSequence,
		Timestamp:    j.Timestamp,
	}, nil
}

type exchangeRateJSON struct {
	Token        string          `json:"token"`
	RefPerTok    decimal.Decimal `json:"ref_per_tok"`
	RateSequence int64           `json:"rate_sequence"`
	Timestamp    int64           `json:"timestamp"`
}

func parseExchangeRateUpdate(data []byte) (*event.ExchangeRateUpdate, error) {
	var j exchangeRateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ExchangeRateUpdate: %w", err)
	}
	token, err := parseToken("token", j.Token)
	if err != nil {
		return nil, err
	}
	rate, err := parseAmount("ref_per_tok", j.RefPerTok)
	if err != nil {
		return nil, err
	}
	return &event.ExchangeRateUpdate{
		Token:        token,
		RefPerTok:    rate,
		RateSequence: j.RateSequence,
		Timestamp:    j.Timestamp,
	}, nil
}

type keeperJSON struct {
	RequestID string   `json:"request_id"`
	Trader    string   `json:"trader,omitempty"`
	Token     string   `json:"token,omitempty"`
	Tokens    []string `json:"tokens,omitempty"`
	Sequence  int64    `json:"sequence"`
	Timestamp int64    `json:"timestamp"`
}

func parseKeeper(name string, data []byte) (keeperJSON, uuid.UUID, error) {
	var j keeperJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return j, uuid.Nil, fmt.Errorf("parse %s: %w", name, err)
	}
	id, err := uuid.Parse(j.RequestID)
	if err != nil {
		return j, uuid.Nil, fmt.Errorf("parse request_id: %w", err)
	}
	return j, id, nil
}

func parseRefreshRequested(data []byte) (*event.RefreshRequested, error) {
	j, id, err := parseKeeper("RefreshRequested", data)
	if err != nil {
		return nil, err
	}
	return &event.RefreshRequested{RequestID: id, Sequence: j.Sequence, Timestamp: j.Timestamp}, nil
}

func parseBasketRefreshRequested(data []byte) (*event.BasketRefreshRequested, error) {
	j, id, err := parseKeeper("BasketRefreshRequested", data)
	if err != nil {
		return nil, err
	}
	return &event.BasketRefreshRequested{RequestID: id, Sequence: j.Sequence, Timestamp: j.Timestamp}, nil
}

func parseManageTokensRequested(data []byte) (*event.ManageTokensRequested, error) {
	j, id, err := parseKeeper("ManageTokensRequested", data)
	if err != nil {
		return nil, err
	}
	tokens := make([]common.Address, 0, len(j.Tokens))
	for i, s := range j.Tokens {
		token, err := parseToken(fmt.Sprintf("tokens[%d]", i), s)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return &event.ManageTokensRequested{
		RequestID: id,
		Tokens:    tokens,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

func parseManageTokenRequested(data []byte) (*event.ManageTokenRequested, error) {
	j, id, err := parseKeeper("ManageTokenRequested", data)
	if err != nil {
		return nil, err
	}
	if j.Trader != event.TraderRSR && j.Trader != event.TraderRToken {
		return nil, fmt.Errorf("%w: trader %q", ErrInvalidPayload, j.Trader)
	}
	token, err := parseToken("token", j.Token)
	if err != nil {
		return nil, err
	}
	return &event.ManageTokenRequested{
		RequestID: id,
		Trader:    j.Trader,
		Token:     token,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

type tradeSettledJSON struct {
	TradeID   string          `json:"trade_id"`
	Sold      decimal.Decimal `json:"sold"`
	Bought    decimal.Decimal `json:"bought"`
	Failed    bool            `json:"failed"`
	Sequence  int64           `json:"sequence"`
	Timestamp int64           `json:"timestamp"`
}

func parseTradeSettled(data []byte) (*event.TradeSettled, error) {
	var j tradeSettledJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse TradeSettled: %w", err)
	}
	tradeID, err := uuid.Parse(j.TradeID)
	if err != nil {
		return nil, fmt.Errorf("parse trade_id: %w", err)
	}
	sold, err := parseAmount("sold", j.Sold)
	if err != nil {
		return nil, err
	}
	bought, err := parseAmount("bought", j.Bought)
	if err != nil {
		return nil, err
	}
	return &event.TradeSettled{
		TradeID:   tradeID,
		Sold:      sold,
		Bought:    bought,
		Failed:    j.Failed,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

type issuanceJSON struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Sequence  int64           `json:"sequence"`
	Timestamp int64           `json:"timestamp"`
}

func parseIssuanceJSON(name string, data []byte) (issuanceJSON, uuid.UUID, fpmath.Fix, error) {
	var j issuanceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return j, uuid.Nil, fpmath.Zero, fmt.Errorf("parse %s: %w", name, err)
	}
	id, err := uuid.Parse(j.ID)
	if err != nil {
		return j, uuid.Nil, fpmath.Zero, fmt.Errorf("parse id: %w", err)
	}
	amount, err := parsePositive("amount", j.Amount)
	if err != nil {
		return j, uuid.Nil, fpmath.Zero, err
	}
	return j, id, amount, nil
}

func parseIssuance(data []byte) (*event.Issuance, error) {
	j, id, amount, err := parseIssuanceJSON("Issuance", data)
	if err != nil {
		return nil, err
	}
	return &event.Issuance{IssuanceID: id, Amount: amount, Sequence: j.Sequence, Timestamp: j.Timestamp}, nil
}

func parseRedemption(data []byte) (*event.Redemption, error) {
	j, id, amount, err := parseIssuanceJSON("Redemption", data)
	if err != nil {
		return nil, err
	}
	return &event.Redemption{RedemptionID: id, Amount: amount, Sequence: j.Sequence, Timestamp: j.Timestamp}, nil
}

type paramUpdateJSON struct {
	UpdateID         string           `json:"update_id"`
	Trader           string           `json:"trader,omitempty"`
	TradingDelay     *int64           `json:"trading_delay,omitempty"`
	BackingBuffer    *decimal.Decimal `json:"backing_buffer,omitempty"`
	MaxTradeSlippage *decimal.Decimal `json:"max_trade_slippage,omitempty"`
	MinTradeVolume   *decimal.Decimal `json:"min_trade_volume,omitempty"`
	Sequence         int64            `json:"sequence"`
	Timestamp        int64            `json:"timestamp"`
}

func parseParamUpdate(data []byte) (*event.ParamUpdate, error) {
	var j paramUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ParamUpdate: %w", err)
	}
	id, err := uuid.Parse(j.UpdateID)
	if err != nil {
		return nil, fmt.Errorf("parse update_id: %w", err)
	}
	if j.TradingDelay == nil && j.BackingBuffer == nil && j.MaxTradeSlippage == nil && j.MinTradeVolume == nil {
		return nil, fmt.Errorf("%w: ParamUpdate changes nothing", ErrInvalidPayload)
	}
	switch j.Trader {
	case "", event.TraderBacking, event.TraderRSR, event.TraderRToken:
	default:
		return nil, fmt.Errorf("%w: trader %q", ErrInvalidPayload, j.Trader)
	}

	evt := &event.ParamUpdate{
		UpdateID:     id,
		Trader:       j.Trader,
		TradingDelay: j.TradingDelay,
		Sequence:     j.Sequence,
		Timestamp:    j.Timestamp,
	}
	if evt.BackingBuffer, err = parseOptional("backing_buffer", j.BackingBuffer); err != nil {
		return nil, err
	}
	if evt.MaxTradeSlippage, err = parseOptional("max_trade_slippage", j.MaxTradeSlippage); err != nil {
		return nil, err
	}
	if evt.MinTradeVolume, err = parseOptional("min_trade_volume", j.MinTradeVolume); err != nil {
		return nil, err
	}
	return evt, nil
}

type depositJSON struct {
	DepositID string          `json:"deposit_id"`
	Token     string          `json:"token"`
	Amount    decimal.Decimal `json:"amount"`
	Sequence  int64           `json:"sequence"`
	Timestamp int64           `json:"timestamp"`
}

func parseCollateralDeposited(data []byte) (*event.CollateralDeposited, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CollateralDeposited: %w", err)
	}
	id, err := uuid.Parse(j.DepositID)
	if err != nil {
		return nil, fmt.Errorf("parse deposit_id: %w", err)
	}
	token, err := parseToken("token", j.Token)
	if err != nil {
		return nil, err
	}
	amount, err := parsePositive("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.CollateralDeposited{
		DepositID: id,
		Token:     token,
		Amount:    amount,
		Sequence:  j.Sequence,
		Timestamp: j.Timestamp,
	}, nil
}

// --- Field helpers ---

func parseToken(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an address", ErrInvalidPayload, field, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s is the zero address", ErrInvalidPayload, field)
	}
	return addr, nil
}

func parseAmount(field string, d decimal.Decimal) (fpmath.Fix, error) {
	f, err := fpmath.FromDecimal(d)
	if err != nil {
		return fpmath.Zero, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, field, err)
	}
	return f, nil
}

func parsePositive(field string, d decimal.Decimal) (fpmath.Fix, error) {
	if !d.IsPositive() {
		return fpmath.Zero, fmt.Errorf("%w: %s must be positive", ErrInvalidPayload, field)
	}
	return parseAmount(field, d)
}

func parseOptional(field string, d *decimal.Decimal) (*fpmath.Fix, error) {
	if d == nil {
		return nil, nil
	}
	f, err := parseAmount(field, *d)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
