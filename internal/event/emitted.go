package event

import (
	"RTokenLedger/internal/collateral"
	"RTokenLedger/internal/ledger"
	fpmath "RTokenLedger/internal/math"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Emitted is an outbound event produced while applying an inbound one.
// Published to NATS under rtoken.ledger.events.<Name>.
type Emitted interface {
	Name() string
}

type DefaultStatusChanged struct {
	Token       common.Address              `json:"token"`
	TargetName  string                      `json:"target_name"`
	Old         collateral.CollateralStatus `json:"old"`
	New         collateral.CollateralStatus `json:"new"`
	WhenDefault int64                       `json:"when_default"`
}

type TradingDelaySet struct {
	Old int64 `json:"old"` // seconds
	New int64 `json:"new"`
}

type BackingBufferSet struct {
	Old fpmath.Fix `json:"old"`
	New fpmath.Fix `json:"new"`
}

type TradeStarted struct {
	TradeID      uuid.UUID      `json:"trade_id"`
	Trader       ledger.Holder  `json:"trader"`
	Sell         common.Address `json:"sell"`
	Buy          common.Address `json:"buy"`
	SellAmount   fpmath.Fix     `json:"sell_amount"`
	MinBuyAmount fpmath.Fix     `json:"min_buy_amount"`
}

type TradeClosed struct {
	TradeID  uuid.UUID      `json:"trade_id"`
	Trader   ledger.Holder  `json:"trader"`
	Sell     common.Address `json:"sell"`
	Buy      common.Address `json:"buy"`
	Sold     fpmath.Fix     `json:"sold"`
	Bought   fpmath.Fix     `json:"bought"`
	Returned fpmath.Fix     `json:"returned"`
	Refunded bool           `json:"refunded"`
}

// Haircut is emitted when basketsNeeded is written down to basketsHeld.
type Haircut struct {
	BasketsHeld fpmath.Fix `json:"baskets_held"`
	Old         fpmath.Fix `json:"old"`
	New         fpmath.Fix `json:"new"`
}

type BasketsNeededChanged struct {
	Old fpmath.Fix `json:"old"`
	New fpmath.Fix `json:"new"`
}

type RevenueDistributed struct {
	Token  common.Address `json:"token"`
	From   ledger.Holder  `json:"from"`
	To     ledger.Holder  `json:"to"`
	Amount fpmath.Fix     `json:"amount"`
}

type BasketEntry struct {
	Token      common.Address `json:"token"`
	TargetName string         `json:"target_name"`
	RefAmt     fpmath.Fix     `json:"ref_amt"`
}

type BasketSet struct {
	Nonce   uint64        `json:"nonce"`
	Entries []BasketEntry `json:"entries"`
}

func (DefaultStatusChanged) Name() string { return "DefaultStatusChanged" }
func (TradingDelaySet) Name() string      { return "TradingDelaySet" }
func (BackingBufferSet) Name() string     { return "BackingBufferSet" }
func (TradeStarted) Name() string         { return "TradeStarted" }
func (TradeClosed) Name() string          { return "TradeClosed" }
func (Haircut) Name() string              { return "Haircut" }
func (BasketsNeededChanged) Name() string { return "BasketsNeededChanged" }
func (RevenueDistributed) Name() string   { return "RevenueDistributed" }
func (BasketSet) Name() string            { return "BasketSet" }

// Record is what the event log stores as an envelope's payload.
type Record struct {
	Event   Event     `json:"event"`
	Emitted []Emitted `json:"-"`
}

type emittedJSON struct {
	Type string  `json:"type"`
	Data Emitted `json:"data"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	out := struct {
		Type    string        `json:"type"`
		Event   Event         `json:"event"`
		Emitted []emittedJSON `json:"emitted"`
	}{
		Type:    r.Event.EventType().String(),
		Event:   r.Event,
		Emitted: make([]emittedJSON, 0, len(r.Emitted)),
	}
	for _, e := range r.Emitted {
		out.Emitted = append(out.Emitted, emittedJSON{Type: e.Name(), Data: e})
	}
	return json.Marshal(out)
}
