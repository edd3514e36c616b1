package trading

import (
	"RTokenLedger/internal/collateral"
	"RTokenLedger/internal/ledger"
	fpmath "RTokenLedger/internal/math"
	"RTokenLedger/internal/rtoken"

	"github.com/ethereum/go-ethereum/common"
)

// OutcomeKind says what a ManageTokens call did.
type OutcomeKind int

const (
	OutcomeNoop OutcomeKind = iota
	OutcomeAbortTradeOpen
	OutcomeAbortBasketNotSound
	OutcomeAbortTradingDelay
	OutcomeHandout
	OutcomeTradeStarted
	OutcomeHaircut
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNoop:
		return "noop"
	case OutcomeAbortTradeOpen:
		return "abort_trade_open"
	case OutcomeAbortBasketNotSound:
		return "abort_basket_not_sound"
	case OutcomeAbortTradingDelay:
		return "abort_trading_delay"
	case OutcomeHandout:
		return "handout"
	case OutcomeTradeStarted:
		return "trade_started"
	case OutcomeHaircut:
		return "haircut"
	default:
		return "unknown"
	}
}

// HandoutTransfer is one surplus transfer to a revenue trader.
type HandoutTransfer struct {
	Token  common.Address
	To     ledger.Holder
	Amount fpmath.Fix
}

// Outcome is the result of BackingManager.ManageTokens. Aborts are outcomes,
// not errors: the status changes from the refresh still apply.
type Outcome struct {
	Kind          OutcomeKind
	StatusChanges []collateral.StatusChange
	BasketsHeld   fpmath.Fix

	Trade     *Trade               // OutcomeTradeStarted
	Minted    fpmath.Fix           // OutcomeHandout: RToken minted to the BackingManager
	Transfers []HandoutTransfer    // OutcomeHandout
	Needed    *rtoken.NeededChange // OutcomeHandout (when minted) and OutcomeHaircut
}

// RevenueOutcomeKind says what a RevenueTrader.ManageToken call did.
type RevenueOutcomeKind int

const (
	RevenueNoop RevenueOutcomeKind = iota // nothing to do
	RevenueDistributed
	RevenueTradeStarted
	RevenueDust
	RevenueUnpriced
)

func (k RevenueOutcomeKind) String() string {
	switch k {
	case RevenueNoop:
		return "noop"
	case RevenueDistributed:
		return "distributed"
	case RevenueTradeStarted:
		return "trade_started"
	case RevenueDust:
		return "dust"
	case RevenueUnpriced:
		return "unpriced"
	default:
		return "unknown"
	}
}

type RevenueOutcome struct {
	Kind          RevenueOutcomeKind
	StatusChanges []collateral.StatusChange
	Trade         *Trade
	Distributed   *Distributed
}
