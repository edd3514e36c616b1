// Package trading holds the BackingManager, the revenue traders and the
// trade bookkeeping they share.
package trading

import (
	"RTokenLedger/internal/ledger"
	fpmath "RTokenLedger/internal/math"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	ErrTradeOpen         = errors.New("trading: trade already open for token")
	ErrUnknownTrade      = errors.New("trading: unknown trade")
	ErrDuplicateTokens   = errors.New("trading: duplicate tokens")
	ErrUnregisteredToken = errors.New("trading: unregistered token")
	ErrInvalidParams     = errors.New("trading: invalid params")
)

var tradeNamespace = uuid.MustParse("5b7c2d1e-8f3a-4c6b-9e0d-2a1f4b8c7d6e")

// TradeID derives the ID of a trade opened while processing the event with
// the given sequence. At most one trade is opened per event.
func TradeID(sequence int64) uuid.UUID {
	return uuid.NewSHA1(tradeNamespace, []byte("trade:"+strconv.FormatInt(sequence, 10)))
}

// TradeRequest is what the venue receives.
type TradeRequest struct {
	Sell         common.Address `json:"sell"`
	Buy          common.Address `json:"buy"`
	SellAmount   fpmath.Fix     `json:"sell_amount"`
	MinBuyAmount fpmath.Fix     `json:"min_buy_amount"`
}

// Trade is an open trade. The sell amount sits in trade escrow until the
// venue settles.
type Trade struct {
	ID       uuid.UUID     `json:"id"`
	Owner    ledger.Holder `json:"owner"`
	Request  TradeRequest  `json:"request"`
	OpenedAt int64         `json:"opened_at"`
}

// Settlement is the result of closing a trade.
type Settlement struct {
	Trade    Trade
	Sold     fpmath.Fix
	Bought   fpmath.Fix
	Returned fpmath.Fix // unsold sell tokens returned to the owner
	Refunded bool       // failed or under-filled: nothing exchanged
}

// Rules are the per-trader sizing parameters.
type Rules struct {
	MaxTradeSlippage fpmath.Fix `json:"max_trade_slippage"`
	MinTradeVolume   fpmath.Fix `json:"min_trade_volume"` // {UoA}
}

func (r Rules) Validate() error {
	if r.MaxTradeSlippage.Gte(fpmath.One) {
		return fmt.Errorf("%w: max trade slippage %s must be < 1", ErrInvalidParams, r.MaxTradeSlippage)
	}
	return nil
}

// Trading keeps one open-trade slot per sell token for a single owner.
type Trading struct {
	owner  ledger.Holder
	rules  Rules
	trades map[common.Address]*Trade
}

func newTrading(owner ledger.Holder, rules Rules) Trading {
	return Trading{
		owner:  owner,
		rules:  rules,
		trades: make(map[common.Address]*Trade),
	}
}

func (t *Trading) Owner() ledger.Holder { return t.owner }
func (t *Trading) Rules() Rules         { return t.rules }
func (t *Trading) TradesOpen() int      { return len(t.trades) }

func (t *Trading) SetRules(r Rules) error {
	if err := r.Validate(); err != nil {
		return err
	}
	t.rules = r
	return nil
}

// TradeFor returns the open trade selling token, if any.
func (t *Trading) TradeFor(sell common.Address) (*Trade, bool) {
	tr, ok := t.trades[sell]
	return tr, ok
}

// Find looks an open trade up by ID.
func (t *Trading) Find(id uuid.UUID) (*Trade, bool) {
	for _, tr := range t.trades {
		if tr.ID == id {
			return tr, true
		}
	}
	return nil, false
}

// OpenTrades returns open trades ordered by sell token.
func (t *Trading) OpenTrades() []Trade {
	out := make([]Trade, 0, len(t.trades))
	for _, tr := range t.trades {
		out = append(out, *tr)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Request.Sell.Hex() < out[j].Request.Sell.Hex()
	})
	return out
}

// openTrade escrows the sell amount and takes the sell token's slot.
func (t *Trading) openTrade(tx *ledger.Tx, req TradeRequest, id uuid.UUID, now int64) (*Trade, error) {
	if _, ok := t.trades[req.Sell]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTradeOpen, req.Sell.Hex())
	}
	if err := tx.Move(t.owner, ledger.HolderTradeEscrow, req.Sell, req.SellAmount, ledger.JournalTypeTradeEscrow); err != nil {
		return nil, err
	}
	tr := &Trade{ID: id, Owner: t.owner, Request: req, OpenedAt: now}
	t.trades[req.Sell] = tr
	return tr, nil
}

// SettleTrade closes a trade. A failed settlement, an overfill of the sell
// side, or a fill below the prorata minimum buy is a full refund.
func (t *Trading) SettleTrade(tx *ledger.Tx, id uuid.UUID, sold, bought fpmath.Fix, failed bool) (Settlement, error) {
	tr, ok := t.Find(id)
	if !ok {
		return Settlement{}, fmt.Errorf("%w: %s", ErrUnknownTrade, id)
	}
	req := tr.Request

	refund := failed || sold.Gt(req.SellAmount) ||
		bought.Lt(req.MinBuyAmount.MulDiv(sold, req.SellAmount, fpmath.RoundUp))

	s := Settlement{Trade: *tr}
	if refund {
		if err := tx.Move(ledger.HolderTradeEscrow, t.owner, req.Sell, req.SellAmount, ledger.JournalTypeTradeRefund); err != nil {
			panic(fmt.Sprintf("FATAL: trade %s escrow short: %v", id, err))
		}
		s.Returned = req.SellAmount
		s.Refunded = true
	} else {
		err := errors.Join(
			tx.Transfer(
				ledger.NewProtocolAccountKey(ledger.HolderTradeEscrow, req.Sell),
				ledger.NewExternalAccountKey(ledger.HolderVenue, req.Sell),
				sold, ledger.JournalTypeTradeSold),
			tx.Transfer(
				ledger.NewExternalAccountKey(ledger.HolderVenue, req.Buy),
				ledger.NewProtocolAccountKey(t.owner, req.Buy),
				bought, ledger.JournalTypeTradeBought),
			tx.Move(ledger.HolderTradeEscrow, t.owner, req.Sell, req.SellAmount.Sub(sold), ledger.JournalTypeTradeRefund),
		)
		if err != nil {
			panic(fmt.Sprintf("FATAL: trade %s settlement: %v", id, err))
		}
		s.Sold, s.Bought = sold, bought
		s.Returned = req.SellAmount.Sub(sold)
	}

	delete(t.trades, req.Sell)
	return s, nil
}

// restore replaces the open trades from a snapshot.
func (t *Trading) restore(trades []Trade) {
	t.trades = make(map[common.Address]*Trade, len(trades))
	for i := range trades {
		tr := trades[i]
		t.trades[tr.Request.Sell] = &tr
	}
}
