package trading

import (
	"RTokenLedger/internal/basket"
	"RTokenLedger/internal/collateral"
	"RTokenLedger/internal/ledger"
	fpmath "RTokenLedger/internal/math"
	"RTokenLedger/internal/rtoken"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/samber/lo"
)

const MaxTradingDelay = 365 * 24 * time.Hour

// Params are the BackingManager's governance parameters.
type Params struct {
	TradingDelay  time.Duration `json:"trading_delay"`
	BackingBuffer fpmath.Fix    `json:"backing_buffer"`
}

func (p Params) Validate() error {
	if p.TradingDelay < 0 || p.TradingDelay > MaxTradingDelay {
		return fmt.Errorf("%w: trading delay %s out of range", ErrInvalidParams, p.TradingDelay)
	}
	if p.BackingBuffer.Gt(fpmath.One) {
		return fmt.Errorf("%w: backing buffer %s > 1", ErrInvalidParams, p.BackingBuffer)
	}
	return nil
}

// BackingManager holds the collateral backing the RToken. It hands out
// surplus, trades toward full collateralization, and as a last resort
// writes basketsNeeded down.
type BackingManager struct {
	Trading

	reg         *collateral.Registry
	basket      *basket.Handler
	rtoken      *rtoken.RToken
	distributor *Distributor
	rsr         common.Address
	params      Params
}

func NewBackingManager(
	reg *collateral.Registry,
	bh *basket.Handler,
	rt *rtoken.RToken,
	dist *Distributor,
	rsr common.Address,
	params Params,
	rules Rules,
) (*BackingManager, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	if !reg.IsRegistered(rsr) || !reg.IsRegistered(rt.ERC20()) {
		return nil, fmt.Errorf("%w: RSR and RToken must be registered", ErrInvalidParams)
	}
	return &BackingManager{
		Trading:     newTrading(ledger.HolderBackingManager, rules),
		reg:         reg,
		basket:      bh,
		rtoken:      rt,
		distributor: dist,
		rsr:         rsr,
		params:      params,
	}, nil
}

func (bm *BackingManager) Params() Params { return bm.params }

// SetTradingDelay returns the previous value.
func (bm *BackingManager) SetTradingDelay(d time.Duration) (time.Duration, error) {
	p := bm.params
	p.TradingDelay = d
	if err := p.Validate(); err != nil {
		return 0, err
	}
	old := bm.params.TradingDelay
	bm.params = p
	return old, nil
}

// SetBackingBuffer returns the previous value.
func (bm *BackingManager) SetBackingBuffer(b fpmath.Fix) (fpmath.Fix, error) {
	p := bm.params
	p.BackingBuffer = b
	if err := p.Validate(); err != nil {
		return fpmath.Zero, err
	}
	old := bm.params.BackingBuffer
	bm.params = p
	return old, nil
}

// ManageTokens is the BackingManager's keeper entrypoint. Input errors are
// returned before anything changes; everything after the refresh is an
// Outcome. An empty token list hands out every registered token.
func (bm *BackingManager) ManageTokens(tx *ledger.Tx, tokens []common.Address, tradeID uuid.UUID, now time.Time) (Outcome, error) {
	if dups := lo.FindDuplicates(tokens); len(dups) > 0 {
		return Outcome{}, fmt.Errorf("%w: %s", ErrDuplicateTokens, dups[0].Hex())
	}
	for _, token := range tokens {
		if !bm.reg.IsRegistered(token) {
			return Outcome{}, fmt.Errorf("%w: %s", ErrUnregisteredToken, token.Hex())
		}
	}

	if bm.TradesOpen() > 0 {
		return Outcome{Kind: OutcomeAbortTradeOpen}, nil
	}

	out := Outcome{StatusChanges: bm.reg.RefreshAll(now)}

	if bm.basket.Status() != collateral.StatusSound {
		out.Kind = OutcomeAbortBasketNotSound
		return out, nil
	}
	if now.Unix() < bm.basket.Timestamp()+int64(bm.params.TradingDelay/time.Second) {
		out.Kind = OutcomeAbortTradingDelay
		return out, nil
	}

	held := bm.basket.BasketsHeldBy(tx, bm.owner)
	out.BasketsHeld = held

	if held.Gte(bm.rtoken.BasketsNeeded()) {
		if len(tokens) == 0 {
			tokens = bm.reg.ERC20s()
		}
		bm.handoutExcessAssets(tx, tokens, held, &out)
		return out, nil
	}

	if req, ok := bm.prepareRecollateralizationTrade(tx, held, now); ok {
		tr, err := bm.openTrade(tx, req, tradeID, now.Unix())
		if err != nil {
			panic(fmt.Sprintf("FATAL: open recollateralization trade: %v", err))
		}
		out.Kind = OutcomeTradeStarted
		out.Trade = tr
		return out, nil
	}

	bm.haircut(held, &out)
	return out, nil
}

// handoutExcessAssets mints RToken for BUs held beyond
// basketsNeeded * (1 + backingBuffer), then splits every token's balance
// above its requirement between the revenue traders.
func (bm *BackingManager) handoutExcessAssets(tx *ledger.Tx, tokens []common.Address, held fpmath.Fix, out *Outcome) {
	buffer := fpmath.One.Add(bm.params.BackingBuffer)

	if needed := bm.rtoken.BasketsNeeded().Mul(buffer, fpmath.RoundUp); held.Gt(needed) {
		rTok, change, err := bm.rtoken.MintBaskets(tx, bm.owner, held.Sub(needed))
		if err != nil {
			panic(fmt.Sprintf("FATAL: mint surplus RToken: %v", err))
		}
		if !rTok.IsZero() {
			out.Minted = rTok
			out.Needed = &change
		}
	}

	needed := bm.rtoken.BasketsNeeded().Mul(buffer, fpmath.RoundUp)
	rTokenTotal, rsrTotal := bm.distributor.Totals()

	for _, token := range tokens {
		a, _ := bm.reg.ToAsset(token)
		bal := tx.BalanceOf(bm.owner, token)
		req := needed.Mul(bm.basket.Quantity(token), fpmath.RoundUp)
		if bal.Lte(req) {
			continue
		}
		delta := bal.Sub(req)

		if token == bm.rsr {
			bm.handout(tx, token, ledger.HolderRSRTrader, delta, out)
			continue
		}

		quanta := delta.ToQuanta(a.Decimals(), fpmath.RoundDown)
		perShare := new(uint256.Int).Div(quanta, uint256.NewInt(rTokenTotal+rsrTotal))
		toRSR := new(uint256.Int).Mul(perShare, uint256.NewInt(rsrTotal))
		toRToken := new(uint256.Int).Mul(perShare, uint256.NewInt(rTokenTotal))

		bm.handout(tx, token, ledger.HolderRSRTrader, fpmath.FromQuanta(toRSR, a.Decimals()), out)
		bm.handout(tx, token, ledger.HolderRTokenTrader, fpmath.FromQuanta(toRToken, a.Decimals()), out)
	}

	if len(out.Transfers) > 0 || !out.Minted.IsZero() {
		out.Kind = OutcomeHandout
	}
}

func (bm *BackingManager) handout(tx *ledger.Tx, token common.Address, to ledger.Holder, amount fpmath.Fix, out *Outcome) {
	if amount.IsZero() {
		return
	}
	if err := tx.Move(bm.owner, to, token, amount, ledger.JournalTypeHandout); err != nil {
		panic(fmt.Sprintf("FATAL: handout %s to %s: %v", token.Hex(), to, err))
	}
	out.Transfers = append(out.Transfers, HandoutTransfer{Token: token, To: to, Amount: amount})
}

// haircut writes basketsNeeded down to the BUs actually held.
func (bm *BackingManager) haircut(held fpmath.Fix, out *Outcome) {
	if bm.TradesOpen() != 0 {
		panic("FATAL: haircut with an open trade")
	}
	change := bm.rtoken.SetBasketsNeeded(held)
	out.Kind = OutcomeHaircut
	out.Needed = &change
}

// Snapshot returns the open trades and parameters.
func (bm *BackingManager) Snapshot() TraderState {
	return TraderState{Trades: bm.OpenTrades(), Rules: bm.rules, Params: &bm.params}
}

func (bm *BackingManager) Restore(s TraderState) error {
	if s.Params != nil {
		if err := s.Params.Validate(); err != nil {
			return err
		}
		bm.params = *s.Params
	}
	if err := s.Rules.Validate(); err != nil {
		return err
	}
	bm.rules = s.Rules
	bm.restore(s.Trades)
	return nil
}

// TraderState is the snapshot form of a trader.
type TraderState struct {
	Trades []Trade `json:"trades"`
	Rules  Rules   `json:"rules"`
	Params *Params `json:"params,omitempty"`
}
