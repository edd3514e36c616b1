// Package rtoken tracks RToken supply and the basket units owed to holders.
package rtoken

import (
	"RTokenLedger/internal/basket"
	"RTokenLedger/internal/collateral"
	"RTokenLedger/internal/ledger"
	fpmath "RTokenLedger/internal/math"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrZeroAmount      = errors.New("rtoken: zero amount")
	ErrBasketNotSound  = errors.New("rtoken: basket not sound")
	ErrBasketDisabled  = errors.New("rtoken: basket disabled")
	ErrExceedsSupply   = errors.New("rtoken: amount exceeds supply")
	ErrNothingToRedeem = errors.New("rtoken: redemption rounds to zero baskets")
)

// NeededChange records a basketsNeeded update.
type NeededChange struct {
	Old fpmath.Fix
	New fpmath.Fix
}

// IssueResult describes a completed issuance or redemption.
type IssueResult struct {
	Amount  fpmath.Fix
	Baskets fpmath.Fix
	Needed  NeededChange
	Tokens  []basket.Amount
}

// State is the snapshot form of an RToken.
type State struct {
	Supply        fpmath.Fix `json:"supply"`
	BasketsNeeded fpmath.Fix `json:"baskets_needed"`
}

type RToken struct {
	erc20  common.Address
	basket *basket.Handler

	supply        fpmath.Fix
	basketsNeeded fpmath.Fix
}

func New(erc20 common.Address, bh *basket.Handler) *RToken {
	return &RToken{erc20: erc20, basket: bh}
}

func (r *RToken) ERC20() common.Address     { return r.erc20 }
func (r *RToken) Supply() fpmath.Fix        { return r.supply }
func (r *RToken) BasketsNeeded() fpmath.Fix { return r.basketsNeeded }

// Price is {UoA/rTok} = basketsNeeded * basketPrice / supply.
func (r *RToken) Price(now time.Time) (fpmath.Fix, error) {
	bp, err := r.basket.Price(now)
	if err != nil {
		return fpmath.Zero, err
	}
	if r.supply.IsZero() {
		return bp, nil
	}
	return r.basketsNeeded.MulDiv(bp, r.supply, fpmath.RoundHalfUp), nil
}

// Pricer lets the RToken be registered as a plain asset.
func (r *RToken) Pricer() collateral.Pricer {
	return r.Price
}

// Issue pulls basket collateral from issuers into the BackingManager and
// mints amount RToken. Requires a SOUND basket.
func (r *RToken) Issue(tx *ledger.Tx, amount fpmath.Fix) (IssueResult, error) {
	if amount.IsZero() {
		return IssueResult{}, ErrZeroAmount
	}
	if st := r.basket.Status(); st != collateral.StatusSound {
		return IssueResult{}, fmt.Errorf("%w: %s", ErrBasketNotSound, st)
	}

	baskets := amount
	if !r.supply.IsZero() {
		baskets = amount.MulDiv(r.basketsNeeded, r.supply, fpmath.RoundUp)
	}

	deposits := r.basket.Quote(baskets, fpmath.RoundUp)
	for _, d := range deposits {
		err := tx.Transfer(
			ledger.NewExternalAccountKey(ledger.HolderIssuers, d.Token),
			ledger.NewProtocolAccountKey(ledger.HolderBackingManager, d.Token),
			d.Amount, ledger.JournalTypeIssuance)
		if err != nil {
			return IssueResult{}, err
		}
	}
	err := tx.Transfer(
		ledger.NewExternalAccountKey(ledger.HolderMint, r.erc20),
		ledger.NewExternalAccountKey(ledger.HolderIssuers, r.erc20),
		amount, ledger.JournalTypeMint)
	if err != nil {
		return IssueResult{}, err
	}

	change := NeededChange{Old: r.basketsNeeded, New: r.basketsNeeded.Add(baskets)}
	r.supply = r.supply.Add(amount)
	r.basketsNeeded = change.New
	return IssueResult{Amount: amount, Baskets: baskets, Needed: change, Tokens: deposits}, nil
}

// Redeem burns amount RToken and pays out the matching basket quantities,
// capped at the holder's prorata share of each BackingManager balance.
// Allowed while the basket is anything but DISABLED.
func (r *RToken) Redeem(tx *ledger.Tx, amount fpmath.Fix) (IssueResult, error) {
	if amount.IsZero() {
		return IssueResult{}, ErrZeroAmount
	}
	if amount.Gt(r.supply) {
		return IssueResult{}, fmt.Errorf("%w: %s > %s", ErrExceedsSupply, amount, r.supply)
	}
	if r.basket.Status() == collateral.StatusDisabled {
		return IssueResult{}, ErrBasketDisabled
	}

	baskets := r.basketsNeeded.MulDiv(amount, r.supply, fpmath.RoundDown)
	if baskets.IsZero() {
		return IssueResult{}, ErrNothingToRedeem
	}

	quote := r.basket.Quote(baskets, fpmath.RoundDown)
	paid := make([]basket.Amount, 0, len(quote))
	for _, q := range quote {
		bal := tx.BalanceOf(ledger.HolderBackingManager, q.Token)
		prorata := bal.MulDiv(amount, r.supply, fpmath.RoundDown)
		amt := fpmath.Min(q.Amount, prorata)
		err := tx.Transfer(
			ledger.NewProtocolAccountKey(ledger.HolderBackingManager, q.Token),
			ledger.NewExternalAccountKey(ledger.HolderIssuers, q.Token),
			amt, ledger.JournalTypeRedemption)
		if err != nil {
			return IssueResult{}, err
		}
		paid = append(paid, basket.Amount{Token: q.Token, Amount: amt})
	}
	err := tx.Transfer(
		ledger.NewExternalAccountKey(ledger.HolderIssuers, r.erc20),
		ledger.NewExternalAccountKey(ledger.HolderMint, r.erc20),
		amount, ledger.JournalTypeBurn)
	if err != nil {
		return IssueResult{}, err
	}

	change := NeededChange{Old: r.basketsNeeded, New: r.basketsNeeded.Sub(baskets)}
	r.supply = r.supply.Sub(amount)
	r.basketsNeeded = change.New
	return IssueResult{Amount: amount, Baskets: baskets, Needed: change, Tokens: paid}, nil
}

// MintBaskets mints the RToken worth `baskets` BUs to a protocol holder and
// raises basketsNeeded by the same BUs. Used by the BackingManager when it
// holds more BUs than it owes.
func (r *RToken) MintBaskets(tx *ledger.Tx, to ledger.Holder, baskets fpmath.Fix) (fpmath.Fix, NeededChange, error) {
	rTok := baskets
	if !r.basketsNeeded.IsZero() {
		rTok = baskets.MulDiv(r.supply, r.basketsNeeded, fpmath.RoundDown)
	}
	if rTok.IsZero() {
		return fpmath.Zero, NeededChange{Old: r.basketsNeeded, New: r.basketsNeeded}, nil
	}
	err := tx.Transfer(
		ledger.NewExternalAccountKey(ledger.HolderMint, r.erc20),
		ledger.NewProtocolAccountKey(to, r.erc20),
		rTok, ledger.JournalTypeMint)
	if err != nil {
		return fpmath.Zero, NeededChange{}, err
	}

	change := NeededChange{Old: r.basketsNeeded, New: r.basketsNeeded.Add(baskets)}
	r.supply = r.supply.Add(rTok)
	r.basketsNeeded = change.New
	return rTok, change, nil
}

// SetBasketsNeeded overwrites basketsNeeded (haircut).
func (r *RToken) SetBasketsNeeded(n fpmath.Fix) NeededChange {
	change := NeededChange{Old: r.basketsNeeded, New: n}
	r.basketsNeeded = n
	return change
}

func (r *RToken) Snapshot() State {
	return State{Supply: r.supply, BasketsNeeded: r.basketsNeeded}
}

func (r *RToken) Restore(s State) {
	r.supply = s.Supply
	r.basketsNeeded = s.BasketsNeeded
}
