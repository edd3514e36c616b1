package ledger

import (
	fpmath "RTokenLedger/internal/math"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInsufficientBalance = errors.New("ledger: insufficient balance")

// Tx stages transfers on top of a BalanceTracker without touching it. Reads
// through a Tx see the staged transfers. The core turns the staged entries
// into a Batch and applies it, or drops the Tx to roll back.
type Tx struct {
	base     *BalanceTracker
	delta    map[AccountKey]*big.Int
	journals []Journal
}

// Begin opens a staging transaction.
func (bt *BalanceTracker) Begin() *Tx {
	return &Tx{
		base:  bt,
		delta: make(map[AccountKey]*big.Int),
	}
}

// Balance returns the signed raw balance including staged transfers.
func (tx *Tx) Balance(key AccountKey) *big.Int {
	b := tx.base.GetBalance(key)
	if d, ok := tx.delta[key]; ok {
		b.Add(b, d)
	}
	return b
}

// BalanceOf returns a protocol holder's balance including staged transfers.
func (tx *Tx) BalanceOf(holder Holder, token common.Address) fpmath.Fix {
	return toFix(tx.Balance(NewProtocolAccountKey(holder, token)))
}

// Transfer stages a movement of amount from one account to another. Protocol
// accounts may not go negative; external accounts may.
func (tx *Tx) Transfer(from, to AccountKey, amount fpmath.Fix, jt JournalType) error {
	if amount.IsZero() {
		return nil
	}
	if from.Token != to.Token {
		return fmt.Errorf("ledger: transfer between %s and %s", from.AccountPath(), to.AccountPath())
	}
	if from == to {
		return fmt.Errorf("ledger: self transfer on %s", from.AccountPath())
	}

	raw := amount.BigInt()
	if from.Scope == AccountScopeProtocol {
		if bal := tx.Balance(from); bal.Cmp(raw) < 0 {
			return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance,
				from.AccountPath(), toFix(bal), amount)
		}
	}

	tx.shift(from, new(big.Int).Neg(raw))
	tx.shift(to, raw)
	tx.journals = append(tx.journals, Journal{
		DebitAccount:  to,
		CreditAccount: from,
		Token:         from.Token,
		Amount:        amount,
		JournalType:   jt,
	})
	return nil
}

// Move stages a transfer between two protocol holders.
func (tx *Tx) Move(from, to Holder, token common.Address, amount fpmath.Fix, jt JournalType) error {
	return tx.Transfer(NewProtocolAccountKey(from, token), NewProtocolAccountKey(to, token), amount, jt)
}

func (tx *Tx) shift(key AccountKey, delta *big.Int) {
	d, ok := tx.delta[key]
	if !ok {
		d = new(big.Int)
		tx.delta[key] = d
	}
	d.Add(d, delta)
}

// Entries returns the staged journals in the order they were recorded.
// IDs, sequence and timestamp are filled in by the JournalGenerator.
func (tx *Tx) Entries() []Journal {
	out := make([]Journal, len(tx.journals))
	copy(out, tx.journals)
	return out
}

// Empty reports whether nothing was staged.
func (tx *Tx) Empty() bool {
	return len(tx.journals) == 0
}
