package ledger

import (
	fpmath "RTokenLedger/internal/math"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BalanceReader reads protocol balances. Implemented by BalanceTracker and Tx.
type BalanceReader interface {
	BalanceOf(holder Holder, token common.Address) fpmath.Fix
}

var (
	_ BalanceReader = (*BalanceTracker)(nil)
	_ BalanceReader = (*Tx)(nil)
)

// BalanceTracker maintains in-memory account balances. Balances are signed
// 18-decimal integers: external accounts go negative as value enters the
// protocol, so every token sums to zero.
type BalanceTracker struct {
	balances map[AccountKey]*big.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*big.Int),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	amount := j.Amount.BigInt()
	bt.add(j.DebitAccount, amount)
	bt.add(j.CreditAccount, new(big.Int).Neg(amount))
}

func (bt *BalanceTracker) add(key AccountKey, delta *big.Int) {
	cur, ok := bt.balances[key]
	if !ok {
		cur = new(big.Int)
		bt.balances[key] = cur
	}
	cur.Add(cur, delta)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns a copy of the signed raw balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *big.Int {
	if b, ok := bt.balances[key]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// SetBalance overwrites a balance (snapshot restore only)
func (bt *BalanceTracker) SetBalance(key AccountKey, balance *big.Int) {
	bt.balances[key] = new(big.Int).Set(balance)
}

// BalanceOf returns a protocol holder's balance of token in whole tokens.
// Negative balances never exist for protocol accounts; they read as zero.
func (bt *BalanceTracker) BalanceOf(holder Holder, token common.Address) fpmath.Fix {
	return toFix(bt.GetBalance(NewProtocolAccountKey(holder, token)))
}

// === Invariant Checks ===

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance.Sign() < 0 {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances per token (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[common.Address]*big.Int {
	totals := make(map[common.Address]*big.Int)

	for key, balance := range bt.balances {
		t, ok := totals[key.Token]
		if !ok {
			t = new(big.Int)
			totals[key.Token] = t
		}
		t.Add(t, balance)
	}

	return totals
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]*big.Int {
	snapshot := make(map[AccountKey]*big.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = new(big.Int).Set(v)
	}
	return snapshot
}

// Keys returns every account that has ever been touched.
func (bt *BalanceTracker) Keys() []AccountKey {
	keys := make([]AccountKey, 0, len(bt.balances))
	for k := range bt.balances {
		keys = append(keys, k)
	}
	return keys
}

func toFix(raw *big.Int) fpmath.Fix {
	if raw.Sign() <= 0 {
		return fpmath.Zero
	}
	v, overflow := uint256.FromBig(raw)
	if overflow {
		panic(fpmath.ErrOverflow)
	}
	return fpmath.FromRaw(v)
}
