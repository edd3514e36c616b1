package ledger

import (
	"fmt"
	"sort"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateProtocolNonNegative checks every protocol account touched by batch
// is still >= 0 after it was applied.
func (v *InvariantValidator) ValidateProtocolNonNegative(batch *Batch) error {
	for _, j := range batch.Journals {
		for _, key := range []AccountKey{j.DebitAccount, j.CreditAccount} {
			if key.Scope != AccountScopeProtocol {
				continue
			}
			if err := v.tracker.ValidateNonNegative(key); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateGlobalBalance verifies the ledger is zero-sum per token
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	tokens := make([]string, 0, len(totals))
	for token, total := range totals {
		if total.Sign() != 0 {
			tokens = append(tokens, fmt.Sprintf("%s=%s", token.Hex(), total))
		}
	}
	if len(tokens) > 0 {
		sort.Strings(tokens)
		return fmt.Errorf("global balance is non-zero: %v", tokens)
	}

	return nil
}
