package oracle

import (
	fpmath "RTokenLedger/internal/math"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// RateBook holds the latest exchange rate {ref/tok} reported for each
// wrapper token. Rates are taken as reported; a drop is a hard default
// that the collateral detects, so the book never filters them.
type RateBook struct {
	rates map[common.Address]fpmath.Fix
}

func NewRateBook() *RateBook {
	return &RateBook{rates: make(map[common.Address]fpmath.Fix)}
}

func (rb *RateBook) Set(token common.Address, refPerTok fpmath.Fix) {
	rb.rates[token] = refPerTok
}

// RefPerTok implements RateSource.
func (rb *RateBook) RefPerTok(token common.Address) (fpmath.Fix, error) {
	r, ok := rb.rates[token]
	if !ok {
		return fpmath.Zero, fmt.Errorf("%w: no exchange rate for %s", ErrInvalid, token.Hex())
	}
	return r, nil
}

func (rb *RateBook) Snapshot() map[common.Address]fpmath.Fix {
	out := make(map[common.Address]fpmath.Fix, len(rb.rates))
	for k, v := range rb.rates {
		out[k] = v
	}
	return out
}

func (rb *RateBook) Restore(rates map[common.Address]fpmath.Fix) {
	rb.rates = make(map[common.Address]fpmath.Fix, len(rates))
	for k, v := range rates {
		rb.rates[k] = v
	}
}
