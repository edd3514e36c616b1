package trading

import (
	"RTokenLedger/internal/ledger"
	fpmath "RTokenLedger/internal/math"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidDistribution = errors.New("distributor: invalid distribution")
	ErrNotRevenueToken     = errors.New("distributor: token is not RSR or RToken")
)

// Distribution is the revenue split, in shares.
type Distribution struct {
	RTokenDist uint64 `toml:"rtoken_dist" json:"rtoken_dist"`
	RSRDist    uint64 `toml:"rsr_dist" json:"rsr_dist"`
}

func (d Distribution) Validate() error {
	if d.RTokenDist == 0 && d.RSRDist == 0 {
		return fmt.Errorf("%w: rtoken_dist and rsr_dist are both zero", ErrInvalidDistribution)
	}
	return nil
}

// Distributed records one payout.
type Distributed struct {
	Token  common.Address
	From   ledger.Holder
	To     ledger.Holder
	Amount fpmath.Fix
}

// Distributor sends RSR revenue to StRSR and RToken revenue to the Furnace.
type Distributor struct {
	dist   Distribution
	rsr    common.Address
	rtoken common.Address
}

func NewDistributor(dist Distribution, rsr, rtoken common.Address) (*Distributor, error) {
	if err := dist.Validate(); err != nil {
		return nil, err
	}
	return &Distributor{dist: dist, rsr: rsr, rtoken: rtoken}, nil
}

// Totals returns the share totals for RToken and RSR revenue.
func (d *Distributor) Totals() (rTokenTotal, rsrTotal uint64) {
	return d.dist.RTokenDist, d.dist.RSRDist
}

func (d *Distributor) Distribution() Distribution { return d.dist }

// Distribute moves amount of token from a protocol holder to its revenue
// destination.
func (d *Distributor) Distribute(tx *ledger.Tx, token common.Address, from ledger.Holder, amount fpmath.Fix) (Distributed, error) {
	var to ledger.Holder
	switch token {
	case d.rsr:
		to = ledger.HolderStRSR
	case d.rtoken:
		to = ledger.HolderFurnace
	default:
		return Distributed{}, fmt.Errorf("%w: %s", ErrNotRevenueToken, token.Hex())
	}
	if err := tx.Move(from, to, token, amount, ledger.JournalTypeDistribution); err != nil {
		return Distributed{}, err
	}
	return Distributed{Token: token, From: from, To: to, Amount: amount}, nil
}
