package core

import (
	"RTokenLedger/internal/collateral"
	"RTokenLedger/internal/ledger"
	fpmath "RTokenLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// BackingStatus is the live collateralization picture of the RToken.
type BackingStatus struct {
	Sequence            int64                       `json:"as_of_sequence"`
	BasketStatus        collateral.CollateralStatus `json:"basket_status"`
	BasketNonce         uint64                      `json:"basket_nonce"`
	BasketsNeeded       fpmath.Fix                  `json:"baskets_needed"`
	BasketsHeld         fpmath.Fix                  `json:"baskets_held"`
	Supply              fpmath.Fix                  `json:"supply"`
	FullyCollateralized bool                        `json:"fully_collateralized"`
	TradesOpen          map[string]int              `json:"trades_open"`
}

// CollateralView is the live default state of one collateral.
type CollateralView struct {
	Token       common.Address              `json:"token"`
	Symbol      string                      `json:"symbol"`
	TargetName  string                      `json:"target_name"`
	Status      collateral.CollateralStatus `json:"status"`
	WhenDefault int64                       `json:"when_default"`
	RefPerTok   fpmath.Fix                  `json:"ref_per_tok"`
}

// BackingStatus must run on the core goroutine (see Loop.Read).
func (c *DeterministicCore) BackingStatus() BackingStatus {
	p := c.protocol
	held := p.Basket.BasketsHeldBy(c.balanceTracker, ledger.HolderBackingManager)
	needed := p.RToken.BasketsNeeded()

	open := make(map[string]int, 3)
	for _, nt := range p.traders() {
		open[nt.name] = nt.t.TradesOpen()
	}

	return BackingStatus{
		Sequence:            c.sequence - 1,
		BasketStatus:        p.Basket.Status(),
		BasketNonce:         p.Basket.Nonce(),
		BasketsNeeded:       needed,
		BasketsHeld:         held,
		Supply:              p.RToken.Supply(),
		FullyCollateralized: held.Cmp(needed) >= 0,
		TradesOpen:          open,
	}
}

// Collaterals lists every registered collateral in registry order. Must run
// on the core goroutine.
func (c *DeterministicCore) Collaterals() []CollateralView {
	colls := c.protocol.Registry.Collaterals()
	out := make([]CollateralView, 0, len(colls))
	for _, coll := range colls {
		out = append(out, CollateralView{
			Token:       coll.ERC20(),
			Symbol:      coll.Symbol(),
			TargetName:  coll.TargetName(),
			Status:      coll.Status(),
			WhenDefault: coll.WhenDefault(),
			RefPerTok:   coll.RefPerTok(),
		})
	}
	return out
}
