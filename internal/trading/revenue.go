package trading

import (
	"RTokenLedger/internal/collateral"
	"RTokenLedger/internal/ledger"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// RevenueTrader sells whatever it is handed for a single token and passes
// that token on to the Distributor.
type RevenueTrader struct {
	Trading

	tokenToBuy  common.Address
	reg         *collateral.Registry
	distributor *Distributor
}

func NewRevenueTrader(
	owner ledger.Holder,
	tokenToBuy common.Address,
	reg *collateral.Registry,
	dist *Distributor,
	rules Rules,
) (*RevenueTrader, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	if !reg.IsRegistered(tokenToBuy) {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredToken, tokenToBuy.Hex())
	}
	return &RevenueTrader{
		Trading:     newTrading(owner, rules),
		tokenToBuy:  tokenToBuy,
		reg:         reg,
		distributor: dist,
	}, nil
}

func (rt *RevenueTrader) TokenToBuy() common.Address { return rt.tokenToBuy }

// ManageToken distributes the trader's balance of tokenToBuy, or opens a
// trade selling the whole balance of token for tokenToBuy.
func (rt *RevenueTrader) ManageToken(tx *ledger.Tx, token common.Address, tradeID uuid.UUID, now time.Time) (RevenueOutcome, error) {
	if !rt.reg.IsRegistered(token) {
		return RevenueOutcome{}, fmt.Errorf("%w: %s", ErrUnregisteredToken, token.Hex())
	}
	if _, ok := rt.TradeFor(token); ok {
		return RevenueOutcome{}, fmt.Errorf("%w: %s", ErrTradeOpen, token.Hex())
	}

	bal := tx.BalanceOf(rt.owner, token)

	if token == rt.tokenToBuy {
		if bal.IsZero() {
			return RevenueOutcome{}, nil
		}
		d, err := rt.distributor.Distribute(tx, token, rt.owner, bal)
		if err != nil {
			panic(fmt.Sprintf("FATAL: distribute %s from %s: %v", token.Hex(), rt.owner, err))
		}
		return RevenueOutcome{Kind: RevenueDistributed, Distributed: &d}, nil
	}

	var out RevenueOutcome
	for _, t := range []common.Address{token, rt.tokenToBuy} {
		sc, err := rt.reg.Refresh(t, now)
		if err != nil {
			panic(fmt.Sprintf("FATAL: refresh registered token %s: %v", t.Hex(), err))
		}
		if sc != nil {
			out.StatusChanges = append(out.StatusChanges, *sc)
		}
	}

	if bal.IsZero() {
		return out, nil
	}

	sell, _ := rt.reg.ToAsset(token)
	buy, _ := rt.reg.ToAsset(rt.tokenToBuy)
	sellPrice, err := sell.Price(now)
	if err != nil {
		out.Kind = RevenueUnpriced
		return out, nil
	}
	buyPrice, err := buy.Price(now)
	if err != nil {
		out.Kind = RevenueUnpriced
		return out, nil
	}

	req, ok := prepareTradeSell(tradeInfo{
		sell:       sell,
		buy:        buy,
		sellAmount: bal,
		sellPrice:  sellPrice,
		buyPrice:   buyPrice,
	}, rt.rules, now)
	if !ok {
		out.Kind = RevenueDust
		return out, nil
	}

	tr, err := rt.openTrade(tx, req, tradeID, now.Unix())
	if err != nil {
		panic(fmt.Sprintf("FATAL: open revenue trade: %v", err))
	}
	out.Kind = RevenueTradeStarted
	out.Trade = tr
	return out, nil
}

func (rt *RevenueTrader) Snapshot() TraderState {
	return TraderState{Trades: rt.OpenTrades(), Rules: rt.rules}
}

func (rt *RevenueTrader) Restore(s TraderState) error {
	if err := s.Rules.Validate(); err != nil {
		return err
	}
	rt.rules = s.Rules
	rt.restore(s.Trades)
	return nil
}
