package trading

import (
	"RTokenLedger/internal/collateral"
	fpmath "RTokenLedger/internal/math"
	"time"
)

// tradeInfo is a candidate trade before sizing.
type tradeInfo struct {
	sell       collateral.Asset
	buy        collateral.Asset
	sellAmount fpmath.Fix // most the trader is willing to sell
	buyAmount  fpmath.Fix // deficit to cover; zero when selling outright
	sellPrice  fpmath.Fix
	buyPrice   fpmath.Fix
}

// prepareTradeSell sizes a sale of up to ti.sellAmount. It returns false
// for dust and for anything it cannot size from current prices.
func prepareTradeSell(ti tradeInfo, rules Rules, now time.Time) (TradeRequest, bool) {
	if ti.sellPrice.IsZero() || ti.buyPrice.IsZero() {
		return TradeRequest{}, false
	}
	minSell, err := ti.sell.MinTradeSize(now)
	if err != nil {
		return TradeRequest{}, false
	}
	minSell = fpmath.Max(minSell, rules.MinTradeVolume.Div(ti.sellPrice, fpmath.RoundUp))
	if ti.sellAmount.Lt(minSell) {
		return TradeRequest{}, false
	}

	maxSell, err := ti.sell.MaxTradeSize(now)
	if err != nil {
		return TradeRequest{}, false
	}
	maxBuy, err := ti.buy.MaxTradeSize(now)
	if err != nil {
		return TradeRequest{}, false
	}
	maxBuyInSell := maxBuy.MulDiv(ti.buyPrice, ti.sellPrice, fpmath.RoundDown)
	s := fpmath.Min(ti.sellAmount, fpmath.Min(maxSell, maxBuyInSell))

	s = fpmath.FromQuanta(s.ToQuanta(ti.sell.Decimals(), fpmath.RoundDown), ti.sell.Decimals())
	if s.IsZero() {
		return TradeRequest{}, false
	}

	minBuy := s.Mul(fpmath.One.Sub(rules.MaxTradeSlippage), fpmath.RoundUp).
		MulDiv(ti.sellPrice, ti.buyPrice, fpmath.RoundUp)
	if c, ok := ti.sell.(*collateral.Collateral); ok && c.Status() == collateral.StatusDisabled {
		minBuy = fpmath.Zero
	}
	minBuy = ceilToQuanta(minBuy, ti.buy.Decimals())

	return TradeRequest{
		Sell:         ti.sell.ERC20(),
		Buy:          ti.buy.ERC20(),
		SellAmount:   s,
		MinBuyAmount: minBuy,
	}, true
}

// prepareTradeToCoverDeficit sells just enough, after slippage, to buy
// ti.buyAmount, capped at ti.sellAmount.
func prepareTradeToCoverDeficit(ti tradeInfo, rules Rules, now time.Time) (TradeRequest, bool) {
	if ti.sellPrice.IsZero() || ti.buyPrice.IsZero() {
		return TradeRequest{}, false
	}
	exactSell := ti.buyAmount.MulDiv(ti.buyPrice, ti.sellPrice, fpmath.RoundUp)
	slipped := exactSell.Div(fpmath.One.Sub(rules.MaxTradeSlippage), fpmath.RoundUp)
	ti.sellAmount = fpmath.Min(slipped, ti.sellAmount)
	return prepareTradeSell(ti, rules, now)
}

func ceilToQuanta(v fpmath.Fix, decimals uint8) fpmath.Fix {
	if decimals >= fpmath.Decimals {
		return v
	}
	return fpmath.FromQuanta(v.ToQuanta(decimals, fpmath.RoundUp), decimals)
}
