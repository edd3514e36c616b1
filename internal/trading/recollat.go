package trading

import (
	"RTokenLedger/internal/collateral"
	"RTokenLedger/internal/ledger"
	fpmath "RTokenLedger/internal/math"
	"time"
)

// basketRange bounds the BUs the BackingManager can reach by trading:
// top assumes perfect trades, bottom assumes max slippage.
type basketRange struct {
	top    fpmath.Fix
	bottom fpmath.Fix
}

type candidate struct {
	asset    collateral.Asset
	amount   fpmath.Fix
	value    fpmath.Fix // {UoA}
	price    fpmath.Fix
	disabled bool
}

// basketRange computes
//
//	top    = min(basketsNeeded, assetsValue / basketPrice)     FLOOR
//	bottom = max(basketsHeld, top * (1 - maxTradeSlippage))   FLOOR
//
// Unpriced assets count as zero. The RToken itself is not backing.
func (bm *BackingManager) basketRange(tx *ledger.Tx, held fpmath.Fix, now time.Time) (basketRange, bool) {
	bp, err := bm.basket.Price(now)
	if err != nil || bp.IsZero() {
		return basketRange{}, false
	}

	assetsValue := fpmath.Zero
	for _, token := range bm.reg.ERC20s() {
		if token == bm.rtoken.ERC20() {
			continue
		}
		bal := tx.BalanceOf(bm.owner, token)
		if bal.IsZero() {
			continue
		}
		a, _ := bm.reg.ToAsset(token)
		price, err := a.Price(now)
		if err != nil {
			continue
		}
		assetsValue = assetsValue.Add(bal.Mul(price, fpmath.RoundDown))
	}

	top := fpmath.Min(bm.rtoken.BasketsNeeded(), assetsValue.Div(bp, fpmath.RoundDown))
	bottom := fpmath.Max(held, top.Mul(fpmath.One.Sub(bm.rules.MaxTradeSlippage), fpmath.RoundDown))
	return basketRange{top: top, bottom: bottom}, true
}

// nextTradePair finds the largest surplus above top (DISABLED collateral
// first) and the largest deficit below bottom, both by value. RSR and the
// RToken never count as surplus. Either result may be nil.
func (bm *BackingManager) nextTradePair(tx *ledger.Tx, rng basketRange, now time.Time) (surplus, deficit *candidate) {
	for _, token := range bm.reg.ERC20s() {
		if token == bm.rsr || token == bm.rtoken.ERC20() {
			continue
		}
		a, _ := bm.reg.ToAsset(token)
		bal := tx.BalanceOf(bm.owner, token)
		q := bm.basket.Quantity(token)

		if needTop := rng.top.Mul(q, fpmath.RoundUp); bal.Gt(needTop) {
			price, err := a.Price(now)
			if err != nil {
				continue
			}
			amt := bal.Sub(needTop)
			if !bm.enoughToSell(a, amt, price, now) {
				continue
			}
			c := &candidate{
				asset:    a,
				amount:   amt,
				value:    amt.Mul(price, fpmath.RoundDown),
				price:    price,
				disabled: isDisabled(a),
			}
			if surplus == nil ||
				(c.disabled && !surplus.disabled) ||
				(c.disabled == surplus.disabled && c.value.Gt(surplus.value)) {
				surplus = c
			}
			continue
		}

		needBottom := rng.bottom.Mul(q, fpmath.RoundUp)
		if bal.Lt(needBottom) {
			price, err := a.Price(now)
			if err != nil {
				continue
			}
			amt := needBottom.Sub(bal)
			c := &candidate{asset: a, amount: amt, value: amt.Mul(price, fpmath.RoundUp), price: price}
			if deficit == nil || c.value.Gt(deficit.value) {
				deficit = c
			}
		}
	}
	return surplus, deficit
}

// prepareRecollateralizationTrade picks the single next trade. Falls back
// to selling RSR into the deficit.
func (bm *BackingManager) prepareRecollateralizationTrade(tx *ledger.Tx, held fpmath.Fix, now time.Time) (TradeRequest, bool) {
	rng, ok := bm.basketRange(tx, held, now)
	if !ok {
		return TradeRequest{}, false
	}
	surplus, deficit := bm.nextTradePair(tx, rng, now)
	if deficit == nil {
		return TradeRequest{}, false
	}

	if surplus != nil {
		req, ok := prepareTradeToCoverDeficit(tradeInfo{
			sell:       surplus.asset,
			buy:        deficit.asset,
			sellAmount: surplus.amount,
			buyAmount:  deficit.amount,
			sellPrice:  surplus.price,
			buyPrice:   deficit.price,
		}, bm.rules, now)
		if ok {
			return req, true
		}
	}

	rsrBal := tx.BalanceOf(bm.owner, bm.rsr)
	if rsrBal.IsZero() {
		return TradeRequest{}, false
	}
	rsrAsset, err := bm.reg.ToAsset(bm.rsr)
	if err != nil {
		return TradeRequest{}, false
	}
	rsrPrice, err := rsrAsset.Price(now)
	if err != nil {
		return TradeRequest{}, false
	}
	return prepareTradeToCoverDeficit(tradeInfo{
		sell:       rsrAsset,
		buy:        deficit.asset,
		sellAmount: rsrBal,
		buyAmount:  deficit.amount,
		sellPrice:  rsrPrice,
		buyPrice:   deficit.price,
	}, bm.rules, now)
}

// enoughToSell is the dust check: amt >= max(minTradeSize, minTradeVolume / price).
func (bm *BackingManager) enoughToSell(a collateral.Asset, amt, price fpmath.Fix, now time.Time) bool {
	min, err := a.MinTradeSize(now)
	if err != nil {
		return false
	}
	min = fpmath.Max(min, bm.rules.MinTradeVolume.Div(price, fpmath.RoundUp))
	return amt.Gte(min)
}

func isDisabled(a collateral.Asset) bool {
	c, ok := a.(*collateral.Collateral)
	return ok && c.Status() == collateral.StatusDisabled
}
