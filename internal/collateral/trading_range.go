package collateral

import (
	fpmath "RTokenLedger/internal/math"
	"fmt"
)

// TradingRange bounds the size of a single trade. MinVal/MaxVal are in the
// unit of account, MinAmt/MaxAmt in whole tokens.
type TradingRange struct {
	MinVal fpmath.Fix `toml:"min_val" json:"min_val"`
	MaxVal fpmath.Fix `toml:"max_val" json:"max_val"`
	MinAmt fpmath.Fix `toml:"min_amt" json:"min_amt"`
	MaxAmt fpmath.Fix `toml:"max_amt" json:"max_amt"`
}

// Validate is the registration-time check.
func (r TradingRange) Validate() error {
	if r.MinVal.Gt(r.MaxVal) {
		return fmt.Errorf("%w: min_val %s > max_val %s", ErrInvalidConfig, r.MinVal, r.MaxVal)
	}
	if r.MinAmt.Gt(r.MaxAmt) {
		return fmt.Errorf("%w: min_amt %s > max_amt %s", ErrInvalidConfig, r.MinAmt, r.MaxAmt)
	}
	if r.MaxVal.IsZero() || r.MaxAmt.IsZero() {
		return fmt.Errorf("%w: trading range max must be > 0", ErrInvalidConfig)
	}
	return nil
}

// Sizes converts the range into whole-token bounds at price {UoA/tok}:
//
//	min = max(minAmt, minVal / price)   CEIL
//	max = min(maxAmt, maxVal / price)   FLOOR
//
// Both bounds fail together when they would come out inverted.
func (r TradingRange) Sizes(price fpmath.Fix) (min, max fpmath.Fix, err error) {
	if price.IsZero() {
		return fpmath.Zero, fpmath.Zero, ErrPriceOutsideRange
	}
	min = fpmath.Max(r.MinAmt, r.MinVal.Div(price, fpmath.RoundUp))
	max = fpmath.Min(r.MaxAmt, r.MaxVal.Div(price, fpmath.RoundDown))
	if min.Gt(max) {
		return fpmath.Zero, fpmath.Zero, fmt.Errorf("%w: min %s > max %s at price %s",
			ErrInvalidTradingRange, min, max, price)
	}
	return min, max, nil
}
