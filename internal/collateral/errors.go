package collateral

import "errors"

var (
	// Price errors. Price and trade sizing return these; refresh absorbs
	// them into UNPRICED.
	ErrStalePrice        = errors.New("collateral: stale price")
	ErrPriceOutsideRange = errors.New("collateral: price outside range")

	ErrInvalidTradingRange = errors.New("collateral: invalid trading range")
	ErrInvalidConfig       = errors.New("collateral: invalid config")

	ErrUnregisteredToken = errors.New("collateral: unregistered token")
	ErrAlreadyRegistered = errors.New("collateral: token already registered")
	ErrNotCollateral     = errors.New("collateral: asset is not collateral")
)
