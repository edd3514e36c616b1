package collateral

import (
	fpmath "RTokenLedger/internal/math"
	"RTokenLedger/internal/oracle"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Asset is anything the protocol can hold and trade. Only this package can
// implement it: refresh is reserved to the Registry, the single writer of
// asset state.
type Asset interface {
	ERC20() common.Address
	Symbol() string
	Decimals() uint8
	IsCollateral() bool

	// Price returns {UoA/tok}. Fails with ErrStalePrice or ErrPriceOutsideRange.
	Price(now time.Time) (fpmath.Fix, error)
	MinTradeSize(now time.Time) (fpmath.Fix, error)
	MaxTradeSize(now time.Time) (fpmath.Fix, error)

	refresh(now time.Time) *StatusChange
}

// Pricer computes an asset's {UoA/tok}.
type Pricer func(now time.Time) (fpmath.Fix, error)

// FeedPricer prices an asset straight from one {UoA/tok} feed.
func FeedPricer(o oracle.PriceOracleAdapter, feedID string, timeout time.Duration) Pricer {
	return func(now time.Time) (fpmath.Fix, error) {
		return readFeed(o, feedID, now, timeout)
	}
}

// AssetConfig describes a non-collateral asset (RSR, RToken, reward tokens).
type AssetConfig struct {
	ERC20        common.Address
	Symbol       string
	Decimals     uint8
	TradingRange TradingRange
}

// PlainAsset has a price and trade bounds but no default status.
type PlainAsset struct {
	erc20        common.Address
	symbol       string
	decimals     uint8
	tradingRange TradingRange
	price        Pricer
}

func NewPlainAsset(cfg AssetConfig, price Pricer) (*PlainAsset, error) {
	if cfg.ERC20 == (common.Address{}) {
		return nil, fmt.Errorf("%w: asset %q has zero address", ErrInvalidConfig, cfg.Symbol)
	}
	if price == nil {
		return nil, fmt.Errorf("%w: asset %q has no price source", ErrInvalidConfig, cfg.Symbol)
	}
	if err := cfg.TradingRange.Validate(); err != nil {
		return nil, fmt.Errorf("asset %q: %w", cfg.Symbol, err)
	}
	return &PlainAsset{
		erc20:        cfg.ERC20,
		symbol:       cfg.Symbol,
		decimals:     cfg.Decimals,
		tradingRange: cfg.TradingRange,
		price:        price,
	}, nil
}

func (a *PlainAsset) ERC20() common.Address { return a.erc20 }
func (a *PlainAsset) Symbol() string        { return a.symbol }
func (a *PlainAsset) Decimals() uint8       { return a.decimals }
func (a *PlainAsset) IsCollateral() bool    { return false }

func (a *PlainAsset) Price(now time.Time) (fpmath.Fix, error) {
	p, err := a.price(now)
	if err != nil {
		return fpmath.Zero, err
	}
	if p.IsZero() {
		return fpmath.Zero, fmt.Errorf("%w: %s", ErrPriceOutsideRange, a.symbol)
	}
	return p, nil
}

func (a *PlainAsset) MinTradeSize(now time.Time) (fpmath.Fix, error) {
	min, _, err := tradeSizes(a, a.tradingRange, now)
	return min, err
}

func (a *PlainAsset) MaxTradeSize(now time.Time) (fpmath.Fix, error) {
	_, max, err := tradeSizes(a, a.tradingRange, now)
	return max, err
}

func (a *PlainAsset) refresh(time.Time) *StatusChange { return nil }

func tradeSizes(a Asset, r TradingRange, now time.Time) (fpmath.Fix, fpmath.Fix, error) {
	price, err := a.Price(now)
	if err != nil {
		return fpmath.Zero, fpmath.Zero, err
	}
	return r.Sizes(price)
}
