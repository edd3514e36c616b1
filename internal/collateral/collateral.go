package collateral

import (
	fpmath "RTokenLedger/internal/math"
	"RTokenLedger/internal/oracle"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// CollateralConfig is everything fixed at registration.
type CollateralConfig struct {
	ERC20             common.Address
	Symbol            string
	Decimals          uint8
	TargetName        string
	TradingRange      TradingRange
	OracleTimeout     time.Duration
	DefaultThreshold  fpmath.Fix // fraction of the peg, e.g. 0.05
	DelayUntilDefault time.Duration
	Plugin            Plugin

	// Rates is set for exchange-rate wrappers (cTokens, aTokens). Without
	// it refPerTok is constant 1.
	Rates oracle.RateSource
}

// CollateralState is the mutable part of a Collateral, for snapshots.
type CollateralState struct {
	Status             CollateralStatus `json:"status"`
	WhenDefault        int64            `json:"when_default"`
	PrevReferencePrice fpmath.Fix       `json:"prev_reference_price"`
}

// Collateral is a backing asset with a default state machine.
type Collateral struct {
	erc20             common.Address
	symbol            string
	decimals          uint8
	targetName        string
	tradingRange      TradingRange
	oracleTimeout     time.Duration
	defaultThreshold  fpmath.Fix
	delayUntilDefault time.Duration
	plugin            Plugin
	oracle            oracle.PriceOracleAdapter
	rates             oracle.RateSource

	status             CollateralStatus
	whenDefault        int64 // unix seconds, Never when nothing is pending
	prevReferencePrice fpmath.Fix
}

func NewCollateral(cfg CollateralConfig, o oracle.PriceOracleAdapter) (*Collateral, error) {
	if cfg.ERC20 == (common.Address{}) {
		return nil, fmt.Errorf("%w: collateral %q has zero address", ErrInvalidConfig, cfg.Symbol)
	}
	if cfg.TargetName == "" {
		return nil, fmt.Errorf("%w: collateral %q has no target name", ErrInvalidConfig, cfg.Symbol)
	}
	if cfg.Plugin == nil || o == nil {
		return nil, fmt.Errorf("%w: collateral %q needs a plugin and an oracle", ErrInvalidConfig, cfg.Symbol)
	}
	if err := cfg.Plugin.Validate(); err != nil {
		return nil, err
	}
	if cfg.OracleTimeout <= 0 {
		return nil, fmt.Errorf("%w: collateral %q oracle timeout must be > 0", ErrInvalidConfig, cfg.Symbol)
	}
	if cfg.Plugin.PegChecked() {
		if cfg.DefaultThreshold.IsZero() || cfg.DefaultThreshold.Gte(fpmath.One) {
			return nil, fmt.Errorf("%w: collateral %q default threshold %s not in (0, 1)",
				ErrInvalidConfig, cfg.Symbol, cfg.DefaultThreshold)
		}
	}
	if cfg.DelayUntilDefault <= 0 {
		return nil, fmt.Errorf("%w: collateral %q delay until default must be > 0", ErrInvalidConfig, cfg.Symbol)
	}
	if err := cfg.TradingRange.Validate(); err != nil {
		return nil, fmt.Errorf("collateral %q: %w", cfg.Symbol, err)
	}

	c := &Collateral{
		erc20:              cfg.ERC20,
		symbol:             cfg.Symbol,
		decimals:           cfg.Decimals,
		targetName:         cfg.TargetName,
		tradingRange:       cfg.TradingRange,
		oracleTimeout:      cfg.OracleTimeout,
		defaultThreshold:   cfg.DefaultThreshold,
		delayUntilDefault:  cfg.DelayUntilDefault,
		plugin:             cfg.Plugin,
		oracle:             o,
		rates:              cfg.Rates,
		status:             StatusSound,
		whenDefault:        Never,
		prevReferencePrice: fpmath.One,
	}
	if c.rates != nil {
		// Unknown until the first rate arrives; Price fails until then.
		c.prevReferencePrice = fpmath.Zero
		if r, err := c.rates.RefPerTok(c.erc20); err == nil {
			c.prevReferencePrice = r
		}
	}
	return c, nil
}

func (c *Collateral) ERC20() common.Address { return c.erc20 }
func (c *Collateral) Symbol() string        { return c.symbol }
func (c *Collateral) Decimals() uint8       { return c.decimals }
func (c *Collateral) IsCollateral() bool    { return true }
func (c *Collateral) TargetName() string    { return c.targetName }
func (c *Collateral) PluginKind() string    { return c.plugin.Kind() }

// Status is the status as of the last refresh.
func (c *Collateral) Status() CollateralStatus { return c.status }

// WhenDefault is the unix time at which an IFFY collateral becomes DISABLED.
func (c *Collateral) WhenDefault() int64 { return c.whenDefault }

// RefPerTok is the exchange rate observed by the last refresh.
func (c *Collateral) RefPerTok() fpmath.Fix { return c.prevReferencePrice }

// Price = refPerTok * targetPerRef * pricePerTarget, with refPerTok taken
// from the last refresh.
func (c *Collateral) Price(now time.Time) (fpmath.Fix, error) {
	tpr, ppt, err := c.plugin.Observe(c.oracle, now, c.oracleTimeout)
	if err != nil {
		return fpmath.Zero, err
	}
	p := c.prevReferencePrice.Mul(tpr, fpmath.RoundDown).Mul(ppt, fpmath.RoundDown)
	if p.IsZero() {
		return fpmath.Zero, fmt.Errorf("%w: %s price is zero", ErrPriceOutsideRange, c.symbol)
	}
	return p, nil
}

func (c *Collateral) MinTradeSize(now time.Time) (fpmath.Fix, error) {
	min, _, err := tradeSizes(c, c.tradingRange, now)
	return min, err
}

func (c *Collateral) MaxTradeSize(now time.Time) (fpmath.Fix, error) {
	_, max, err := tradeSizes(c, c.tradingRange, now)
	return max, err
}

// refresh runs the default state machine. It never fails: oracle errors
// become UNPRICED. A pending default whose deadline has passed is final
// before anything is observed, so a late re-peg cannot rescue it. It
// returns a change only when the status moved.
func (c *Collateral) refresh(now time.Time) *StatusChange {
	if c.status == StatusDisabled {
		return nil
	}
	old := c.status
	next, when := StatusDisabled, c.whenDefault
	if when == Never || now.Unix() < when {
		next, when = c.observe(now)
		if next == StatusIffy && now.Unix() >= when {
			next = StatusDisabled
		}
	}

	c.whenDefault = when
	if next == old {
		return nil
	}
	if !old.CanTransitionTo(next) {
		panic(fmt.Sprintf("FATAL: collateral %s transition %s -> %s", c.symbol, old, next))
	}
	c.status = next
	return &StatusChange{
		Token:       c.erc20,
		TargetName:  c.targetName,
		Old:         old,
		New:         next,
		WhenDefault: c.whenDefault,
	}
}

// observe reads the rate and the oracle and returns the candidate status
// and whenDefault. It updates prevReferencePrice.
func (c *Collateral) observe(now time.Time) (CollateralStatus, int64) {
	refPerTok := fpmath.One
	if c.rates != nil {
		r, err := c.rates.RefPerTok(c.erc20)
		if err != nil || (r.IsZero() && c.prevReferencePrice.IsZero()) {
			return StatusUnpriced, c.whenDefault
		}
		refPerTok = r
	}

	// Hard default: the exchange rate went down, to zero included.
	if refPerTok.Lt(c.prevReferencePrice) {
		c.prevReferencePrice = refPerTok
		return StatusDisabled, min(c.whenDefault, now.Unix())
	}
	c.prevReferencePrice = refPerTok

	tpr, _, err := c.plugin.Observe(c.oracle, now, c.oracleTimeout)
	if err != nil {
		return StatusUnpriced, c.whenDefault
	}

	if c.plugin.PegChecked() && c.offPeg(tpr) {
		return StatusIffy, min(c.whenDefault, now.Add(c.delayUntilDefault).Unix())
	}
	return StatusSound, Never
}

// offPeg reports |targetPerRef - 1| > defaultThreshold. The peg of every
// plugin is one target per reference.
func (c *Collateral) offPeg(targetPerRef fpmath.Fix) bool {
	delta := fpmath.One.Mul(c.defaultThreshold, fpmath.RoundDown)
	return fpmath.AbsDiff(targetPerRef, fpmath.One).Gt(delta)
}

// State returns the mutable state for snapshots.
func (c *Collateral) State() CollateralState {
	return CollateralState{
		Status:             c.status,
		WhenDefault:        c.whenDefault,
		PrevReferencePrice: c.prevReferencePrice,
	}
}

func (c *Collateral) restore(s CollateralState) {
	c.status = s.Status
	c.whenDefault = s.WhenDefault
	c.prevReferencePrice = s.PrevReferencePrice
}
