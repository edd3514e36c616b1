package collateral

import (
	fpmath "RTokenLedger/internal/math"
	"RTokenLedger/internal/oracle"
	"errors"
	"fmt"
	"time"
)

// Plugin observes a collateral's {target/ref} and {UoA/target} from the
// oracle. Implementations are chosen when the collateral is constructed.
type Plugin interface {
	Kind() string
	Observe(o oracle.PriceOracleAdapter, now time.Time, timeout time.Duration) (targetPerRef, pricePerTarget fpmath.Fix, err error)
	// PegChecked is false for collateral whose reference is its own target.
	PegChecked() bool
	Validate() error
}

// Plugin kinds as they appear in deployment config.
const (
	KindFiat            = "fiat"
	KindNonFiat         = "nonfiat"
	KindEURFiat         = "eurfiat"
	KindSelfReferential = "selfreferential"
)

// NewPlugin builds a plugin from its config kind and feed IDs.
func NewPlugin(kind string, feeds []string) (Plugin, error) {
	var p Plugin
	switch kind {
	case KindFiat:
		if err := feedCount(kind, feeds, 1); err != nil {
			return nil, err
		}
		p = &FiatPlugin{Feed: feeds[0]}
	case KindSelfReferential:
		if err := feedCount(kind, feeds, 1); err != nil {
			return nil, err
		}
		p = &SelfReferentialPlugin{Feed: feeds[0]}
	case KindNonFiat:
		if err := feedCount(kind, feeds, 2); err != nil {
			return nil, err
		}
		p = &NonFiatPlugin{RefTargetFeed: feeds[0], TargetUoAFeed: feeds[1]}
	case KindEURFiat:
		if err := feedCount(kind, feeds, 2); err != nil {
			return nil, err
		}
		p = &EURFiatPlugin{RefUoAFeed: feeds[0], TargetUoAFeed: feeds[1]}
	default:
		return nil, fmt.Errorf("%w: unknown plugin kind %q", ErrInvalidConfig, kind)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func feedCount(kind string, feeds []string, want int) error {
	if len(feeds) != want {
		return fmt.Errorf("%w: %s plugin takes %d feed(s), got %d", ErrInvalidConfig, kind, want, len(feeds))
	}
	return nil
}

// readFeed maps oracle failures onto the collateral price errors.
func readFeed(o oracle.PriceOracleAdapter, feedID string, now time.Time, timeout time.Duration) (fpmath.Fix, error) {
	p, ts, err := o.GetPrice(feedID)
	if err != nil {
		if errors.Is(err, oracle.ErrStale) {
			return fpmath.Zero, fmt.Errorf("%w: %v", ErrStalePrice, err)
		}
		return fpmath.Zero, fmt.Errorf("%w: %v", ErrPriceOutsideRange, err)
	}
	if now.Sub(ts) > timeout {
		return fpmath.Zero, fmt.Errorf("%w: feed %s last updated %s", ErrStalePrice, feedID, ts.UTC().Format(time.RFC3339))
	}
	if p.IsZero() {
		return fpmath.Zero, fmt.Errorf("%w: feed %s is zero", ErrPriceOutsideRange, feedID)
	}
	return p, nil
}

func requireFeed(kind, feedID string) error {
	if feedID == "" {
		return fmt.Errorf("%w: %s plugin missing feed id", ErrInvalidConfig, kind)
	}
	return nil
}

// FiatPlugin: reference pegged to a fiat target that is also the unit of
// account (USDC/USD). The single feed is {UoA/ref}, read as {target/ref}.
type FiatPlugin struct {
	Feed string
}

func (p *FiatPlugin) Kind() string     { return KindFiat }
func (p *FiatPlugin) PegChecked() bool { return true }
func (p *FiatPlugin) Validate() error  { return requireFeed(KindFiat, p.Feed) }

func (p *FiatPlugin) Observe(o oracle.PriceOracleAdapter, now time.Time, timeout time.Duration) (fpmath.Fix, fpmath.Fix, error) {
	v, err := readFeed(o, p.Feed, now, timeout)
	if err != nil {
		return fpmath.Zero, fpmath.Zero, err
	}
	return v, fpmath.One, nil
}

// NonFiatPlugin: reference tracks a non-UoA target (WBTC/BTC). Feeds are
// {target/ref} and {UoA/target}.
type NonFiatPlugin struct {
	RefTargetFeed string
	TargetUoAFeed string
}

func (p *NonFiatPlugin) Kind() string     { return KindNonFiat }
func (p *NonFiatPlugin) PegChecked() bool { return true }

func (p *NonFiatPlugin) Validate() error {
	if err := requireFeed(KindNonFiat, p.RefTargetFeed); err != nil {
		return err
	}
	return requireFeed(KindNonFiat, p.TargetUoAFeed)
}

func (p *NonFiatPlugin) Observe(o oracle.PriceOracleAdapter, now time.Time, timeout time.Duration) (fpmath.Fix, fpmath.Fix, error) {
	tpr, err := readFeed(o, p.RefTargetFeed, now, timeout)
	if err != nil {
		return fpmath.Zero, fpmath.Zero, err
	}
	ppt, err := readFeed(o, p.TargetUoAFeed, now, timeout)
	if err != nil {
		return fpmath.Zero, fpmath.Zero, err
	}
	return tpr, ppt, nil
}

// EURFiatPlugin: fiat reference for a non-UoA fiat target (EURT/EUR).
// Feeds are {UoA/ref} and {UoA/target}; {target/ref} is their ratio.
type EURFiatPlugin struct {
	RefUoAFeed    string
	TargetUoAFeed string
}

func (p *EURFiatPlugin) Kind() string     { return KindEURFiat }
func (p *EURFiatPlugin) PegChecked() bool { return true }

func (p *EURFiatPlugin) Validate() error {
	if err := requireFeed(KindEURFiat, p.RefUoAFeed); err != nil {
		return err
	}
	return requireFeed(KindEURFiat, p.TargetUoAFeed)
}

func (p *EURFiatPlugin) Observe(o oracle.PriceOracleAdapter, now time.Time, timeout time.Duration) (fpmath.Fix, fpmath.Fix, error) {
	refUoA, err := readFeed(o, p.RefUoAFeed, now, timeout)
	if err != nil {
		return fpmath.Zero, fpmath.Zero, err
	}
	targetUoA, err := readFeed(o, p.TargetUoAFeed, now, timeout)
	if err != nil {
		return fpmath.Zero, fpmath.Zero, err
	}
	return refUoA.Div(targetUoA, fpmath.RoundDown), targetUoA, nil
}

// SelfReferentialPlugin: the reference is the target (WETH/ETH). It cannot
// depeg from itself, so it only ever soft-defaults through UNPRICED.
type SelfReferentialPlugin struct {
	Feed string
}

func (p *SelfReferentialPlugin) Kind() string     { return KindSelfReferential }
func (p *SelfReferentialPlugin) PegChecked() bool { return false }
func (p *SelfReferentialPlugin) Validate() error  { return requireFeed(KindSelfReferential, p.Feed) }

func (p *SelfReferentialPlugin) Observe(o oracle.PriceOracleAdapter, now time.Time, timeout time.Duration) (fpmath.Fix, fpmath.Fix, error) {
	v, err := readFeed(o, p.Feed, now, timeout)
	if err != nil {
		return fpmath.Zero, fpmath.Zero, err
	}
	return fpmath.One, v, nil
}
