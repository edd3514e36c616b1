package collateral_test

import (
	"RTokenLedger/internal/collateral"
	fpmath "RTokenLedger/internal/math"
	"RTokenLedger/internal/oracle"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Unix(1_700_000_000, 0)

	usdc  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	cusdc = common.HexToAddress("0x39AA39c021dfbaE8faC545936693aC917d5E7563")
	wbtc  = common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599")
	weth  = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	rsr   = common.HexToAddress("0x320623b8E4fF03373931769A31Fc52A4E78B5d70")
)

func fix(s string) fpmath.Fix { return fpmath.MustParse(s) }

func setFeed(fb *oracle.FeedBook, feed, price string, at time.Time) {
	fb.Update(feed, oracle.FeedPrice{Price: fix(price), Timestamp: at.Unix()})
}

func wideRange() collateral.TradingRange {
	return collateral.TradingRange{
		MinVal: fix("1"), MaxVal: fix("1000000"),
		MinAmt: fix("0"), MaxAmt: fix("1000000000"),
	}
}

func newFiat(t *testing.T, fb *oracle.FeedBook, token common.Address, rates oracle.RateSource) *collateral.Collateral {
	t.Helper()
	c, err := collateral.NewCollateral(collateral.CollateralConfig{
		ERC20:             token,
		Symbol:            "USDC",
		Decimals:          6,
		TargetName:        "USD",
		TradingRange:      wideRange(),
		OracleTimeout:     time.Hour,
		DefaultThreshold:  fix("0.05"),
		DelayUntilDefault: 24 * time.Hour,
		Plugin:            &collateral.FiatPlugin{Feed: "USDC/USD"},
		Rates:             rates,
	}, fb)
	require.NoError(t, err)
	return c
}

func registryWith(t *testing.T, assets ...collateral.Asset) *collateral.Registry {
	t.Helper()
	reg := collateral.NewRegistry()
	for _, a := range assets {
		require.NoError(t, reg.Register(a))
	}
	return reg
}

// ============================================================================
// Status ordering
// ============================================================================

func TestStatus_WorstWins(t *testing.T) {
	t.Parallel()

	require.Equal(t, collateral.StatusSound, collateral.Worst())
	require.Equal(t, collateral.StatusIffy, collateral.Worst(collateral.StatusSound, collateral.StatusIffy))
	require.Equal(t, collateral.StatusUnpriced, collateral.Worst(collateral.StatusUnpriced, collateral.StatusIffy))
	require.Equal(t, collateral.StatusDisabled,
		collateral.Worst(collateral.StatusDisabled, collateral.StatusUnpriced, collateral.StatusSound))
}

func TestStatus_TransitionTable(t *testing.T) {
	t.Parallel()

	const (
		sound    = collateral.StatusSound
		iffy     = collateral.StatusIffy
		unpriced = collateral.StatusUnpriced
		disabled = collateral.StatusDisabled
	)
	all := []collateral.CollateralStatus{sound, iffy, unpriced, disabled}
	allowed := map[collateral.CollateralStatus][]collateral.CollateralStatus{
		sound:    {iffy, unpriced, disabled},
		iffy:     {sound, unpriced, disabled},
		unpriced: {sound, iffy, disabled},
		disabled: nil,
	}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				want = want || a == to
			}
			require.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	require.Panics(t, func() { collateral.CollateralStatus(9).CanTransitionTo(sound) })
}

func TestStatus_UnknownValuePanics(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() { collateral.CollateralStatus(9).WorseThan(collateral.StatusSound) })
}

func TestStatus_TextRoundTrip(t *testing.T) {
	t.Parallel()

	b, err := collateral.StatusUnpriced.MarshalText()
	require.NoError(t, err)
	var s collateral.CollateralStatus
	require.NoError(t, s.UnmarshalText(b))
	require.Equal(t, collateral.StatusUnpriced, s)
	require.Error(t, s.UnmarshalText([]byte("BROKEN")))
}

// ============================================================================
// Refresh: soft default
// ============================================================================

func TestRefresh_SoftDefaultThenRecover(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	c := newFiat(t, fb, usdc, nil)
	reg := registryWith(t, c)

	setFeed(fb, "USDC/USD", "0.90", t0)
	changes := reg.RefreshAll(t0)
	require.Len(t, changes, 1)
	require.Equal(t, collateral.StatusSound, changes[0].Old)
	require.Equal(t, collateral.StatusIffy, changes[0].New)
	require.Equal(t, t0.Add(24*time.Hour).Unix(), c.WhenDefault())

	setFeed(fb, "USDC/USD", "1.00", t0.Add(time.Hour))
	changes = reg.RefreshAll(t0.Add(time.Hour))
	require.Len(t, changes, 1)
	require.Equal(t, collateral.StatusSound, c.Status())
	require.Equal(t, collateral.Never, c.WhenDefault())
}

func TestRefresh_SecondSoftDefaultObservationKeepsDeadline(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	c := newFiat(t, fb, usdc, nil)
	reg := registryWith(t, c)

	setFeed(fb, "USDC/USD", "0.90", t0)
	reg.RefreshAll(t0)
	deadline := c.WhenDefault()

	later := t0.Add(time.Second)
	setFeed(fb, "USDC/USD", "0.90", later)
	require.Empty(t, reg.RefreshAll(later))
	require.Equal(t, deadline, c.WhenDefault())
	require.Equal(t, collateral.StatusIffy, c.Status())
}

func TestRefresh_IffyBecomesDisabledAfterDelay(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	c := newFiat(t, fb, usdc, nil)
	reg := registryWith(t, c)

	setFeed(fb, "USDC/USD", "0.90", t0)
	reg.RefreshAll(t0)

	expiry := t0.Add(24 * time.Hour)
	setFeed(fb, "USDC/USD", "0.90", expiry)
	changes := reg.RefreshAll(expiry)
	require.Len(t, changes, 1)
	require.Equal(t, collateral.StatusIffy, changes[0].Old)
	require.Equal(t, collateral.StatusDisabled, changes[0].New)

	// Terminal: a re-peg does not bring it back.
	setFeed(fb, "USDC/USD", "1.00", expiry.Add(time.Minute))
	require.Empty(t, reg.RefreshAll(expiry.Add(time.Minute)))
	require.Equal(t, collateral.StatusDisabled, c.Status())
}

func TestRefresh_LateRepegAfterDeadlineIsDisabled(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	c := newFiat(t, fb, usdc, nil)
	reg := registryWith(t, c)

	setFeed(fb, "USDC/USD", "0.90", t0)
	reg.RefreshAll(t0)
	deadline := c.WhenDefault()

	// Nobody refreshed while the grace period ran out.
	late := t0.Add(48 * time.Hour)
	setFeed(fb, "USDC/USD", "1.00", late)
	changes := reg.RefreshAll(late)
	require.Len(t, changes, 1)
	require.Equal(t, collateral.StatusIffy, changes[0].Old)
	require.Equal(t, collateral.StatusDisabled, changes[0].New)
	require.Equal(t, deadline, c.WhenDefault())
}

func TestRefresh_UnpricedPastDeadlineIsDisabled(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	c := newFiat(t, fb, usdc, nil)
	reg := registryWith(t, c)

	setFeed(fb, "USDC/USD", "0.90", t0)
	reg.RefreshAll(t0)
	reg.RefreshAll(t0.Add(2 * time.Hour)) // feed stale
	require.Equal(t, collateral.StatusUnpriced, c.Status())

	late := t0.Add(48 * time.Hour)
	setFeed(fb, "USDC/USD", "1.00", late)
	changes := reg.RefreshAll(late)
	require.Len(t, changes, 1)
	require.Equal(t, collateral.StatusUnpriced, changes[0].Old)
	require.Equal(t, collateral.StatusDisabled, changes[0].New)
}

func TestRefresh_WithinThresholdStaysSound(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	c := newFiat(t, fb, usdc, nil)
	reg := registryWith(t, c)

	setFeed(fb, "USDC/USD", "0.95", t0) // exactly at the threshold
	require.Empty(t, reg.RefreshAll(t0))
	require.Equal(t, collateral.StatusSound, c.Status())
}

// ============================================================================
// Refresh: unpriced and idempotence
// ============================================================================

func TestRefresh_StaleFeedIsUnpricedAndRecovers(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	c := newFiat(t, fb, usdc, nil)
	reg := registryWith(t, c)

	setFeed(fb, "USDC/USD", "1", t0)
	require.Empty(t, reg.RefreshAll(t0))

	stale := t0.Add(2 * time.Hour)
	changes := reg.RefreshAll(stale)
	require.Len(t, changes, 1)
	require.Equal(t, collateral.StatusUnpriced, c.Status())
	require.Equal(t, collateral.Never, c.WhenDefault())

	_, err := c.Price(stale)
	require.ErrorIs(t, err, collateral.ErrStalePrice)

	setFeed(fb, "USDC/USD", "1", stale)
	reg.RefreshAll(stale)
	require.Equal(t, collateral.StatusSound, c.Status())
}

func TestRefresh_UnpricedDoesNotTouchPendingDefault(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	c := newFiat(t, fb, usdc, nil)
	reg := registryWith(t, c)

	setFeed(fb, "USDC/USD", "0.5", t0)
	reg.RefreshAll(t0)
	deadline := c.WhenDefault()

	reg.RefreshAll(t0.Add(2 * time.Hour))
	require.Equal(t, collateral.StatusUnpriced, c.Status())
	require.Equal(t, deadline, c.WhenDefault())
}

func TestRefresh_ZeroPriceIsUnpriced(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	c := newFiat(t, fb, usdc, nil)
	reg := registryWith(t, c)

	setFeed(fb, "USDC/USD", "0", t0)
	reg.RefreshAll(t0)
	require.Equal(t, collateral.StatusUnpriced, c.Status())

	_, err := c.Price(t0)
	require.ErrorIs(t, err, collateral.ErrPriceOutsideRange)
}

func TestRefresh_UnchangedInputsIsNoop(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	c := newFiat(t, fb, usdc, nil)
	reg := registryWith(t, c)

	for _, price := range []string{"1", "0.9"} {
		setFeed(fb, "USDC/USD", price, t0)
		reg.RefreshAll(t0)
		before := c.State()

		require.Empty(t, reg.RefreshAll(t0))
		require.Equal(t, before, c.State())
	}
}

// ============================================================================
// Refresh: hard default
// ============================================================================

func TestRefresh_RateDropIsHardDefaultEvenWhenFeedIsStale(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	rb := oracle.NewRateBook()
	rb.Set(cusdc, fix("0.02"))
	c := newFiat(t, fb, cusdc, rb)
	reg := registryWith(t, c)

	setFeed(fb, "USDC/USD", "1", t0)
	require.Empty(t, reg.RefreshAll(t0))

	rb.Set(cusdc, fix("0.019"))
	now := t0.Add(3 * time.Hour) // feed is stale by now
	changes := reg.RefreshAll(now)
	require.Len(t, changes, 1)
	require.Equal(t, collateral.StatusDisabled, changes[0].New)
	require.Equal(t, now.Unix(), c.WhenDefault())
	require.Equal(t, fix("0.019"), c.RefPerTok())
}

func TestRefresh_HardDefaultKeepsEarlierDeadline(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	rb := oracle.NewRateBook()
	rb.Set(cusdc, fix("0.02"))
	c := newFiat(t, fb, cusdc, rb)
	reg := registryWith(t, c)

	setFeed(fb, "USDC/USD", "0.5", t0)
	reg.RefreshAll(t0)
	require.Equal(t, collateral.StatusIffy, c.Status())

	rb.Set(cusdc, fix("0.01"))
	reg.RefreshAll(t0.Add(time.Minute))
	require.Equal(t, collateral.StatusDisabled, c.Status())
	require.Equal(t, t0.Add(time.Minute).Unix(), c.WhenDefault())
}

func TestRefresh_RateToZeroIsHardDefault(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	rb := oracle.NewRateBook()
	rb.Set(cusdc, fix("0.02"))
	c := newFiat(t, fb, cusdc, rb)
	reg := registryWith(t, c)

	setFeed(fb, "USDC/USD", "1", t0)
	require.Empty(t, reg.RefreshAll(t0))

	now := t0.Add(time.Minute)
	rb.Set(cusdc, fpmath.Zero)
	changes := reg.RefreshAll(now)
	require.Len(t, changes, 1)
	require.Equal(t, collateral.StatusSound, changes[0].Old)
	require.Equal(t, collateral.StatusDisabled, changes[0].New)
	require.Equal(t, now.Unix(), c.WhenDefault())
	require.True(t, c.RefPerTok().IsZero())
}

func TestRefresh_ZeroRateBeforeFirstObservationIsUnpriced(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	rb := oracle.NewRateBook()
	rb.Set(cusdc, fpmath.Zero)
	c := newFiat(t, fb, cusdc, rb)
	reg := registryWith(t, c)

	setFeed(fb, "USDC/USD", "1", t0)
	reg.RefreshAll(t0)
	require.Equal(t, collateral.StatusUnpriced, c.Status())
}

func TestRefresh_MissingRateIsUnpriced(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	c := newFiat(t, fb, cusdc, oracle.NewRateBook())
	reg := registryWith(t, c)

	setFeed(fb, "USDC/USD", "1", t0)
	reg.RefreshAll(t0)
	require.Equal(t, collateral.StatusUnpriced, c.Status())
}

// ============================================================================
// Price
// ============================================================================

func TestPrice_RateDoublingDoublesPrice(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	rb := oracle.NewRateBook()
	rb.Set(cusdc, fix("0.02"))
	c := newFiat(t, fb, cusdc, rb)
	reg := registryWith(t, c)
	setFeed(fb, "USDC/USD", "1", t0)
	reg.RefreshAll(t0)

	before, err := c.Price(t0)
	require.NoError(t, err)
	require.Equal(t, fix("0.02"), before)

	rb.Set(cusdc, fix("0.04"))
	reg.RefreshAll(t0)
	after, err := c.Price(t0)
	require.NoError(t, err)
	require.Equal(t, fix("0.04"), after)
}

func TestPrice_RateRevertRestoresPrice(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	rb := oracle.NewRateBook()
	rb.Set(cusdc, fix("0.021"))
	c := newFiat(t, fb, cusdc, rb)
	reg := registryWith(t, c)
	setFeed(fb, "USDC/USD", "0.9987", t0)
	reg.RefreshAll(t0)
	original, err := c.Price(t0)
	require.NoError(t, err)

	rb.Set(cusdc, fix("0.0225"))
	reg.RefreshAll(t0)
	rb.Set(cusdc, fix("0.021"))
	reg.RefreshAll(t0)

	restored, err := c.Price(t0)
	require.NoError(t, err)
	require.Equal(t, original, restored)
	// The revert itself is a rate drop.
	require.Equal(t, collateral.StatusDisabled, c.Status())
}

func TestPrice_NonFiat(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	c, err := collateral.NewCollateral(collateral.CollateralConfig{
		ERC20: wbtc, Symbol: "WBTC", Decimals: 8, TargetName: "BTC",
		TradingRange: wideRange(), OracleTimeout: time.Hour,
		DefaultThreshold: fix("0.02"), DelayUntilDefault: time.Hour,
		Plugin: &collateral.NonFiatPlugin{RefTargetFeed: "WBTC/BTC", TargetUoAFeed: "BTC/USD"},
	}, fb)
	require.NoError(t, err)
	reg := registryWith(t, c)

	setFeed(fb, "WBTC/BTC", "0.97", t0)
	setFeed(fb, "BTC/USD", "60000", t0)
	reg.RefreshAll(t0)

	p, err := c.Price(t0)
	require.NoError(t, err)
	require.Equal(t, fix("58200"), p)
	require.Equal(t, collateral.StatusIffy, c.Status())
}

func TestPrice_EURFiat(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	p, err := collateral.NewPlugin(collateral.KindEURFiat, []string{"EURT/USD", "EUR/USD"})
	require.NoError(t, err)
	c, err := collateral.NewCollateral(collateral.CollateralConfig{
		ERC20: common.HexToAddress("0xC581b735A1688071A1746c968e0798D642EDE491"), Symbol: "EURT",
		Decimals: 6, TargetName: "EUR", TradingRange: wideRange(), OracleTimeout: time.Hour,
		DefaultThreshold: fix("0.05"), DelayUntilDefault: time.Hour, Plugin: p,
	}, fb)
	require.NoError(t, err)

	setFeed(fb, "EURT/USD", "1.08", t0)
	setFeed(fb, "EUR/USD", "1.08", t0)
	registryWith(t, c).RefreshAll(t0)

	price, err := c.Price(t0)
	require.NoError(t, err)
	require.Equal(t, fix("1.08"), price)
	require.Equal(t, collateral.StatusSound, c.Status())
}

func TestSelfReferential_NeverSoftDefaults(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	c, err := collateral.NewCollateral(collateral.CollateralConfig{
		ERC20: weth, Symbol: "WETH", Decimals: 18, TargetName: "ETH",
		TradingRange: wideRange(), OracleTimeout: time.Hour, DelayUntilDefault: time.Hour,
		Plugin: &collateral.SelfReferentialPlugin{Feed: "ETH/USD"},
	}, fb)
	require.NoError(t, err)
	reg := registryWith(t, c)

	setFeed(fb, "ETH/USD", "1500", t0)
	reg.RefreshAll(t0)
	require.Equal(t, collateral.StatusSound, c.Status())

	reg.RefreshAll(t0.Add(2 * time.Hour))
	require.Equal(t, collateral.StatusUnpriced, c.Status())
}

// ============================================================================
// Trade sizing
// ============================================================================

func newRSR(t *testing.T, fb *oracle.FeedBook, tr collateral.TradingRange) *collateral.PlainAsset {
	t.Helper()
	a, err := collateral.NewPlainAsset(collateral.AssetConfig{
		ERC20: rsr, Symbol: "RSR", Decimals: 18, TradingRange: tr,
	}, collateral.FeedPricer(fb, "RSR/USD", time.Hour))
	require.NoError(t, err)
	return a
}

func TestTradeSize_ScalesInverselyWithPrice(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	a := newRSR(t, fb, collateral.TradingRange{
		MinVal: fix("100"), MaxVal: fix("10000"),
		MinAmt: fix("10"), MaxAmt: fix("1000000"),
	})

	cases := []struct {
		price    string
		min, max string
	}{
		{"1", "100", "10000"},
		{"0.5", "200", "20000"},
		{"2", "50", "5000"},
		{"20", "10", "500"},           // min bounded by minAmt
		{"0.005", "20000", "1000000"}, // max bounded by maxAmt
	}
	for i, tc := range cases {
		at := t0.Add(time.Duration(i) * time.Second)
		setFeed(fb, "RSR/USD", tc.price, at)

		min, err := a.MinTradeSize(at)
		require.NoError(t, err)
		max, err := a.MaxTradeSize(at)
		require.NoError(t, err)
		require.Equal(t, fix(tc.min), min, "min at price %s", tc.price)
		require.Equal(t, fix(tc.max), max, "max at price %s", tc.price)
		require.True(t, min.Lte(max))
	}
}

func TestTradeSize_InvertedAtPriceFailsBothAccessors(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	a := newRSR(t, fb, collateral.TradingRange{
		MinVal: fix("100"), MaxVal: fix("1000"),
		MinAmt: fix("0"), MaxAmt: fix("10"),
	})
	setFeed(fb, "RSR/USD", "1", t0)

	_, err := a.MinTradeSize(t0)
	require.ErrorIs(t, err, collateral.ErrInvalidTradingRange)
	_, err = a.MaxTradeSize(t0)
	require.ErrorIs(t, err, collateral.ErrInvalidTradingRange)
}

func TestTradeSize_PropagatesPriceFailure(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	a := newRSR(t, fb, wideRange())
	setFeed(fb, "RSR/USD", "0.003", t0)

	_, err := a.MinTradeSize(t0.Add(2 * time.Hour))
	require.ErrorIs(t, err, collateral.ErrStalePrice)
	_, err = a.MaxTradeSize(t0.Add(2 * time.Hour))
	require.ErrorIs(t, err, collateral.ErrStalePrice)
}

// ============================================================================
// Configuration errors
// ============================================================================

func TestConfig_Rejected(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	base := func() collateral.CollateralConfig {
		return collateral.CollateralConfig{
			ERC20: usdc, Symbol: "USDC", Decimals: 6, TargetName: "USD",
			TradingRange: wideRange(), OracleTimeout: time.Hour,
			DefaultThreshold: fix("0.05"), DelayUntilDefault: time.Hour,
			Plugin: &collateral.FiatPlugin{Feed: "USDC/USD"},
		}
	}

	cases := map[string]func(*collateral.CollateralConfig){
		"zero threshold":   func(c *collateral.CollateralConfig) { c.DefaultThreshold = fpmath.Zero },
		"zero delay":       func(c *collateral.CollateralConfig) { c.DelayUntilDefault = 0 },
		"zero address":     func(c *collateral.CollateralConfig) { c.ERC20 = common.Address{} },
		"no target":        func(c *collateral.CollateralConfig) { c.TargetName = "" },
		"no feed":          func(c *collateral.CollateralConfig) { c.Plugin = &collateral.FiatPlugin{} },
		"zero timeout":     func(c *collateral.CollateralConfig) { c.OracleTimeout = 0 },
		"inverted min/max": func(c *collateral.CollateralConfig) { c.TradingRange.MinAmt = fix("2000000000") },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		_, err := collateral.NewCollateral(cfg, fb)
		require.ErrorIs(t, err, collateral.ErrInvalidConfig, name)
	}
}

func TestNewPlugin(t *testing.T) {
	t.Parallel()

	p, err := collateral.NewPlugin(collateral.KindNonFiat, []string{"WBTC/BTC", "BTC/USD"})
	require.NoError(t, err)
	require.Equal(t, collateral.KindNonFiat, p.Kind())

	_, err = collateral.NewPlugin(collateral.KindFiat, []string{"a", "b"})
	require.ErrorIs(t, err, collateral.ErrInvalidConfig)
	_, err = collateral.NewPlugin("rebasing", []string{"a"})
	require.ErrorIs(t, err, collateral.ErrInvalidConfig)
}

// ============================================================================
// Registry
// ============================================================================

func TestRegistry_Lookups(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	c := newFiat(t, fb, usdc, nil)
	a := newRSR(t, fb, wideRange())
	reg := registryWith(t, c, a)

	require.ErrorIs(t, reg.Register(c), collateral.ErrAlreadyRegistered)
	require.True(t, reg.IsRegistered(rsr))
	require.False(t, reg.IsRegistered(weth))
	require.Equal(t, []common.Address{usdc, rsr}, reg.ERC20s())

	_, err := reg.ToColl(rsr)
	require.ErrorIs(t, err, collateral.ErrNotCollateral)
	_, err = reg.ToAsset(weth)
	require.ErrorIs(t, err, collateral.ErrUnregisteredToken)

	got, err := reg.ToColl(usdc)
	require.NoError(t, err)
	require.Same(t, c, got)
}

func TestRegistry_SnapshotRestore(t *testing.T) {
	t.Parallel()

	fb := oracle.NewFeedBook()
	setFeed(fb, "USDC/USD", "0.8", t0)
	reg := registryWith(t, newFiat(t, fb, usdc, nil))
	reg.RefreshAll(t0)
	snap := reg.Snapshot()

	fresh := newFiat(t, fb, usdc, nil)
	other := registryWith(t, fresh)
	require.NoError(t, other.Restore(snap))
	require.Equal(t, collateral.StatusIffy, fresh.Status())
	require.Equal(t, snap[usdc], fresh.State())

	require.ErrorIs(t, collateral.NewRegistry().Restore(snap), collateral.ErrUnregisteredToken)
}
