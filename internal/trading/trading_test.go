package trading_test

import (
	"RTokenLedger/internal/basket"
	"RTokenLedger/internal/collateral"
	"RTokenLedger/internal/ledger"
	fpmath "RTokenLedger/internal/math"
	"RTokenLedger/internal/oracle"
	"RTokenLedger/internal/rtoken"
	"RTokenLedger/internal/trading"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Unix(1_700_000_000, 0)

	usdc  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	dai   = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	cusdc = common.HexToAddress("0x39AA39c021dfbaE8faC545936693aC917d5E7563")
	rsr   = common.HexToAddress("0x320623b8E4fF03373931769A31Fc52A4E78B5d70")
	rusd  = common.HexToAddress("0xA0d69E286B938e21CBf7E51D71F6A4c8918f482F")
)

func fix(s string) fpmath.Fix { return fpmath.MustParse(s) }

var wideRange = collateral.TradingRange{
	MinVal: fpmath.Zero, MaxVal: fix("1000000"), MinAmt: fpmath.Zero, MaxAmt: fix("1000000000"),
}

type envConfig struct {
	basket  []basket.Entry
	backups []basket.BackupConfig
	params  trading.Params
	rules   trading.Rules
}

type env struct {
	fb  *oracle.FeedBook
	rb  *oracle.RateBook
	reg *collateral.Registry
	bt  *ledger.BalanceTracker
	bh  *basket.Handler
	rt  *rtoken.RToken
	bm  *trading.BackingManager

	rsrTrader    *trading.RevenueTrader
	rTokenTrader *trading.RevenueTrader

	seq int64
}

func halfUSDCHalfDAI() envConfig {
	return envConfig{
		basket: []basket.Entry{
			{Token: usdc, TargetName: "USD", RefAmt: fix("0.5")},
			{Token: dai, TargetName: "USD", RefAmt: fix("0.5")},
		},
		rules: trading.Rules{MaxTradeSlippage: fix("0.01")},
	}
}

func halfUSDCHalfCUSDC() envConfig {
	return envConfig{
		basket: []basket.Entry{
			{Token: usdc, TargetName: "USD", RefAmt: fix("0.5")},
			{Token: cusdc, TargetName: "USD", RefAmt: fix("0.5")},
		},
		backups: []basket.BackupConfig{{TargetName: "USD", Max: 1, Tokens: []common.Address{dai}}},
		rules:   trading.Rules{MaxTradeSlippage: fix("0.01")},
	}
}

func newEnv(t *testing.T, cfg envConfig) *env {
	t.Helper()
	e := &env{
		fb:  oracle.NewFeedBook(),
		rb:  oracle.NewRateBook(),
		reg: collateral.NewRegistry(),
		bt:  ledger.NewBalanceTracker(),
	}
	e.rb.Set(cusdc, fix("0.02"))

	add := func(token common.Address, symbol string, decimals uint8, feed string, rates oracle.RateSource) {
		c, err := collateral.NewCollateral(collateral.CollateralConfig{
			ERC20: token, Symbol: symbol, Decimals: decimals, TargetName: "USD",
			TradingRange:  wideRange,
			OracleTimeout: time.Hour, DefaultThreshold: fix("0.05"), DelayUntilDefault: time.Hour,
			Plugin: &collateral.FiatPlugin{Feed: feed}, Rates: rates,
		}, e.fb)
		require.NoError(t, err)
		require.NoError(t, e.reg.Register(c))
	}
	add(usdc, "USDC", 6, "USDC/USD", nil)
	add(dai, "DAI", 18, "DAI/USD", nil)
	add(cusdc, "cUSDC", 8, "USDC/USD", e.rb)

	rsrAsset, err := collateral.NewPlainAsset(
		collateral.AssetConfig{ERC20: rsr, Symbol: "RSR", Decimals: 18, TradingRange: wideRange},
		collateral.FeedPricer(e.fb, "RSR/USD", time.Hour))
	require.NoError(t, err)
	require.NoError(t, e.reg.Register(rsrAsset))

	e.setFeeds(t0)

	e.bh, err = basket.NewHandler(e.reg, cfg.basket, cfg.backups)
	require.NoError(t, err)
	e.rt = rtoken.New(rusd, e.bh)

	rTokAsset, err := collateral.NewPlainAsset(
		collateral.AssetConfig{ERC20: rusd, Symbol: "rUSD", Decimals: 18, TradingRange: wideRange},
		e.rt.Pricer())
	require.NoError(t, err)
	require.NoError(t, e.reg.Register(rTokAsset))

	dist, err := trading.NewDistributor(trading.Distribution{RTokenDist: 40, RSRDist: 60}, rsr, rusd)
	require.NoError(t, err)

	e.bm, err = trading.NewBackingManager(e.reg, e.bh, e.rt, dist, rsr, cfg.params, cfg.rules)
	require.NoError(t, err)
	e.rsrTrader, err = trading.NewRevenueTrader(ledger.HolderRSRTrader, rsr, e.reg, dist, cfg.rules)
	require.NoError(t, err)
	e.rTokenTrader, err = trading.NewRevenueTrader(ledger.HolderRTokenTrader, rusd, e.reg, dist, cfg.rules)
	require.NoError(t, err)
	return e
}

func (e *env) setFeeds(at time.Time) {
	e.fb.Update("USDC/USD", oracle.FeedPrice{Price: fpmath.One, Timestamp: at.Unix()})
	e.fb.Update("DAI/USD", oracle.FeedPrice{Price: fpmath.One, Timestamp: at.Unix()})
	e.fb.Update("RSR/USD", oracle.FeedPrice{Price: fix("0.005"), Timestamp: at.Unix()})
}

// commit applies a staged transaction; state-only transactions stage nothing.
func (e *env) commit(t *testing.T, tx *ledger.Tx) {
	t.Helper()
	if tx.Empty() {
		return
	}
	e.seq++
	batch := ledger.NewJournalGenerator(e.seq).GenerateFromTx(tx, "test", e.seq, t0.Unix())
	require.NoError(t, e.bt.ApplyBatch(batch))
}

func (e *env) issue(t *testing.T, amount string) {
	t.Helper()
	tx := e.bt.Begin()
	_, err := e.rt.Issue(tx, fix(amount))
	require.NoError(t, err)
	e.commit(t, tx)
}

// deposit credits a protocol holder from the external yield account.
func (e *env) deposit(t *testing.T, to ledger.Holder, token common.Address, amount string) {
	t.Helper()
	tx := e.bt.Begin()
	require.NoError(t, tx.Transfer(
		ledger.NewExternalAccountKey(ledger.HolderYield, token),
		ledger.NewProtocolAccountKey(to, token),
		fix(amount), ledger.JournalTypeDeposit))
	e.commit(t, tx)
}

// withdraw takes tokens out of a protocol holder, simulating a loss.
func (e *env) withdraw(t *testing.T, from ledger.Holder, token common.Address, amount string) {
	t.Helper()
	tx := e.bt.Begin()
	require.NoError(t, tx.Transfer(
		ledger.NewProtocolAccountKey(from, token),
		ledger.NewExternalAccountKey(ledger.HolderYield, token),
		fix(amount), ledger.JournalTypeDeposit))
	e.commit(t, tx)
}

func (e *env) manage(t *testing.T, tokens []common.Address, now time.Time) trading.Outcome {
	t.Helper()
	tx := e.bt.Begin()
	out, err := e.bm.ManageTokens(tx, tokens, trading.TradeID(e.seq+1), now)
	require.NoError(t, err)
	e.commit(t, tx)
	return out
}

func (e *env) bal(holder ledger.Holder, token common.Address) fpmath.Fix {
	return e.bt.BalanceOf(holder, token)
}

// ============================================================================
// Recollateralization
// ============================================================================

func TestManageTokens_HaircutWhenShortfallIsDust(t *testing.T) {
	t.Parallel()
	cfg := halfUSDCHalfDAI()
	cfg.rules.MinTradeVolume = fix("10")
	e := newEnv(t, cfg)
	e.issue(t, "100")
	e.withdraw(t, ledger.HolderBackingManager, dai, "10")

	out := e.manage(t, nil, t0)

	require.Equal(t, trading.OutcomeHaircut, out.Kind)
	require.Nil(t, out.Trade)
	require.Equal(t, fix("80"), out.BasketsHeld)
	require.Equal(t, fix("100"), out.Needed.Old)
	require.Equal(t, fix("80"), out.Needed.New)
	require.Equal(t, fix("80"), e.rt.BasketsNeeded())
	require.Equal(t, fix("100"), e.rt.Supply())
	require.Zero(t, e.bm.TradesOpen())

	price, err := e.rt.Price(t0)
	require.NoError(t, err)
	require.Equal(t, fix("0.8"), price)
}

func TestManageTokens_TradesSurplusIntoDeficit(t *testing.T) {
	t.Parallel()
	e := newEnv(t, halfUSDCHalfDAI())
	e.issue(t, "100")
	e.withdraw(t, ledger.HolderBackingManager, dai, "10")

	out := e.manage(t, nil, t0)

	// top = 90, bottom = 89.1: deficit 4.55 DAI, covered by 4.55 / 0.99 USDC
	// floored to 6 decimals.
	require.Equal(t, trading.OutcomeTradeStarted, out.Kind)
	require.NotNil(t, out.Trade)
	req := out.Trade.Request
	require.Equal(t, usdc, req.Sell)
	require.Equal(t, dai, req.Buy)
	require.Equal(t, fix("4.595959"), req.SellAmount)
	require.Equal(t, fix("4.54999941"), req.MinBuyAmount)
	require.Equal(t, ledger.HolderBackingManager, out.Trade.Owner)

	require.Equal(t, 1, e.bm.TradesOpen())
	require.Equal(t, fix("45.404041"), e.bal(ledger.HolderBackingManager, usdc))
	require.Equal(t, fix("4.595959"), e.bal(ledger.HolderTradeEscrow, usdc))
	require.Equal(t, fix("100"), e.rt.BasketsNeeded())
}

func TestManageTokens_DisabledCollateralSellsWithNoMinimum(t *testing.T) {
	t.Parallel()
	e := newEnv(t, halfUSDCHalfCUSDC())
	e.issue(t, "100")
	require.Equal(t, fix("2500"), e.bal(ledger.HolderBackingManager, cusdc))

	e.rb.Set(cusdc, fix("0.01"))
	changes := e.reg.RefreshAll(t0)
	require.Len(t, changes, 1)
	require.Equal(t, collateral.StatusDisabled, changes[0].New)
	require.True(t, e.bh.RefreshBasket(t0))
	require.Equal(t, []common.Address{usdc, dai}, e.bh.Tokens())

	out := e.manage(t, nil, t0)

	require.Equal(t, trading.OutcomeTradeStarted, out.Kind)
	req := out.Trade.Request
	require.Equal(t, cusdc, req.Sell)
	require.Equal(t, dai, req.Buy)
	require.Equal(t, fix("2500"), req.SellAmount)
	require.True(t, req.MinBuyAmount.IsZero())
}

func TestManageTokens_FallsBackToRSR(t *testing.T) {
	t.Parallel()
	e := newEnv(t, halfUSDCHalfDAI())
	e.issue(t, "100")
	e.withdraw(t, ledger.HolderBackingManager, dai, "10")
	e.deposit(t, ledger.HolderBackingManager, rsr, "100000")

	out := e.manage(t, nil, t0)

	// RSR value lifts top to 100, so the deficit is 49.5 - 40 DAI and no
	// basket token is in surplus.
	require.Equal(t, trading.OutcomeTradeStarted, out.Kind)
	req := out.Trade.Request
	require.Equal(t, rsr, req.Sell)
	require.Equal(t, dai, req.Buy)
	require.Equal(t, fix("1919.191919191919191920"), req.SellAmount)
	require.Equal(t, fix("9.500000000000000001"), req.MinBuyAmount)
}

// ============================================================================
// Aborts and input errors
// ============================================================================

func TestManageTokens_AbortsWhileTradeOpen(t *testing.T) {
	t.Parallel()
	e := newEnv(t, halfUSDCHalfDAI())
	e.issue(t, "100")
	e.withdraw(t, ledger.HolderBackingManager, dai, "10")
	require.Equal(t, trading.OutcomeTradeStarted, e.manage(t, nil, t0).Kind)

	out := e.manage(t, nil, t0)
	require.Equal(t, trading.OutcomeAbortTradeOpen, out.Kind)
	require.Empty(t, out.StatusChanges)
}

func TestManageTokens_AbortKeepsRefreshedStatus(t *testing.T) {
	t.Parallel()
	e := newEnv(t, halfUSDCHalfDAI())
	e.issue(t, "100")
	e.fb.Update("DAI/USD", oracle.FeedPrice{Price: fix("0.9"), Timestamp: t0.Unix() + 1})

	out := e.manage(t, nil, t0.Add(time.Second))

	require.Equal(t, trading.OutcomeAbortBasketNotSound, out.Kind)
	require.Len(t, out.StatusChanges, 1)
	require.Equal(t, dai, out.StatusChanges[0].Token)
	require.Equal(t, collateral.StatusIffy, out.StatusChanges[0].New)

	c, err := e.reg.ToColl(dai)
	require.NoError(t, err)
	require.Equal(t, collateral.StatusIffy, c.Status())
}

func TestManageTokens_WaitsOutTradingDelay(t *testing.T) {
	t.Parallel()
	cfg := halfUSDCHalfCUSDC()
	cfg.params.TradingDelay = time.Hour
	e := newEnv(t, cfg)
	e.issue(t, "100")
	e.rb.Set(cusdc, fix("0.01"))
	e.reg.RefreshAll(t0)
	require.True(t, e.bh.RefreshBasket(t0))

	require.Equal(t, trading.OutcomeAbortTradingDelay, e.manage(t, nil, t0).Kind)
	require.Equal(t, trading.OutcomeAbortTradingDelay, e.manage(t, nil, t0.Add(59*time.Minute)).Kind)

	t1 := t0.Add(time.Hour)
	e.setFeeds(t1)
	require.Equal(t, trading.OutcomeTradeStarted, e.manage(t, nil, t1).Kind)
}

func TestManageTokens_InputErrors(t *testing.T) {
	t.Parallel()
	e := newEnv(t, halfUSDCHalfDAI())
	e.issue(t, "100")

	tx := e.bt.Begin()
	_, err := e.bm.ManageTokens(tx, []common.Address{usdc, dai, usdc}, trading.TradeID(1), t0)
	require.ErrorIs(t, err, trading.ErrDuplicateTokens)

	_, err = e.bm.ManageTokens(tx, []common.Address{common.HexToAddress("0xdead")}, trading.TradeID(1), t0)
	require.ErrorIs(t, err, trading.ErrUnregisteredToken)
	require.True(t, tx.Empty())
}

// ============================================================================
// Handout
// ============================================================================

func usdcOnly() envConfig {
	return envConfig{
		basket: []basket.Entry{{Token: usdc, TargetName: "USD", RefAmt: fpmath.One}},
		params: trading.Params{BackingBuffer: fix("0.01")},
		rules:  trading.Rules{MaxTradeSlippage: fix("0.01")},
	}
}

func TestManageTokens_MintsAndHandsOutSurplus(t *testing.T) {
	t.Parallel()
	e := newEnv(t, usdcOnly())
	e.issue(t, "100")
	e.deposit(t, ledger.HolderBackingManager, usdc, "10")

	out := e.manage(t, nil, t0)

	// held 110 > 100 * 1.01: mint 9 BUs of RToken, then hand the RToken
	// out 60/40 to the RSR and RToken traders.
	require.Equal(t, trading.OutcomeHandout, out.Kind)
	require.Equal(t, fix("9"), out.Minted)
	require.Equal(t, fix("109"), out.Needed.New)
	require.Equal(t, fix("109"), e.rt.Supply())
	require.Equal(t, fix("5.4"), e.bal(ledger.HolderRSRTrader, rusd))
	require.Equal(t, fix("3.6"), e.bal(ledger.HolderRTokenTrader, rusd))
	require.True(t, e.bal(ledger.HolderBackingManager, rusd).IsZero())
	require.Equal(t, fix("110"), e.bal(ledger.HolderBackingManager, usdc))
	require.Len(t, out.Transfers, 2)

	again := e.manage(t, nil, t0)
	require.Equal(t, trading.OutcomeNoop, again.Kind)
	require.Empty(t, again.Transfers)
}

func TestManageTokens_RSRGoesEntirelyToRSRTrader(t *testing.T) {
	t.Parallel()
	e := newEnv(t, usdcOnly())
	e.issue(t, "100")
	e.deposit(t, ledger.HolderBackingManager, rsr, "50")

	out := e.manage(t, []common.Address{rsr}, t0)

	require.Equal(t, trading.OutcomeHandout, out.Kind)
	require.True(t, out.Minted.IsZero())
	require.Equal(t, []trading.HandoutTransfer{
		{Token: rsr, To: ledger.HolderRSRTrader, Amount: fix("50")},
	}, out.Transfers)
	require.Equal(t, fix("50"), e.bal(ledger.HolderRSRTrader, rsr))
}

// ============================================================================
// Settlement
// ============================================================================

func openDAITrade(t *testing.T) (*env, *trading.Trade) {
	t.Helper()
	e := newEnv(t, halfUSDCHalfDAI())
	e.issue(t, "100")
	e.withdraw(t, ledger.HolderBackingManager, dai, "10")
	out := e.manage(t, nil, t0)
	require.Equal(t, trading.OutcomeTradeStarted, out.Kind)
	return e, out.Trade
}

func TestSettleTrade_Fill(t *testing.T) {
	t.Parallel()
	e, tr := openDAITrade(t)

	tx := e.bt.Begin()
	s, err := e.bm.SettleTrade(tx, tr.ID, fix("4.595959"), fix("4.6"), false)
	require.NoError(t, err)
	e.commit(t, tx)

	require.False(t, s.Refunded)
	require.True(t, s.Returned.IsZero())
	require.Zero(t, e.bm.TradesOpen())
	require.True(t, e.bal(ledger.HolderTradeEscrow, usdc).IsZero())
	require.Equal(t, fix("45.404041"), e.bal(ledger.HolderBackingManager, usdc))
	require.Equal(t, fix("44.6"), e.bal(ledger.HolderBackingManager, dai))
}

func TestSettleTrade_PartialFillReturnsRemainder(t *testing.T) {
	t.Parallel()
	e, tr := openDAITrade(t)

	tx := e.bt.Begin()
	s, err := e.bm.SettleTrade(tx, tr.ID, fix("2"), fix("2"), false)
	require.NoError(t, err)
	e.commit(t, tx)

	require.False(t, s.Refunded)
	require.Equal(t, fix("2.595959"), s.Returned)
	require.Equal(t, fix("48"), e.bal(ledger.HolderBackingManager, usdc))
	require.Equal(t, fix("42"), e.bal(ledger.HolderBackingManager, dai))
}

func TestSettleTrade_RefundsBelowMinBuy(t *testing.T) {
	t.Parallel()
	e, tr := openDAITrade(t)

	tx := e.bt.Begin()
	s, err := e.bm.SettleTrade(tx, tr.ID, fix("4.595959"), fix("4"), false)
	require.NoError(t, err)
	e.commit(t, tx)

	require.True(t, s.Refunded)
	require.Equal(t, fix("4.595959"), s.Returned)
	require.Equal(t, fix("50"), e.bal(ledger.HolderBackingManager, usdc))
	require.Equal(t, fix("40"), e.bal(ledger.HolderBackingManager, dai))
}

func TestSettleTrade_FailedAndUnknown(t *testing.T) {
	t.Parallel()
	e, tr := openDAITrade(t)

	tx := e.bt.Begin()
	s, err := e.bm.SettleTrade(tx, tr.ID, fpmath.Zero, fpmath.Zero, true)
	require.NoError(t, err)
	e.commit(t, tx)
	require.True(t, s.Refunded)
	require.Equal(t, fix("50"), e.bal(ledger.HolderBackingManager, usdc))

	_, err = e.bm.SettleTrade(e.bt.Begin(), tr.ID, fpmath.Zero, fpmath.Zero, true)
	require.ErrorIs(t, err, trading.ErrUnknownTrade)
}

func TestTradeID_Deterministic(t *testing.T) {
	t.Parallel()
	require.Equal(t, trading.TradeID(42), trading.TradeID(42))
	require.NotEqual(t, trading.TradeID(42), trading.TradeID(43))
}

// ============================================================================
// Revenue traders
// ============================================================================

func manageRevenue(t *testing.T, e *env, rt *trading.RevenueTrader, token common.Address, now time.Time) trading.RevenueOutcome {
	t.Helper()
	tx := e.bt.Begin()
	out, err := rt.ManageToken(tx, token, trading.TradeID(e.seq+1), now)
	require.NoError(t, err)
	e.commit(t, tx)
	return out
}

func TestRevenueTrader_SellsForTokenToBuy(t *testing.T) {
	t.Parallel()
	e := newEnv(t, usdcOnly())
	e.deposit(t, ledger.HolderRSRTrader, usdc, "10")

	out := manageRevenue(t, e, e.rsrTrader, usdc, t0)

	require.Equal(t, trading.RevenueTradeStarted, out.Kind)
	req := out.Trade.Request
	require.Equal(t, usdc, req.Sell)
	require.Equal(t, rsr, req.Buy)
	require.Equal(t, fix("10"), req.SellAmount)
	require.Equal(t, fix("1980"), req.MinBuyAmount)
	require.Equal(t, ledger.HolderRSRTrader, out.Trade.Owner)

	tx := e.bt.Begin()
	_, err := e.rsrTrader.ManageToken(tx, usdc, trading.TradeID(99), t0)
	require.ErrorIs(t, err, trading.ErrTradeOpen)
}

func TestRevenueTrader_DistributesTokenToBuy(t *testing.T) {
	t.Parallel()
	e := newEnv(t, usdcOnly())
	e.deposit(t, ledger.HolderRSRTrader, rsr, "50")
	e.deposit(t, ledger.HolderRTokenTrader, rusd, "3")

	out := manageRevenue(t, e, e.rsrTrader, rsr, t0)
	require.Equal(t, trading.RevenueDistributed, out.Kind)
	require.Equal(t, ledger.HolderStRSR, out.Distributed.To)
	require.Equal(t, fix("50"), e.bal(ledger.HolderStRSR, rsr))

	out = manageRevenue(t, e, e.rTokenTrader, rusd, t0)
	require.Equal(t, trading.RevenueDistributed, out.Kind)
	require.Equal(t, fix("3"), e.bal(ledger.HolderFurnace, rusd))

	out = manageRevenue(t, e, e.rTokenTrader, rusd, t0)
	require.Equal(t, trading.RevenueNoop, out.Kind)
}

func TestRevenueTrader_DustAndUnpriced(t *testing.T) {
	t.Parallel()
	cfg := usdcOnly()
	cfg.rules.MinTradeVolume = fix("100")
	e := newEnv(t, cfg)
	e.deposit(t, ledger.HolderRSRTrader, usdc, "10")

	require.Equal(t, trading.RevenueDust, manageRevenue(t, e, e.rsrTrader, usdc, t0).Kind)

	later := t0.Add(2 * time.Hour)
	out := manageRevenue(t, e, e.rsrTrader, usdc, later)
	require.Equal(t, trading.RevenueUnpriced, out.Kind)
	require.Len(t, out.StatusChanges, 1)
	require.Equal(t, collateral.StatusUnpriced, out.StatusChanges[0].New)
	require.Equal(t, fix("10"), e.bal(ledger.HolderRSRTrader, usdc))
}

func TestRevenueTrader_UnregisteredToken(t *testing.T) {
	t.Parallel()
	e := newEnv(t, usdcOnly())
	_, err := e.rsrTrader.ManageToken(e.bt.Begin(), common.HexToAddress("0xbeef"), trading.TradeID(1), t0)
	require.ErrorIs(t, err, trading.ErrUnregisteredToken)
}

// ============================================================================
// Configuration and snapshots
// ============================================================================

func TestDistributor_Rejects(t *testing.T) {
	t.Parallel()
	_, err := trading.NewDistributor(trading.Distribution{}, rsr, rusd)
	require.ErrorIs(t, err, trading.ErrInvalidDistribution)

	d, err := trading.NewDistributor(trading.Distribution{RSRDist: 1}, rsr, rusd)
	require.NoError(t, err)
	_, err = d.Distribute(ledger.NewBalanceTracker().Begin(), usdc, ledger.HolderRSRTrader, fpmath.One)
	require.ErrorIs(t, err, trading.ErrNotRevenueToken)
}

func TestParams_Validate(t *testing.T) {
	t.Parallel()
	e := newEnv(t, usdcOnly())

	old, err := e.bm.SetTradingDelay(time.Minute)
	require.NoError(t, err)
	require.Zero(t, old)

	_, err = e.bm.SetTradingDelay(-time.Second)
	require.ErrorIs(t, err, trading.ErrInvalidParams)
	_, err = e.bm.SetBackingBuffer(fix("1.5"))
	require.ErrorIs(t, err, trading.ErrInvalidParams)
	require.Equal(t, time.Minute, e.bm.Params().TradingDelay)

	require.ErrorIs(t, e.bm.SetRules(trading.Rules{MaxTradeSlippage: fpmath.One}), trading.ErrInvalidParams)
}

func TestBackingManager_SnapshotRestore(t *testing.T) {
	t.Parallel()
	e, tr := openDAITrade(t)

	other := newEnv(t, halfUSDCHalfDAI())
	require.NoError(t, other.bm.Restore(e.bm.Snapshot()))
	require.Equal(t, 1, other.bm.TradesOpen())

	got, ok := other.bm.Find(tr.ID)
	require.True(t, ok)
	require.Equal(t, *tr, *got)
	require.Equal(t, e.bm.Snapshot(), other.bm.Snapshot())
}
