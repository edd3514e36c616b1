package rtoken_test

import (
	"RTokenLedger/internal/basket"
	"RTokenLedger/internal/collateral"
	"RTokenLedger/internal/ledger"
	fpmath "RTokenLedger/internal/math"
	"RTokenLedger/internal/oracle"
	"RTokenLedger/internal/rtoken"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Unix(1_700_000_000, 0)

	cusdc = common.HexToAddress("0x39AA39c021dfbaE8faC545936693aC917d5E7563")
	rusd  = common.HexToAddress("0xA0d69E286B938e21CBf7E51D71F6A4c8918f482F")
)

func fix(s string) fpmath.Fix { return fpmath.MustParse(s) }

type env struct {
	fb  *oracle.FeedBook
	rb  *oracle.RateBook
	reg *collateral.Registry
	bt  *ledger.BalanceTracker
	rt  *rtoken.RToken
}

// newEnv builds a one-collateral basket: 1 USD of cUSDC per BU.
func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		fb:  oracle.NewFeedBook(),
		rb:  oracle.NewRateBook(),
		reg: collateral.NewRegistry(),
		bt:  ledger.NewBalanceTracker(),
	}
	e.rb.Set(cusdc, fix("0.02"))
	c, err := collateral.NewCollateral(collateral.CollateralConfig{
		ERC20: cusdc, Symbol: "cUSDC", Decimals: 8, TargetName: "USD",
		TradingRange: collateral.TradingRange{
			MinVal: fix("1"), MaxVal: fix("1000000"), MinAmt: fix("0"), MaxAmt: fix("1000000000"),
		},
		OracleTimeout: time.Hour, DefaultThreshold: fix("0.05"), DelayUntilDefault: time.Hour,
		Plugin: &collateral.FiatPlugin{Feed: "USDC/USD"}, Rates: e.rb,
	}, e.fb)
	require.NoError(t, err)
	require.NoError(t, e.reg.Register(c))
	e.fb.Update("USDC/USD", oracle.FeedPrice{Price: fpmath.One, Timestamp: t0.Unix()})
	e.reg.RefreshAll(t0)

	bh, err := basket.NewHandler(e.reg, []basket.Entry{{Token: cusdc, TargetName: "USD", RefAmt: fpmath.One}}, nil)
	require.NoError(t, err)
	e.rt = rtoken.New(rusd, bh)
	return e
}

// commit applies a staged transaction to the tracker.
func (e *env) commit(t *testing.T, tx *ledger.Tx) {
	t.Helper()
	batch := ledger.NewJournalGenerator(0).GenerateFromTx(tx, "test", 0, t0.Unix())
	require.NoError(t, e.bt.ApplyBatch(batch))
}

func (e *env) issue(t *testing.T, amount string) rtoken.IssueResult {
	t.Helper()
	tx := e.bt.Begin()
	res, err := e.rt.Issue(tx, fix(amount))
	require.NoError(t, err)
	e.commit(t, tx)
	return res
}

func TestIssue_FirstIssuanceIsOneToOne(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	res := e.issue(t, "100")
	require.Equal(t, fix("100"), res.Baskets)
	require.Equal(t, fix("100"), e.rt.Supply())
	require.Equal(t, fix("100"), e.rt.BasketsNeeded())
	require.Equal(t, fix("5000"), e.bt.BalanceOf(ledger.HolderBackingManager, cusdc))
	require.True(t, res.Needed.Old.IsZero())
}

func TestIssue_RequiresSoundBasket(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.fb.Update("USDC/USD", oracle.FeedPrice{Price: fix("0.9"), Timestamp: t0.Unix() + 1})
	e.reg.RefreshAll(t0.Add(time.Second))

	tx := e.bt.Begin()
	_, err := e.rt.Issue(tx, fix("1"))
	require.ErrorIs(t, err, rtoken.ErrBasketNotSound)
	require.True(t, tx.Empty())

	_, err = e.rt.Issue(tx, fpmath.Zero)
	require.ErrorIs(t, err, rtoken.ErrZeroAmount)
}

func TestRedeem_Prorata(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.issue(t, "100")

	tx := e.bt.Begin()
	res, err := e.rt.Redeem(tx, fix("40"))
	require.NoError(t, err)
	e.commit(t, tx)

	require.Equal(t, fix("40"), res.Baskets)
	require.Equal(t, fix("60"), e.rt.Supply())
	require.Equal(t, fix("60"), e.rt.BasketsNeeded())
	require.Equal(t, fix("3000"), e.bt.BalanceOf(ledger.HolderBackingManager, cusdc))
}

func TestRedeem_Rejects(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.issue(t, "10")

	_, err := e.rt.Redeem(e.bt.Begin(), fix("11"))
	require.ErrorIs(t, err, rtoken.ErrExceedsSupply)

	e.rb.Set(cusdc, fix("0.01"))
	e.reg.RefreshAll(t0)
	_, err = e.rt.Redeem(e.bt.Begin(), fix("1"))
	require.ErrorIs(t, err, rtoken.ErrBasketDisabled)
}

func TestPrice_IgnoresCollateralAppreciation(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.issue(t, "100")

	before, err := e.rt.Price(t0)
	require.NoError(t, err)
	require.Equal(t, fpmath.One, before)

	e.rb.Set(cusdc, fix("0.04"))
	e.reg.RefreshAll(t0)

	c, err := e.reg.ToColl(cusdc)
	require.NoError(t, err)
	collPrice, err := c.Price(t0)
	require.NoError(t, err)
	require.Equal(t, fix("0.04"), collPrice)

	after, err := e.rt.Price(t0)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestMintBaskets(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.issue(t, "100")
	e.rt.SetBasketsNeeded(fix("50")) // 2 RToken per BU

	tx := e.bt.Begin()
	rTok, change, err := e.rt.MintBaskets(tx, ledger.HolderBackingManager, fix("5"))
	require.NoError(t, err)
	e.commit(t, tx)

	require.Equal(t, fix("10"), rTok)
	require.Equal(t, fix("55"), change.New)
	require.Equal(t, fix("110"), e.rt.Supply())
	require.Equal(t, fix("10"), e.bt.BalanceOf(ledger.HolderBackingManager, rusd))
}

func TestSnapshotRestore(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.issue(t, "7")

	other := newEnv(t)
	other.rt.Restore(e.rt.Snapshot())
	require.Equal(t, e.rt.Snapshot(), other.rt.Snapshot())
}
