package testutil

import (
	"RTokenLedger/internal/basket"
	"RTokenLedger/internal/collateral"
	"RTokenLedger/internal/core"
	fpmath "RTokenLedger/internal/math"
	"RTokenLedger/internal/trading"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// T0 is the reference time of the fixture deployment.
var T0 = time.Unix(1_700_000_000, 0)

// Fixture tokens.
var (
	USDC  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	DAI   = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	CUSDC = common.HexToAddress("0x39AA39c021dfbaE8faC545936693aC917d5E7563")
	RSR   = common.HexToAddress("0x320623b8E4fF03373931769A31Fc52A4E78B5d70")
	RUSD  = common.HexToAddress("0xA0d69E286B938e21CBf7E51D71F6A4c8918f482F")
)

// WideRange never limits a trade in the fixture.
var WideRange = collateral.TradingRange{
	MinVal: fpmath.Zero,
	MaxVal: fpmath.MustParse("1000000"),
	MinAmt: fpmath.Zero,
	MaxAmt: fpmath.MustParse("1000000000"),
}

func fiat(token common.Address, symbol string, decimals uint8, feed string) core.CollateralAsset {
	return core.CollateralAsset{CollateralConfig: collateral.CollateralConfig{
		ERC20:             token,
		Symbol:            symbol,
		Decimals:          decimals,
		TargetName:        "USD",
		TradingRange:      WideRange,
		OracleTimeout:     time.Hour,
		DefaultThreshold:  fpmath.MustParse("0.05"),
		DelayUntilDefault: time.Hour,
		Plugin:            &collateral.FiatPlugin{Feed: feed},
	}}
}

// ProtocolConfig is a USD RToken backed half by USDC and half by DAI, with
// cUSDC as the single USD backup. Revenue splits 40 RToken / 60 RSR.
func ProtocolConfig() core.ProtocolConfig {
	cusdc := fiat(CUSDC, "cUSDC", 8, "USDC/USD")
	cusdc.ExchangeRate = true

	return core.ProtocolConfig{
		RSR: core.FeedAsset{
			AssetConfig:   collateral.AssetConfig{ERC20: RSR, Symbol: "RSR", Decimals: 18, TradingRange: WideRange},
			Feed:          "RSR/USD",
			OracleTimeout: time.Hour,
		},
		RToken: collateral.AssetConfig{ERC20: RUSD, Symbol: "rUSD", Decimals: 18, TradingRange: WideRange},
		Collateral: []core.CollateralAsset{
			fiat(USDC, "USDC", 6, "USDC/USD"),
			fiat(DAI, "DAI", 18, "DAI/USD"),
			cusdc,
		},
		Basket: []basket.Entry{
			{Token: USDC, TargetName: "USD", RefAmt: fpmath.MustParse("0.5")},
			{Token: DAI, TargetName: "USD", RefAmt: fpmath.MustParse("0.5")},
		},
		Backups: []basket.BackupConfig{
			{TargetName: "USD", Max: 1, Tokens: []common.Address{CUSDC}},
		},
		Distribution: trading.Distribution{RTokenDist: 40, RSRDist: 60},
		BackingRules: trading.Rules{MaxTradeSlippage: fpmath.MustParse("0.01")},
		RevenueRules: trading.Rules{MaxTradeSlippage: fpmath.MustParse("0.01")},
	}
}

// NewProtocol builds the fixture deployment.
func NewProtocol(t *testing.T) *core.Protocol {
	t.Helper()
	p, err := core.NewProtocol(ProtocolConfig())
	if err != nil {
		t.Fatalf("build protocol: %v", err)
	}
	return p
}
