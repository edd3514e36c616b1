package config

import (
	"RTokenLedger/internal/basket"
	"RTokenLedger/internal/collateral"
	"RTokenLedger/internal/core"
	fpmath "RTokenLedger/internal/math"
	"RTokenLedger/internal/trading"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
)

var ErrInvalidDeployment = errors.New("config: invalid deployment")

// Deployment is the TOML description of one RToken: its assets, basket,
// revenue split and trading parameters.
type Deployment struct {
	RSR        FeedAssetConfig    `toml:"rsr"`
	RToken     AssetConfig        `toml:"rtoken"`
	Assets     []FeedAssetConfig  `toml:"assets"`
	Collateral []CollateralConfig `toml:"collateral"`
	Basket     []BasketEntry      `toml:"basket"`
	Backups    []BackupConfig     `toml:"backups"`

	Distribution trading.Distribution `toml:"distribution"`
	Params       ParamsConfig         `toml:"params"`
	BackingRules RulesConfig          `toml:"backing_rules"`
	RevenueRules RulesConfig          `toml:"revenue_rules"`
}

type AssetConfig struct {
	Address      string                  `toml:"address"`
	Symbol       string                  `toml:"symbol"`
	Decimals     uint8                   `toml:"decimals"`
	TradingRange collateral.TradingRange `toml:"trading_range"`
}

type FeedAssetConfig struct {
	AssetConfig
	Feed          string   `toml:"feed"`
	OracleTimeout duration `toml:"oracle_timeout"`
}

type CollateralConfig struct {
	AssetConfig
	TargetName        string     `toml:"target_name"`
	Plugin            string     `toml:"plugin"`
	Feeds             []string   `toml:"feeds"`
	OracleTimeout     duration   `toml:"oracle_timeout"`
	DefaultThreshold  fpmath.Fix `toml:"default_threshold"`
	DelayUntilDefault duration   `toml:"delay_until_default"`
	ExchangeRate      bool       `toml:"exchange_rate"`
}

type BasketEntry struct {
	Token      string     `toml:"token"`
	TargetName string     `toml:"target_name"`
	RefAmt     fpmath.Fix `toml:"ref_amt"`
}

type BackupConfig struct {
	TargetName string   `toml:"target_name"`
	Max        int      `toml:"max"`
	Tokens     []string `toml:"tokens"`
}

type ParamsConfig struct {
	TradingDelay  duration   `toml:"trading_delay"`
	BackingBuffer fpmath.Fix `toml:"backing_buffer"`
}

type RulesConfig struct {
	MaxTradeSlippage fpmath.Fix `toml:"max_trade_slippage"`
	MinTradeVolume   fpmath.Fix `toml:"min_trade_volume"`
}

// duration supports TOML string decoding ("1h", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoadDeployment decodes and validates the deployment file at path.
func LoadDeployment(path string) (*Deployment, error) {
	var d Deployment
	md, err := toml.DecodeFile(path, &d)
	if err != nil {
		return nil, fmt.Errorf("decode deployment %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown keys %v", ErrInvalidDeployment, undecoded)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// ParseDeployment is LoadDeployment over an in-memory document.
func ParseDeployment(doc string) (*Deployment, error) {
	var d Deployment
	md, err := toml.Decode(doc, &d)
	if err != nil {
		return nil, fmt.Errorf("decode deployment: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown keys %v", ErrInvalidDeployment, undecoded)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks addresses and cross-references. Component-level checks
// (plugin feeds, trading ranges) run again when the protocol is built.
func (d *Deployment) Validate() error {
	var errs []string
	addErr := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	checkAddr := func(what, s string) {
		if err := validAddress(s); err != nil {
			addErr("%s: %v", what, err)
		}
	}

	checkAddr("rsr.address", d.RSR.Address)
	checkAddr("rtoken.address", d.RToken.Address)
	if d.RSR.Feed == "" || d.RSR.OracleTimeout.Duration <= 0 {
		addErr("rsr: feed and oracle_timeout are required")
	}

	registered := []string{norm(d.RSR.Address), norm(d.RToken.Address)}
	for i, a := range d.Assets {
		checkAddr(fmt.Sprintf("assets[%d].address", i), a.Address)
		if a.Feed == "" || a.OracleTimeout.Duration <= 0 {
			addErr("assets[%d] (%s): feed and oracle_timeout are required", i, a.Symbol)
		}
		registered = append(registered, norm(a.Address))
	}

	collTargets := make(map[string]string, len(d.Collateral))
	for i, c := range d.Collateral {
		checkAddr(fmt.Sprintf("collateral[%d].address", i), c.Address)
		if c.TargetName == "" {
			addErr("collateral[%d] (%s): target_name is required", i, c.Symbol)
		}
		if _, err := collateral.NewPlugin(c.Plugin, c.Feeds); err != nil {
			addErr("collateral[%d] (%s): %v", i, c.Symbol, err)
		}
		if c.OracleTimeout.Duration <= 0 {
			addErr("collateral[%d] (%s): oracle_timeout must be positive", i, c.Symbol)
		}
		registered = append(registered, norm(c.Address))
		collTargets[norm(c.Address)] = c.TargetName
	}
	if dups := lo.FindDuplicates(registered); len(dups) > 0 {
		addErr("duplicate asset addresses: %s", strings.Join(dups, ", "))
	}

	if len(d.Basket) == 0 {
		addErr("basket: at least one entry is required")
	}
	for i, e := range d.Basket {
		target, ok := collTargets[norm(e.Token)]
		switch {
		case !ok:
			addErr("basket[%d]: %s is not registered collateral", i, e.Token)
		case target != e.TargetName:
			addErr("basket[%d]: %s has target %s, entry says %s", i, e.Token, target, e.TargetName)
		}
		if e.RefAmt.IsZero() {
			addErr("basket[%d]: ref_amt must be positive", i)
		}
	}
	if dups := lo.FindDuplicates(lo.Map(d.Basket, func(e BasketEntry, _ int) string { return norm(e.Token) })); len(dups) > 0 {
		addErr("basket: duplicate tokens: %s", strings.Join(dups, ", "))
	}

	for i, b := range d.Backups {
		if b.Max < 0 {
			addErr("backups[%d]: max must not be negative", i)
		}
		for _, tok := range b.Tokens {
			if target, ok := collTargets[norm(tok)]; !ok || target != b.TargetName {
				addErr("backups[%d]: %s is not %s collateral", i, tok, b.TargetName)
			}
		}
	}

	if err := d.Distribution.Validate(); err != nil {
		addErr("distribution: %v", err)
	}
	if err := d.params().Validate(); err != nil {
		addErr("params: %v", err)
	}
	if err := d.BackingRules.rules().Validate(); err != nil {
		addErr("backing_rules: %v", err)
	}
	if err := d.RevenueRules.rules().Validate(); err != nil {
		addErr("revenue_rules: %v", err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidDeployment, strings.Join(errs, "\n  - "))
	}
	return nil
}

// ProtocolConfig converts a validated deployment for core.NewProtocol.
func (d *Deployment) ProtocolConfig() (core.ProtocolConfig, error) {
	cfg := core.ProtocolConfig{
		RSR:          d.RSR.feedAsset(),
		RToken:       d.RToken.asset(),
		Distribution: d.Distribution,
		Params:       d.params(),
		BackingRules: d.BackingRules.rules(),
		RevenueRules: d.RevenueRules.rules(),
	}

	for _, a := range d.Assets {
		cfg.Assets = append(cfg.Assets, a.feedAsset())
	}

	for _, c := range d.Collateral {
		plugin, err := collateral.NewPlugin(c.Plugin, c.Feeds)
		if err != nil {
			return core.ProtocolConfig{}, fmt.Errorf("collateral %s: %w", c.Symbol, err)
		}
		a := c.asset()
		cfg.Collateral = append(cfg.Collateral, core.CollateralAsset{
			CollateralConfig: collateral.CollateralConfig{
				ERC20:             a.ERC20,
				Symbol:            a.Symbol,
				Decimals:          a.Decimals,
				TargetName:        c.TargetName,
				TradingRange:      a.TradingRange,
				OracleTimeout:     c.OracleTimeout.Duration,
				DefaultThreshold:  c.DefaultThreshold,
				DelayUntilDefault: c.DelayUntilDefault.Duration,
				Plugin:            plugin,
			},
			ExchangeRate: c.ExchangeRate,
		})
	}

	for _, e := range d.Basket {
		cfg.Basket = append(cfg.Basket, basket.Entry{
			Token:      common.HexToAddress(e.Token),
			TargetName: e.TargetName,
			RefAmt:     e.RefAmt,
		})
	}

	for _, b := range d.Backups {
		cfg.Backups = append(cfg.Backups, basket.BackupConfig{
			TargetName: b.TargetName,
			Max:        b.Max,
			Tokens:     lo.Map(b.Tokens, func(s string, _ int) common.Address { return common.HexToAddress(s) }),
		})
	}
	return cfg, nil
}

func (d *Deployment) params() trading.Params {
	return trading.Params{TradingDelay: d.Params.TradingDelay.Duration, BackingBuffer: d.Params.BackingBuffer}
}

func (r RulesConfig) rules() trading.Rules {
	return trading.Rules{MaxTradeSlippage: r.MaxTradeSlippage, MinTradeVolume: r.MinTradeVolume}
}

func (a AssetConfig) asset() collateral.AssetConfig {
	return collateral.AssetConfig{
		ERC20:        common.HexToAddress(a.Address),
		Symbol:       a.Symbol,
		Decimals:     a.Decimals,
		TradingRange: a.TradingRange,
	}
}

func (f FeedAssetConfig) feedAsset() core.FeedAsset {
	return core.FeedAsset{AssetConfig: f.asset(), Feed: f.Feed, OracleTimeout: f.OracleTimeout.Duration}
}

func validAddress(s string) error {
	if !common.IsHexAddress(s) {
		return fmt.Errorf("%q is not a hex address", s)
	}
	if common.HexToAddress(s) == (common.Address{}) {
		return errors.New("zero address")
	}
	return nil
}

func norm(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
}
