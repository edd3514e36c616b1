package core

import (
	"RTokenLedger/internal/basket"
	"RTokenLedger/internal/collateral"
	"RTokenLedger/internal/event"
	"RTokenLedger/internal/ledger"
	"RTokenLedger/internal/oracle"
	"RTokenLedger/internal/rtoken"
	"RTokenLedger/internal/trading"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// FeedAsset is a plain asset priced straight from one {UoA/tok} feed.
type FeedAsset struct {
	collateral.AssetConfig
	Feed          string
	OracleTimeout time.Duration
}

// CollateralAsset is a collateral registration. ExchangeRate wires the
// collateral's refPerTok to the rate book.
type CollateralAsset struct {
	collateral.CollateralConfig
	ExchangeRate bool
}

// ProtocolConfig is a full deployment: assets, basket, revenue split and
// trading parameters.
type ProtocolConfig struct {
	RSR        FeedAsset
	RToken     collateral.AssetConfig
	Assets     []FeedAsset
	Collateral []CollateralAsset

	Basket  []basket.Entry
	Backups []basket.BackupConfig

	Distribution trading.Distribution
	Params       trading.Params
	BackingRules trading.Rules
	RevenueRules trading.Rules
}

// Protocol wires the components of one RToken deployment. Everything in it
// is owned by the single-threaded core.
type Protocol struct {
	Feeds          *oracle.FeedBook
	Rates          *oracle.RateBook
	Registry       *collateral.Registry
	Basket         *basket.Handler
	RToken         *rtoken.RToken
	Distributor    *trading.Distributor
	BackingManager *trading.BackingManager
	RSRTrader      *trading.RevenueTrader
	RTokenTrader   *trading.RevenueTrader

	RSR common.Address
}

func NewProtocol(cfg ProtocolConfig) (*Protocol, error) {
	p := &Protocol{
		Feeds:    oracle.NewFeedBook(),
		Rates:    oracle.NewRateBook(),
		Registry: collateral.NewRegistry(),
		RSR:      cfg.RSR.ERC20,
	}

	for _, cc := range cfg.Collateral {
		c := cc.CollateralConfig
		if cc.ExchangeRate {
			c.Rates = p.Rates
		}
		coll, err := collateral.NewCollateral(c, p.Feeds)
		if err != nil {
			return nil, err
		}
		if err := p.Registry.Register(coll); err != nil {
			return nil, err
		}
	}

	for _, fa := range append([]FeedAsset{cfg.RSR}, cfg.Assets...) {
		if err := p.registerFeedAsset(fa); err != nil {
			return nil, err
		}
	}

	var err error
	p.Basket, err = basket.NewHandler(p.Registry, cfg.Basket, cfg.Backups)
	if err != nil {
		return nil, err
	}

	p.RToken = rtoken.New(cfg.RToken.ERC20, p.Basket)
	rTokAsset, err := collateral.NewPlainAsset(cfg.RToken, p.RToken.Pricer())
	if err != nil {
		return nil, err
	}
	if err := p.Registry.Register(rTokAsset); err != nil {
		return nil, err
	}

	p.Distributor, err = trading.NewDistributor(cfg.Distribution, cfg.RSR.ERC20, cfg.RToken.ERC20)
	if err != nil {
		return nil, err
	}
	p.BackingManager, err = trading.NewBackingManager(
		p.Registry, p.Basket, p.RToken, p.Distributor, cfg.RSR.ERC20, cfg.Params, cfg.BackingRules)
	if err != nil {
		return nil, err
	}
	p.RSRTrader, err = trading.NewRevenueTrader(
		ledger.HolderRSRTrader, cfg.RSR.ERC20, p.Registry, p.Distributor, cfg.RevenueRules)
	if err != nil {
		return nil, err
	}
	p.RTokenTrader, err = trading.NewRevenueTrader(
		ledger.HolderRTokenTrader, cfg.RToken.ERC20, p.Registry, p.Distributor, cfg.RevenueRules)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Protocol) registerFeedAsset(fa FeedAsset) error {
	if fa.Feed == "" || fa.OracleTimeout <= 0 {
		return fmt.Errorf("%w: asset %q needs a feed and an oracle timeout", collateral.ErrInvalidConfig, fa.Symbol)
	}
	a, err := collateral.NewPlainAsset(fa.AssetConfig, collateral.FeedPricer(p.Feeds, fa.Feed, fa.OracleTimeout))
	if err != nil {
		return err
	}
	return p.Registry.Register(a)
}

// RevenueTrader resolves a trader name from the wire.
func (p *Protocol) RevenueTrader(name string) (*trading.RevenueTrader, error) {
	switch name {
	case event.TraderRSR:
		return p.RSRTrader, nil
	case event.TraderRToken:
		return p.RTokenTrader, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTrader, name)
	}
}

// traders lists every trader in a fixed order: backing, rsr, rtoken.
func (p *Protocol) traders() []namedTrader {
	return []namedTrader{
		{event.TraderBacking, &p.BackingManager.Trading},
		{event.TraderRSR, &p.RSRTrader.Trading},
		{event.TraderRToken, &p.RTokenTrader.Trading},
	}
}

type namedTrader struct {
	name string
	t    *trading.Trading
}
