package core

import (
	"RTokenLedger/internal/collateral"
	"RTokenLedger/internal/event"
	"RTokenLedger/internal/ledger"
	"RTokenLedger/internal/oracle"
	"RTokenLedger/internal/rtoken"
	"RTokenLedger/internal/trading"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidEvent   = errors.New("core: invalid event")
	ErrUnknownTradeID = errors.New("core: no open trade with this id")
)

func (c *DeterministicCore) handleOracleUpdate(evt *event.OracleUpdate) ([]event.Emitted, error) {
	if evt.FeedID == "" {
		return nil, fmt.Errorf("%w: empty feed id", ErrInvalidEvent)
	}
	changed := c.protocol.Feeds.Update(evt.FeedID, oracle.FeedPrice{
		Price:     evt.Price,
		Timestamp: evt.Timestamp,
		Sequence:  evt.FeedSequence,
	})
	if !changed {
		c.logger.Debug().Str("feed", evt.FeedID).Int64("feed_sequence", evt.FeedSequence).Msg("stale oracle update ignored")
	}
	return nil, nil
}

func (c *DeterministicCore) handleExchangeRateUpdate(evt *event.ExchangeRateUpdate) ([]event.Emitted, error) {
	if _, err := c.protocol.Registry.ToColl(evt.Token); err != nil {
		return nil, err
	}
	c.protocol.Rates.Set(evt.Token, evt.RefPerTok)
	return nil, nil
}

func (c *DeterministicCore) handleRefresh(now time.Time) ([]event.Emitted, error) {
	return statusEvents(c.protocol.Registry.RefreshAll(now)), nil
}

func (c *DeterministicCore) handleManageTokens(tx *ledger.Tx, evt *event.ManageTokensRequested, now time.Time) ([]event.Emitted, error) {
	bm := c.protocol.BackingManager
	out, err := bm.ManageTokens(tx, evt.Tokens, trading.TradeID(c.sequence), now)
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Int64("sequence", c.sequence).
		Str("outcome", out.Kind.String()).
		Str("baskets_held", out.BasketsHeld.String()).
		Msg("manageTokens")
	if c.metrics != nil {
		c.metrics.ManageOutcomes.WithLabelValues(event.TraderBacking, out.Kind.String()).Inc()
	}

	emitted := statusEvents(out.StatusChanges)
	switch out.Kind {
	case trading.OutcomeTradeStarted:
		emitted = append(emitted, tradeStarted(out.Trade))
	case trading.OutcomeHandout:
		if out.Needed != nil {
			emitted = append(emitted, neededChanged(*out.Needed))
		}
		if c.metrics != nil {
			for _, t := range out.Transfers {
				c.metrics.RevenueHandouts.WithLabelValues(string(t.To)).Inc()
			}
		}
	case trading.OutcomeHaircut:
		emitted = append(emitted,
			event.Haircut{BasketsHeld: out.BasketsHeld, Old: out.Needed.Old, New: out.Needed.New},
			neededChanged(*out.Needed))
		c.logger.Warn().
			Str("old", out.Needed.Old.String()).
			Str("new", out.Needed.New.String()).
			Msg("haircut: basketsNeeded written down")
	}
	return emitted, nil
}

func (c *DeterministicCore) handleManageToken(tx *ledger.Tx, evt *event.ManageTokenRequested, now time.Time) ([]event.Emitted, error) {
	rt, err := c.protocol.RevenueTrader(evt.Trader)
	if err != nil {
		return nil, err
	}
	out, err := rt.ManageToken(tx, evt.Token, trading.TradeID(c.sequence), now)
	if err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.ManageOutcomes.WithLabelValues(evt.Trader, out.Kind.String()).Inc()
	}

	emitted := statusEvents(out.StatusChanges)
	switch out.Kind {
	case trading.RevenueTradeStarted:
		emitted = append(emitted, tradeStarted(out.Trade))
	case trading.RevenueDistributed:
		d := out.Distributed
		emitted = append(emitted, event.RevenueDistributed{Token: d.Token, From: d.From, To: d.To, Amount: d.Amount})
	}
	return emitted, nil
}

func (c *DeterministicCore) handleTradeSettled(tx *ledger.Tx, evt *event.TradeSettled) ([]event.Emitted, error) {
	for _, nt := range c.protocol.traders() {
		if _, ok := nt.t.Find(evt.TradeID); !ok {
			continue
		}
		s, err := nt.t.SettleTrade(tx, evt.TradeID, evt.Sold, evt.Bought, evt.Failed)
		if err != nil {
			return nil, err
		}
		if c.metrics != nil {
			result := "filled"
			if s.Refunded {
				result = "refunded"
			}
			c.metrics.TradesClosed.WithLabelValues(nt.name, result).Inc()
		}
		req := s.Trade.Request
		return []event.Emitted{event.TradeClosed{
			TradeID:  s.Trade.ID,
			Trader:   s.Trade.Owner,
			Sell:     req.Sell,
			Buy:      req.Buy,
			Sold:     s.Sold,
			Bought:   s.Bought,
			Returned: s.Returned,
			Refunded: s.Refunded,
		}}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTradeID, evt.TradeID)
}

func (c *DeterministicCore) handleIssuance(tx *ledger.Tx, evt *event.Issuance) ([]event.Emitted, error) {
	res, err := c.protocol.RToken.Issue(tx, evt.Amount)
	if err != nil {
		return nil, err
	}
	return []event.Emitted{neededChanged(res.Needed)}, nil
}

func (c *DeterministicCore) handleRedemption(tx *ledger.Tx, evt *event.Redemption) ([]event.Emitted, error) {
	res, err := c.protocol.RToken.Redeem(tx, evt.Amount)
	if err != nil {
		return nil, err
	}
	return []event.Emitted{neededChanged(res.Needed)}, nil
}

func (c *DeterministicCore) handleBasketRefresh(now time.Time) ([]event.Emitted, error) {
	emitted := statusEvents(c.protocol.Registry.RefreshAll(now))
	bh := c.protocol.Basket
	if !bh.RefreshBasket(now) {
		return emitted, nil
	}

	set := event.BasketSet{Nonce: bh.Nonce()}
	for _, e := range bh.Entries() {
		set.Entries = append(set.Entries, event.BasketEntry{Token: e.Token, TargetName: e.TargetName, RefAmt: e.RefAmt})
	}
	c.logger.Info().Uint64("nonce", set.Nonce).Int("entries", len(set.Entries)).Msg("basket set")
	return append(emitted, set), nil
}

// handleParamUpdate validates every change before applying any of them.
func (c *DeterministicCore) handleParamUpdate(evt *event.ParamUpdate) ([]event.Emitted, error) {
	bm := c.protocol.BackingManager

	params := bm.Params()
	if evt.TradingDelay != nil {
		if d := *evt.TradingDelay; d < 0 || d > int64(trading.MaxTradingDelay/time.Second) {
			return nil, fmt.Errorf("%w: trading delay %ds out of range", trading.ErrInvalidParams, d)
		}
		params.TradingDelay = time.Duration(*evt.TradingDelay) * time.Second
	}
	if evt.BackingBuffer != nil {
		params.BackingBuffer = *evt.BackingBuffer
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	type ruleChange struct {
		t     *trading.Trading
		rules trading.Rules
	}
	var changes []ruleChange
	if evt.MaxTradeSlippage != nil || evt.MinTradeVolume != nil {
		matched := false
		for _, nt := range c.protocol.traders() {
			if evt.Trader != "" && evt.Trader != nt.name {
				continue
			}
			matched = true
			r := nt.t.Rules()
			if evt.MaxTradeSlippage != nil {
				r.MaxTradeSlippage = *evt.MaxTradeSlippage
			}
			if evt.MinTradeVolume != nil {
				r.MinTradeVolume = *evt.MinTradeVolume
			}
			if err := r.Validate(); err != nil {
				return nil, fmt.Errorf("%s: %w", nt.name, err)
			}
			changes = append(changes, ruleChange{nt.t, r})
		}
		if !matched {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTrader, evt.Trader)
		}
	}

	var emitted []event.Emitted
	if evt.TradingDelay != nil {
		old, err := bm.SetTradingDelay(params.TradingDelay)
		if err != nil {
			panic(fmt.Sprintf("FATAL: trading delay rejected after validation: %v", err))
		}
		emitted = append(emitted, event.TradingDelaySet{
			Old: int64(old / time.Second),
			New: int64(params.TradingDelay / time.Second),
		})
	}
	if evt.BackingBuffer != nil {
		old, err := bm.SetBackingBuffer(params.BackingBuffer)
		if err != nil {
			panic(fmt.Sprintf("FATAL: backing buffer rejected after validation: %v", err))
		}
		emitted = append(emitted, event.BackingBufferSet{Old: old, New: params.BackingBuffer})
	}
	for _, ch := range changes {
		if err := ch.t.SetRules(ch.rules); err != nil {
			panic(fmt.Sprintf("FATAL: trade rules rejected after validation: %v", err))
		}
	}
	return emitted, nil
}

func (c *DeterministicCore) handleCollateralDeposited(tx *ledger.Tx, evt *event.CollateralDeposited) ([]event.Emitted, error) {
	if !c.protocol.Registry.IsRegistered(evt.Token) {
		return nil, fmt.Errorf("%w: %s", trading.ErrUnregisteredToken, evt.Token.Hex())
	}
	if evt.Amount.IsZero() {
		return nil, fmt.Errorf("%w: zero deposit", ErrInvalidEvent)
	}
	err := tx.Transfer(
		ledger.NewExternalAccountKey(ledger.HolderYield, evt.Token),
		ledger.NewProtocolAccountKey(ledger.HolderBackingManager, evt.Token),
		evt.Amount, ledger.JournalTypeDeposit)
	if err != nil {
		return nil, err
	}
	return nil, nil
}

func statusEvents(changes []collateral.StatusChange) []event.Emitted {
	out := make([]event.Emitted, 0, len(changes))
	for _, sc := range changes {
		out = append(out, event.DefaultStatusChanged{
			Token:       sc.Token,
			TargetName:  sc.TargetName,
			Old:         sc.Old,
			New:         sc.New,
			WhenDefault: sc.WhenDefault,
		})
	}
	return out
}

func tradeStarted(tr *trading.Trade) event.TradeStarted {
	return event.TradeStarted{
		TradeID:      tr.ID,
		Trader:       tr.Owner,
		Sell:         tr.Request.Sell,
		Buy:          tr.Request.Buy,
		SellAmount:   tr.Request.SellAmount,
		MinBuyAmount: tr.Request.MinBuyAmount,
	}
}

func neededChanged(n rtoken.NeededChange) event.BasketsNeededChanged {
	return event.BasketsNeededChanged{Old: n.Old, New: n.New}
}
