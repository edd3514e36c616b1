package core

import (
	"RTokenLedger/internal/event"
	"time"
)

func (c *DeterministicCore) recordEmitted(emitted []event.Emitted) {
	for _, e := range emitted {
		switch e := e.(type) {
		case event.DefaultStatusChanged:
			c.metrics.CollateralStatusChanges.WithLabelValues(e.Token.Hex(), e.New.String()).Inc()
		case event.TradeStarted:
			c.metrics.TradesStarted.WithLabelValues(string(e.Trader)).Inc()
		case event.Haircut:
			c.metrics.Haircuts.Inc()
		}
	}
}

// recordGauges mirrors protocol state into gauges after every event. now is
// the event time, so feed ages are deterministic for a given log.
func (c *DeterministicCore) recordGauges(now time.Time) {
	for _, coll := range c.protocol.Registry.Collaterals() {
		c.metrics.CollateralStatus.WithLabelValues(coll.ERC20().Hex()).Set(float64(coll.Status()))
	}
	bs := c.BackingStatus()
	c.metrics.BasketStatus.Set(float64(bs.BasketStatus))
	c.metrics.BasketNonce.Set(float64(bs.BasketNonce))
	c.metrics.BasketsNeeded.Set(bs.BasketsNeeded.Decimal().InexactFloat64())
	c.metrics.RTokenSupply.Set(bs.Supply.Decimal().InexactFloat64())
	c.metrics.BasketsHeld.Set(bs.BasketsHeld.Decimal().InexactFloat64())
	for name, n := range bs.TradesOpen {
		c.metrics.TradesOpen.WithLabelValues(name).Set(float64(n))
	}
	for _, id := range c.protocol.Feeds.FeedIDs() {
		if _, at, err := c.protocol.Feeds.GetPrice(id); err == nil {
			c.metrics.OracleStaleness.WithLabelValues(id).Set(now.Sub(at).Seconds())
		}
	}
	c.metrics.DedupLRUSize.Set(float64(c.idempotency.lru.Size()))
	if ev := c.idempotency.lru.Evictions(); ev > c.evictionsSeen {
		c.metrics.DedupLRUEvictions.Add(float64(ev - c.evictionsSeen))
		c.evictionsSeen = ev
	}
}
