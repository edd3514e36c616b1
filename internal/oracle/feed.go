// Package oracle holds the latest observed feed prices and wrapper exchange
// rates. It is fed by inbound events and read by collateral plugins.
package oracle

import (
	fpmath "RTokenLedger/internal/math"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrStale   = errors.New("oracle: stale price")
	ErrInvalid = errors.New("oracle: invalid price")
)

// PriceOracleAdapter supplies the latest price for a feed together with the
// time it was observed. It never retries: the next refresh is the retry.
type PriceOracleAdapter interface {
	GetPrice(feedID string) (fpmath.Fix, time.Time, error)
}

// RateSource supplies refPerTok for exchange-rate wrappers.
type RateSource interface {
	RefPerTok(token common.Address) (fpmath.Fix, error)
}

// FeedPrice is one observation of a feed.
type FeedPrice struct {
	Price     fpmath.Fix `json:"price"`
	Timestamp int64      `json:"timestamp"` // unix seconds
	Sequence  int64      `json:"sequence"`
}

// FeedBook is the in-memory oracle. Not thread-safe: only accessed from the
// single-threaded core.
type FeedBook struct {
	feeds map[string]FeedPrice
}

func NewFeedBook() *FeedBook {
	return &FeedBook{feeds: make(map[string]FeedPrice)}
}

// Update records a new observation. Observations older than the current one
// are ignored; it reports whether the book changed.
func (fb *FeedBook) Update(feedID string, p FeedPrice) bool {
	cur, ok := fb.feeds[feedID]
	if ok && p.Timestamp < cur.Timestamp {
		return false
	}
	fb.feeds[feedID] = p
	return true
}

// GetPrice implements PriceOracleAdapter. Unknown feeds and zero prices are
// ErrInvalid; staleness is judged by the caller against its own timeout.
func (fb *FeedBook) GetPrice(feedID string) (fpmath.Fix, time.Time, error) {
	p, ok := fb.feeds[feedID]
	if !ok {
		return fpmath.Zero, time.Time{}, fmt.Errorf("%w: no data for feed %q", ErrInvalid, feedID)
	}
	if p.Price.IsZero() {
		return fpmath.Zero, time.Unix(p.Timestamp, 0), fmt.Errorf("%w: feed %q reported zero", ErrInvalid, feedID)
	}
	return p.Price, time.Unix(p.Timestamp, 0), nil
}

// Snapshot returns a copy of every feed.
func (fb *FeedBook) Snapshot() map[string]FeedPrice {
	out := make(map[string]FeedPrice, len(fb.feeds))
	for k, v := range fb.feeds {
		out[k] = v
	}
	return out
}

// Restore replaces the book's content (snapshot restore only).
func (fb *FeedBook) Restore(feeds map[string]FeedPrice) {
	fb.feeds = make(map[string]FeedPrice, len(feeds))
	for k, v := range feeds {
		fb.feeds[k] = v
	}
}

// FeedIDs returns the known feed IDs in sorted order.
func (fb *FeedBook) FeedIDs() []string {
	ids := make([]string, 0, len(fb.feeds))
	for id := range fb.feeds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
