// Package basket holds the target basket and answers how many basket units
// (BUs) an account holds.
package basket

import (
	"RTokenLedger/internal/collateral"
	"RTokenLedger/internal/ledger"
	fpmath "RTokenLedger/internal/math"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
)

var (
	ErrEmptyBasket   = errors.New("basket: empty basket")
	ErrInvalidBasket = errors.New("basket: invalid basket config")
)

// Entry is one basket member: RefAmt reference units per BU.
type Entry struct {
	Token      common.Address `json:"token"`
	TargetName string         `json:"target_name"`
	RefAmt     fpmath.Fix     `json:"ref_amt"`
}

// BackupConfig lists the replacement collateral for one target name,
// in order of preference.
type BackupConfig struct {
	TargetName string
	Max        int
	Tokens     []common.Address
}

// Amount is a token quantity.
type Amount struct {
	Token  common.Address
	Amount fpmath.Fix
}

// State is the mutable part of a Handler, for snapshots.
type State struct {
	Entries   []Entry `json:"entries"`
	Nonce     uint64  `json:"nonce"`
	Timestamp int64   `json:"timestamp"`
}

// Handler owns the primary basket config and the current basket.
type Handler struct {
	reg     *collateral.Registry
	primary []Entry
	backups map[string]BackupConfig

	current   []Entry
	nonce     uint64
	timestamp int64 // unix seconds of the last basket change
}

func NewHandler(reg *collateral.Registry, primary []Entry, backups []BackupConfig) (*Handler, error) {
	if len(primary) == 0 {
		return nil, ErrEmptyBasket
	}
	tokens := lo.Map(primary, func(e Entry, _ int) common.Address { return e.Token })
	if dups := lo.FindDuplicates(tokens); len(dups) > 0 {
		return nil, fmt.Errorf("%w: duplicate token %s", ErrInvalidBasket, dups[0].Hex())
	}
	for _, e := range primary {
		if e.RefAmt.IsZero() {
			return nil, fmt.Errorf("%w: %s has zero weight", ErrInvalidBasket, e.Token.Hex())
		}
		if err := checkTarget(reg, e.Token, e.TargetName); err != nil {
			return nil, err
		}
	}

	bm := make(map[string]BackupConfig, len(backups))
	for _, b := range backups {
		if b.Max < 0 {
			return nil, fmt.Errorf("%w: backup max for %s is negative", ErrInvalidBasket, b.TargetName)
		}
		for _, token := range b.Tokens {
			if err := checkTarget(reg, token, b.TargetName); err != nil {
				return nil, err
			}
		}
		bm[b.TargetName] = b
	}

	h := &Handler{
		reg:     reg,
		primary: append([]Entry(nil), primary...),
		backups: bm,
		current: append([]Entry(nil), primary...),
		nonce:   1,
	}
	return h, nil
}

func checkTarget(reg *collateral.Registry, token common.Address, target string) error {
	c, err := reg.ToColl(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBasket, err)
	}
	if c.TargetName() != target {
		return fmt.Errorf("%w: %s tracks %s, not %s", ErrInvalidBasket, c.Symbol(), c.TargetName(), target)
	}
	return nil
}

// Entries returns a copy of the current basket.
func (h *Handler) Entries() []Entry {
	return append([]Entry(nil), h.current...)
}

func (h *Handler) Tokens() []common.Address {
	return lo.Map(h.current, func(e Entry, _ int) common.Address { return e.Token })
}

func (h *Handler) Contains(token common.Address) bool {
	return lo.ContainsBy(h.current, func(e Entry) bool { return e.Token == token })
}

func (h *Handler) Nonce() uint64 { return h.nonce }

// Timestamp is the unix time of the last basket change.
func (h *Handler) Timestamp() int64 { return h.timestamp }

// Quantity is the number of whole tokens in one BU: refAmt / refPerTok,
// rounded up. Zero for tokens outside the basket and for DISABLED collateral.
func (h *Handler) Quantity(token common.Address) fpmath.Fix {
	e, ok := lo.Find(h.current, func(e Entry) bool { return e.Token == token })
	if !ok {
		return fpmath.Zero
	}
	c, err := h.reg.ToColl(token)
	if err != nil {
		panic(fmt.Sprintf("FATAL: basket member %s is not registered collateral", token.Hex()))
	}
	if c.Status() == collateral.StatusDisabled || c.RefPerTok().IsZero() {
		return fpmath.Zero
	}
	return e.RefAmt.Div(c.RefPerTok(), fpmath.RoundUp)
}

// Status is the worst status across basket members; an empty basket is
// DISABLED.
func (h *Handler) Status() collateral.CollateralStatus {
	if len(h.current) == 0 {
		return collateral.StatusDisabled
	}
	statuses := lo.Map(h.current, func(e Entry, _ int) collateral.CollateralStatus {
		c, err := h.reg.ToColl(e.Token)
		if err != nil {
			return collateral.StatusDisabled
		}
		return c.Status()
	})
	return collateral.Worst(statuses...)
}

// BasketsHeldBy returns how many whole BUs the holder's balances cover:
// min over members of bal / quantity, rounded down. Zero when any member is
// DISABLED.
func (h *Handler) BasketsHeldBy(bals ledger.BalanceReader, holder ledger.Holder) fpmath.Fix {
	if len(h.current) == 0 {
		return fpmath.Zero
	}
	held := fpmath.Inf
	for _, e := range h.current {
		c, err := h.reg.ToColl(e.Token)
		if err != nil || c.Status() == collateral.StatusDisabled {
			return fpmath.Zero
		}
		q := h.Quantity(e.Token)
		if q.IsZero() {
			continue
		}
		held = fpmath.Min(held, bals.BalanceOf(holder, e.Token).Div(q, fpmath.RoundDown))
	}
	if held == fpmath.Inf {
		return fpmath.Zero
	}
	return held
}

// Price is the {UoA/BU}: sum of quantity * price. Fails if any member
// with a non-zero quantity cannot be priced.
func (h *Handler) Price(now time.Time) (fpmath.Fix, error) {
	total := fpmath.Zero
	for _, e := range h.current {
		q := h.Quantity(e.Token)
		if q.IsZero() {
			continue
		}
		a, err := h.reg.ToAsset(e.Token)
		if err != nil {
			return fpmath.Zero, err
		}
		p, err := a.Price(now)
		if err != nil {
			return fpmath.Zero, fmt.Errorf("basket price: %s: %w", a.Symbol(), err)
		}
		total = total.Add(q.Mul(p, fpmath.RoundHalfUp))
	}
	return total, nil
}

// Quote returns the token amounts for a number of BUs.
func (h *Handler) Quote(baskets fpmath.Fix, mode fpmath.RoundingMode) []Amount {
	out := make([]Amount, 0, len(h.current))
	for _, e := range h.current {
		out = append(out, Amount{
			Token:  e.Token,
			Amount: baskets.Mul(h.Quantity(e.Token), mode),
		})
	}
	return out
}

// RefreshBasket rebuilds the basket from the primary config, replacing
// DISABLED members with SOUND backups of the same target. The replaced
// weight is split evenly across the backups. With no usable backup the
// DISABLED member stays and the basket stays DISABLED. Returns true when
// the basket changed.
func (h *Handler) RefreshBasket(now time.Time) bool {
	next := make([]Entry, 0, len(h.primary))
	targets := lo.Uniq(lo.Map(h.primary, func(e Entry, _ int) string { return e.TargetName }))

	for _, target := range targets {
		members := lo.Filter(h.primary, func(e Entry, _ int) bool { return e.TargetName == target })
		good := lo.Filter(members, func(e Entry, _ int) bool { return !h.disabled(e.Token) })
		if len(good) == len(members) {
			next = append(next, members...)
			continue
		}

		lost := lo.Reduce(members, func(acc fpmath.Fix, e Entry, _ int) fpmath.Fix {
			if h.disabled(e.Token) {
				return acc.Add(e.RefAmt)
			}
			return acc
		}, fpmath.Zero)

		backups := h.soundBackups(target, members)
		if len(backups) == 0 {
			next = append(next, members...)
			continue
		}
		next = append(next, good...)
		share := lost.Div(fpmath.NewFix(uint64(len(backups))), fpmath.RoundDown)
		for _, token := range backups {
			next = append(next, Entry{Token: token, TargetName: target, RefAmt: share})
		}
	}

	if equalEntries(next, h.current) {
		return false
	}
	h.current = next
	h.nonce++
	h.timestamp = now.Unix()
	return true
}

func (h *Handler) disabled(token common.Address) bool {
	c, err := h.reg.ToColl(token)
	return err != nil || c.Status() == collateral.StatusDisabled
}

// soundBackups picks up to Max SOUND backups for target that are not
// already primary members.
func (h *Handler) soundBackups(target string, members []Entry) []common.Address {
	cfg, ok := h.backups[target]
	if !ok {
		return nil
	}
	var out []common.Address
	for _, token := range cfg.Tokens {
		if len(out) >= cfg.Max {
			break
		}
		if lo.ContainsBy(members, func(e Entry) bool { return e.Token == token }) {
			continue
		}
		c, err := h.reg.ToColl(token)
		if err != nil || c.Status() != collateral.StatusSound {
			continue
		}
		out = append(out, token)
	}
	return out
}

func equalEntries(a, b []Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Snapshot returns the current basket state.
func (h *Handler) Snapshot() State {
	return State{Entries: h.Entries(), Nonce: h.nonce, Timestamp: h.timestamp}
}

func (h *Handler) Restore(s State) error {
	for _, e := range s.Entries {
		if err := checkTarget(h.reg, e.Token, e.TargetName); err != nil {
			return fmt.Errorf("restore basket: %w", err)
		}
	}
	h.current = append([]Entry(nil), s.Entries...)
	h.nonce = s.Nonce
	h.timestamp = s.Timestamp
	return nil
}
