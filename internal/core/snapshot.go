package core

import (
	"RTokenLedger/internal/basket"
	"RTokenLedger/internal/collateral"
	"RTokenLedger/internal/ledger"
	fpmath "RTokenLedger/internal/math"
	"RTokenLedger/internal/oracle"
	"RTokenLedger/internal/rtoken"
	"RTokenLedger/internal/trading"
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// SnapshotState is the core's full in-memory state. It is JSON-encoded as
// the snapshot payload.
type SnapshotState struct {
	Sequence  int64    `json:"sequence"` // last processed
	StateHash [32]byte `json:"state_hash"`

	Balances map[string]string `json:"balances"` // account path -> integer quanta

	Feeds          map[string]oracle.FeedPrice                   `json:"feeds"`
	Rates          map[common.Address]fpmath.Fix                 `json:"rates"`
	Collateral     map[common.Address]collateral.CollateralState `json:"collateral"`
	Basket         basket.State                                  `json:"basket"`
	RToken         rtoken.State                                  `json:"rtoken"`
	BackingManager trading.TraderState                           `json:"backing_manager"`
	RSRTrader      trading.TraderState                           `json:"rsr_trader"`
	RTokenTrader   trading.TraderState                           `json:"rtoken_trader"`

	SequenceState   map[string]int64 `json:"sequence_state"`
	IdempotencyKeys []string         `json:"idempotency_keys"`
}

// RestoreFromSnapshot replaces the core's state. Call before processing any
// event; the protocol must have been built from the same deployment.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	p := c.protocol

	for path, raw := range snap.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return fmt.Errorf("restore balances: %w", err)
		}
		v, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return fmt.Errorf("restore balances: %s: bad amount %q", path, raw)
		}
		c.balanceTracker.SetBalance(key, v)
	}

	p.Feeds.Restore(snap.Feeds)
	p.Rates.Restore(snap.Rates)
	if err := p.Registry.Restore(snap.Collateral); err != nil {
		return err
	}
	if err := p.Basket.Restore(snap.Basket); err != nil {
		return err
	}
	p.RToken.Restore(snap.RToken)
	if err := p.BackingManager.Restore(snap.BackingManager); err != nil {
		return fmt.Errorf("restore backing manager: %w", err)
	}
	if err := p.RSRTrader.Restore(snap.RSRTrader); err != nil {
		return fmt.Errorf("restore rsr trader: %w", err)
	}
	if err := p.RTokenTrader.Restore(snap.RTokenTrader); err != nil {
		return fmt.Errorf("restore rtoken trader: %w", err)
	}

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}

	c.sequence = snap.Sequence + 1
	c.hasher.Reset(snap.StateHash)
	c.journalGen.SetSequence(c.sequence)
	c.WarmLRU(snap.IdempotencyKeys)
	return nil
}

// WarmLRU loads recent idempotency keys into the LRU cache so restarts do
// not fall through to Postgres for recently processed events.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// SetLRUCapacity resizes the tier-1 dedup cache. Call before the first
// event or restore.
func (c *DeterministicCore) SetLRUCapacity(capacity int) {
	c.idempotency.lru = NewIdempotencyLRU(capacity)
	c.evictionsSeen = 0
}

// GetSequence returns the next sequence the core will assign.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.Tip()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	p := c.protocol

	balances := make(map[string]string)
	for key, v := range c.balanceTracker.Snapshot() {
		if v.Sign() == 0 {
			continue
		}
		balances[key.AccountPath()] = v.String()
	}

	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.Tip(),
		Balances:        balances,
		Feeds:           p.Feeds.Snapshot(),
		Rates:           p.Rates.Snapshot(),
		Collateral:      p.Registry.Snapshot(),
		Basket:          p.Basket.Snapshot(),
		RToken:          p.RToken.Snapshot(),
		BackingManager:  p.BackingManager.Snapshot(),
		RSRTrader:       p.RSRTrader.Snapshot(),
		RTokenTrader:    p.RTokenTrader.Snapshot(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}

// computeStateDigest creates canonical bytes for the state hash: every
// account the batch touched with its new balance, then every collateral
// status, then the RToken's supply and basketsNeeded and the basket nonce.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch) []byte {
	affected := make(map[ledger.AccountKey]bool)
	for _, j := range batch.Journals {
		affected[j.DebitAccount] = true
		affected[j.CreditAccount] = true
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	var buf bytes.Buffer
	for _, key := range accounts {
		appendBytes(&buf, []byte(key.AccountPath()))
		bal := c.balanceTracker.GetBalance(key)
		sign := byte(0)
		if bal.Sign() < 0 {
			sign = 1
		}
		buf.WriteByte(sign)
		appendBytes(&buf, bal.Bytes())
	}

	p := c.protocol
	for _, coll := range p.Registry.Collaterals() {
		buf.Write(coll.ERC20().Bytes())
		buf.WriteByte(byte(coll.Status()))
	}
	appendBytes(&buf, []byte(p.RToken.Supply().String()))
	appendBytes(&buf, []byte(p.RToken.BasketsNeeded().String()))
	appendUint64LE(&buf, p.Basket.Nonce())

	return buf.Bytes()
}

func appendBytes(buf *bytes.Buffer, b []byte) {
	appendUint64LE(buf, uint64(len(b)))
	buf.Write(b)
}

func appendUint64LE(buf *bytes.Buffer, v uint64) {
	buf.Write([]byte{
		byte(v),
		byte(v >> 8),
		byte(v >> 16),
		byte(v >> 24),
		byte(v >> 32),
		byte(v >> 40),
		byte(v >> 48),
		byte(v >> 56),
	})
}
