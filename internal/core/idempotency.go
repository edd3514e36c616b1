package core

import (
	"container/list"
	"time"
)

// DedupTier names where a duplicate was caught.
type DedupTier string

const (
	TierLRU      DedupTier = "lru"
	TierPostgres DedupTier = "postgres"
)

// DBIdempotencyChecker looks an event up in the durable event log.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

// DedupHooks observe the checker. Every field is optional.
type DedupHooks struct {
	OnDuplicate   func(eventType string, tier DedupTier)
	OnLookup      func(elapsed time.Duration)
	OnLookupError func(eventType string, err error)
}

// IdempotencyChecker answers "has (event type, idempotency key) been
// applied?" from the in-memory LRU first and the event log second. Owned
// by the core goroutine.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker
	hooks     DedupHooks
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
	}
}

func dedupKey(eventType, idempotencyKey string) string {
	return eventType + ":" + idempotencyKey
}

// IsDuplicate reports whether the event was already applied. A failed
// event-log lookup counts as unseen; strict partitions still reject a
// consumed source sequence.
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) bool {
	key := dedupKey(eventType, idempotencyKey)
	if ic.lru.Contains(key) {
		ic.duplicate(eventType, TierLRU)
		return true
	}
	if ic.dbChecker == nil {
		return false
	}

	start := time.Now()
	dup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
	if ic.hooks.OnLookup != nil {
		ic.hooks.OnLookup(time.Since(start))
	}
	if err != nil {
		if ic.hooks.OnLookupError != nil {
			ic.hooks.OnLookupError(eventType, err)
		}
		return false
	}
	if !dup {
		return false
	}
	ic.lru.Add(key)
	ic.duplicate(eventType, TierPostgres)
	return true
}

// MarkProcessed records an applied event in the LRU.
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	ic.lru.Add(dedupKey(eventType, idempotencyKey))
}

func (ic *IdempotencyChecker) duplicate(eventType string, tier DedupTier) {
	if ic.hooks.OnDuplicate != nil {
		ic.hooks.OnDuplicate(eventType, tier)
	}
}

// IdempotencyLRU is a bounded recency set of dedup keys.
type IdempotencyLRU struct {
	capacity  int
	index     map[string]*list.Element
	order     *list.List // front is most recent; values are string keys
	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		index:    make(map[string]*list.Element, min(capacity, 1<<16)),
		order:    list.New(),
	}
}

// Contains reports membership and refreshes recency on a hit.
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, ok := lru.index[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

func (lru *IdempotencyLRU) Add(key string) {
	if elem, ok := lru.index[key]; ok {
		lru.order.MoveToFront(elem)
		return
	}
	lru.index[key] = lru.order.PushFront(key)
	for lru.order.Len() > lru.capacity {
		oldest := lru.order.Back()
		lru.order.Remove(oldest)
		delete(lru.index, oldest.Value.(string))
		lru.evictions++
	}
}

// WarmFromKeys adds keys oldest first, so Keys() output round-trips.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// GetAllKeys lists keys from oldest to newest.
func (lru *IdempotencyLRU) GetAllKeys() []string {
	keys := make([]string, 0, lru.order.Len())
	for e := lru.order.Back(); e != nil; e = e.Prev() {
		keys = append(keys, e.Value.(string))
	}
	return keys
}

func (lru *IdempotencyLRU) Size() int { return lru.order.Len() }

func (lru *IdempotencyLRU) Evictions() int64 { return lru.evictions }
