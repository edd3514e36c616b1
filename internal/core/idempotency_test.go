package core_test

import (
	"RTokenLedger/internal/core"
	"errors"
	"reflect"
	"testing"
)

type fakeEventLog struct {
	seen  map[string]bool
	err   error
	calls int
}

func (f *fakeEventLog) IsDuplicate(eventType, key string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.seen[eventType+"/"+key], nil
}

func TestIdempotencyLRU_EvictsLeastRecent(t *testing.T) {
	lru := core.NewIdempotencyLRU(2)
	lru.Add("a")
	lru.Add("b")
	lru.Contains("a") // a is now most recent
	lru.Add("c")

	if lru.Contains("b") {
		t.Error("b should have been evicted")
	}
	if !lru.Contains("a") || !lru.Contains("c") {
		t.Error("a and c should remain")
	}
	if lru.Evictions() != 1 {
		t.Errorf("evictions: got %d, want 1", lru.Evictions())
	}
}

func TestIdempotencyLRU_KeysRoundTrip(t *testing.T) {
	lru := core.NewIdempotencyLRU(10)
	for _, k := range []string{"x", "y", "z"} {
		lru.Add(k)
	}
	lru.Contains("x")

	warm := core.NewIdempotencyLRU(10)
	warm.WarmFromKeys(lru.GetAllKeys())
	if !reflect.DeepEqual(warm.GetAllKeys(), []string{"y", "z", "x"}) {
		t.Errorf("recency order lost: %v", warm.GetAllKeys())
	}
}

func TestIdempotencyChecker_Tiers(t *testing.T) {
	log := &fakeEventLog{seen: map[string]bool{"Issuance/old": true}}
	ic := core.NewIdempotencyChecker(16, log)

	if ic.IsDuplicate("Issuance", "new") {
		t.Fatal("unseen key reported duplicate")
	}
	if !ic.IsDuplicate("Issuance", "old") {
		t.Fatal("event log hit not reported")
	}
	calls := log.calls
	if !ic.IsDuplicate("Issuance", "old") || log.calls != calls {
		t.Error("second lookup should be served from the LRU")
	}

	ic.MarkProcessed("Redemption", "new")
	if !ic.IsDuplicate("Redemption", "new") {
		t.Error("processed key not remembered")
	}
	if ic.IsDuplicate("Issuance", "new") {
		t.Error("keys are scoped by event type")
	}
}

func TestIdempotencyChecker_LookupErrorCountsAsUnseen(t *testing.T) {
	ic := core.NewIdempotencyChecker(16, &fakeEventLog{err: errors.New("timeout")})
	if ic.IsDuplicate("Issuance", "k") {
		t.Error("failed lookup must not report a duplicate")
	}
}
