package persistence_test

import (
	"RTokenLedger/internal/core"
	"RTokenLedger/internal/event"
	fpmath "RTokenLedger/internal/math"
	"RTokenLedger/internal/persistence"
	"RTokenLedger/internal/testutil"
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	testutil.RequireIntegration(t)
	db := testutil.SetupTestDB(t)
	require.NoError(t, persistence.NewMigrator(db, "../../migrations", zerolog.Nop()).Up(context.Background()))
	return db
}

func at() int64 { return testutil.T0.Unix() }

func feedEvents() []event.Event {
	return []event.Event{
		&event.ExchangeRateUpdate{Token: testutil.CUSDC, RefPerTok: fpmath.MustParse("0.02"), RateSequence: 1, Timestamp: at()},
		&event.OracleUpdate{FeedID: "USDC/USD", Price: fpmath.MustParse("1"), FeedSequence: 1, Timestamp: at()},
		&event.OracleUpdate{FeedID: "DAI/USD", Price: fpmath.MustParse("1"), FeedSequence: 1, Timestamp: at()},
		&event.OracleUpdate{FeedID: "RSR/USD", Price: fpmath.MustParse("0.005"), FeedSequence: 1, Timestamp: at()},
	}
}

func issuance(amount string, seq int64) *event.Issuance {
	return &event.Issuance{IssuanceID: uuid.New(), Amount: fpmath.MustParse(amount), Sequence: seq, Timestamp: at()}
}

// persistAll runs the events through a live core and a persistence worker
// until every output is committed.
func persistAll(t *testing.T, db *sql.DB, c *core.DeterministicCore, ch chan core.CoreOutput, evts ...event.Event) {
	t.Helper()
	for _, evt := range evts {
		require.NoError(t, c.ProcessEvent(evt))
	}

	in := make(chan core.CoreOutput, len(evts))
	for len(ch) > 0 {
		in <- <-ch
	}
	close(in)
	w := persistence.NewPersistenceWorker(db, in, 2, 10*time.Millisecond, nil, zerolog.Nop())
	require.NoError(t, w.Run(context.Background()))
}

func TestEventLog_WriteThenReplay(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	ch := make(chan core.CoreOutput, 64)
	live := core.NewDeterministicCore(0, testutil.NewProtocol(t), ch, nil, nil, nil, zerolog.Nop())
	first := issuance("100", 0)
	persistAll(t, db, live, ch, append(feedEvents(), first, issuance("25", 1))...)

	sm := persistence.NewSnapshotManager(db)
	latest, err := sm.GetLatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, live.GetSequence()-1, latest)

	dup, err := persistence.NewPostgresIdempotencyChecker(db).IsDuplicate(first.EventType().String(), first.IdempotencyKey())
	require.NoError(t, err)
	assert.True(t, dup, "persisted event must be found by the tier-2 dedup lookup")

	replayed := core.NewDeterministicCore(0, testutil.NewProtocol(t), nil, nil, nil, nil, zerolog.Nop())
	n, err := sm.ReplayFromLog(ctx, replayed, zerolog.Nop())
	require.NoError(t, err)
	assert.EqualValues(t, latest+1, n)
	assert.Equal(t, live.GetStateHash(), replayed.GetStateHash())
	assert.Equal(t, live.GetSequence(), replayed.GetSequence())
}

func TestSnapshot_SaveLoadAndReplayTail(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	ch := make(chan core.CoreOutput, 64)
	live := core.NewDeterministicCore(0, testutil.NewProtocol(t), ch, nil, nil, nil, zerolog.Nop())
	persistAll(t, db, live, ch, append(feedEvents(), issuance("100", 0))...)

	sm := persistence.NewSnapshotManager(db)
	snap := live.CreateSnapshotState()
	info, err := sm.SaveSnapshot(ctx, snap, true, testutil.T0)
	require.NoError(t, err)
	assert.Equal(t, snap.Sequence, info.Sequence)
	assert.Positive(t, info.SizeBytes)

	// Events after the snapshot are only in the log.
	persistAll(t, db, live, ch, issuance("5", 1))

	loaded, err := sm.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, snap.Sequence, loaded.Sequence)
	assert.Equal(t, snap.StateHash, loaded.StateHash)

	restored := core.NewDeterministicCore(0, testutil.NewProtocol(t), nil, nil, nil, nil, zerolog.Nop())
	require.NoError(t, restored.RestoreFromSnapshot(loaded))
	n, err := sm.ReplayFromLog(ctx, restored, zerolog.Nop())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, live.GetStateHash(), restored.GetStateHash())

	snaps, err := sm.ListSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].Verified)
}

func TestSnapshot_NoneOnColdStart(t *testing.T) {
	db := setupDB(t)
	snap, err := persistence.NewSnapshotManager(db).LoadLatestSnapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestMigrator_NothingPendingAfterUp(t *testing.T) {
	db := setupDB(t)
	pending, err := persistence.NewMigrator(db, "../../migrations", zerolog.Nop()).Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}
