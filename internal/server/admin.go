package server

import (
	"RTokenLedger/internal/core"
	"RTokenLedger/internal/observability"
	"RTokenLedger/internal/persistence"
	"RTokenLedger/internal/projection"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// AdminOps are the operator endpoints. *Admin satisfies it.
type AdminOps interface {
	TakeSnapshot(ctx context.Context) (persistence.SnapshotInfo, error)
	RebuildProjections(ctx context.Context) error
	EventLogInfo(ctx context.Context) (EventLogInfo, error)
}

// EventLogInfo compares the durable log with the running core and the
// projections.
type EventLogInfo struct {
	LastPersisted   int64 `json:"last_persisted_sequence"`
	CoreSequence    int64 `json:"core_sequence"`
	ProjectionSeq   int64 `json:"projection_sequence"`
	LastSnapshotSeq int64 `json:"last_snapshot_sequence"`
}

type Admin struct {
	db        *sql.DB
	loop      *core.Loop
	snapshots *persistence.SnapshotManager
	cache     projection.Invalidator
	metrics   *observability.Metrics
	logger    zerolog.Logger

	durable func() int64
}

func NewAdmin(
	db *sql.DB,
	loop *core.Loop,
	snapshots *persistence.SnapshotManager,
	cache projection.Invalidator,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Admin {
	return &Admin{
		db:        db,
		loop:      loop,
		snapshots: snapshots,
		cache:     cache,
		metrics:   metrics,
		logger:    logger,
	}
}

// WithDurableSequence makes snapshots wait until fn reports the captured
// sequence as persisted. A snapshot must never be ahead of the event log.
func (a *Admin) WithDurableSequence(fn func() int64) *Admin {
	a.durable = fn
	return a
}

// TakeSnapshot captures the core state between events and stores it. The
// capture runs on the core loop, so the snapshot is consistent.
func (a *Admin) TakeSnapshot(ctx context.Context) (persistence.SnapshotInfo, error) {
	start := time.Now()
	snap, err := a.loop.Snapshot(ctx)
	if err != nil {
		return persistence.SnapshotInfo{}, fmt.Errorf("capture snapshot: %w", err)
	}
	if err := a.awaitDurable(ctx, snap.Sequence); err != nil {
		return persistence.SnapshotInfo{}, err
	}

	info, err := a.snapshots.SaveSnapshot(ctx, snap, true, time.Now().UTC())
	if err != nil {
		return persistence.SnapshotInfo{}, err
	}

	if a.metrics != nil {
		a.metrics.SnapshotTaken.Inc()
		a.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		a.metrics.SnapshotSizeBytes.Set(float64(info.SizeBytes))
		a.metrics.SnapshotLastSeq.Set(float64(info.Sequence))
	}
	a.logger.Info().
		Int64("seq", info.Sequence).
		Int("bytes", info.SizeBytes).
		Dur("took", time.Since(start)).
		Msg("snapshot saved")
	return info, nil
}

func (a *Admin) awaitDurable(ctx context.Context, seq int64) error {
	if a.durable == nil {
		return nil
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for a.durable() < seq {
		select {
		case <-ctx.Done():
			return fmt.Errorf("snapshot at seq %d: waiting for persistence: %w", seq, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// RebuildProjections replays the event log into the projection tables and
// drops every cached view.
func (a *Admin) RebuildProjections(ctx context.Context) error {
	if err := projection.RebuildProjections(ctx, a.db, a.logger); err != nil {
		return fmt.Errorf("rebuild projections: %w", err)
	}
	if a.cache != nil {
		if err := projection.InvalidateViews(ctx, a.db, a.cache); err != nil {
			a.logger.Warn().Err(err).Msg("cache invalidation after rebuild failed")
		}
	}
	return nil
}

func (a *Admin) EventLogInfo(ctx context.Context) (EventLogInfo, error) {
	info := EventLogInfo{
		CoreSequence:    a.loop.Sequence() - 1,
		LastSnapshotSeq: -1,
	}

	var err error
	if info.LastPersisted, err = a.snapshots.GetLatestSequence(ctx); err != nil {
		return EventLogInfo{}, fmt.Errorf("latest sequence: %w", err)
	}
	if info.ProjectionSeq, err = projection.LoadWatermark(ctx, a.db); err != nil {
		return EventLogInfo{}, fmt.Errorf("projection watermark: %w", err)
	}

	snaps, err := a.snapshots.ListSnapshots(ctx, 1)
	if err != nil {
		return EventLogInfo{}, fmt.Errorf("list snapshots: %w", err)
	}
	if len(snaps) > 0 {
		info.LastSnapshotSeq = snaps[0].Sequence
	}
	return info, nil
}
