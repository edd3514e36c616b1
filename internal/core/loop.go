package core

import (
	"RTokenLedger/internal/event"
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var ErrLoopStopped = errors.New("core: loop stopped")

// Loop owns the DeterministicCore and serializes every access to it on one
// goroutine. Ingestion paths, snapshots and admin reads all go through it.
type Loop struct {
	core   *DeterministicCore
	tasks  chan func()
	done   chan struct{}
	seq    atomic.Int64
	logger zerolog.Logger
}

func NewLoop(c *DeterministicCore, queueSize int, logger zerolog.Logger) *Loop {
	l := &Loop{
		core:   c,
		tasks:  make(chan func(), queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	l.seq.Store(c.GetSequence())
	return l
}

// Run executes queued work until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-l.tasks:
			task()
			l.seq.Store(l.core.GetSequence())
		}
	}
}

// Submit processes evt and returns the core's verdict. A nil error means
// the event was applied or was a duplicate.
func (l *Loop) Submit(ctx context.Context, evt event.Event) error {
	var procErr error
	err := l.do(ctx, func() {
		procErr = l.core.ProcessEvent(evt)
		if procErr != nil {
			l.logger.Warn().
				Err(procErr).
				Str("type", evt.EventType().String()).
				Str("key", evt.IdempotencyKey()).
				Msg("event rejected")
		}
	})
	if err != nil {
		return err
	}
	return procErr
}

// Snapshot captures the core state between two events.
func (l *Loop) Snapshot(ctx context.Context) (*SnapshotState, error) {
	var snap *SnapshotState
	if err := l.do(ctx, func() { snap = l.core.CreateSnapshotState() }); err != nil {
		return nil, err
	}
	return snap, nil
}

// Read runs fn on the loop goroutine with the core's protocol and ledger.
func (l *Loop) Read(ctx context.Context, fn func(c *DeterministicCore)) error {
	return l.do(ctx, func() { fn(l.core) })
}

// Sequence is the next sequence the core will assign, as of the last task.
func (l *Loop) Sequence() int64 {
	return l.seq.Load()
}

func (l *Loop) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}

	select {
	case l.tasks <- task:
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		// Run closes done only after finishing its current task.
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
