package core

import (
	"RTokenLedger/internal/event"
	"errors"
	"fmt"
)

var ErrReplayDiverged = errors.New("core: replay diverged from event log")

// Attach connects the output channels and the Postgres dedup tier. A core
// built without them runs detached, which is how the event log is replayed
// at startup without re-persisting it.
func (c *DeterministicCore) Attach(persistChan, projectionChan chan<- CoreOutput, dbChecker DBIdempotencyChecker) {
	c.persistChan = persistChan
	c.projectionChan = projectionChan
	c.idempotency.dbChecker = dbChecker
}

// ReplayEvent re-applies one logged event. seq and stateHash are the values
// the log recorded for it; the core must land on both.
//
// Rejected events consume strict-partition sequences but never reach the
// log, so the partition is first moved up to the event's source sequence.
func (c *DeterministicCore) ReplayEvent(seq int64, evt event.Event, stateHash [32]byte) error {
	if seq != c.sequence {
		return fmt.Errorf("%w: log has seq %d, core expects %d", ErrReplayDiverged, seq, c.sequence)
	}

	if !event.GapTolerant(evt) {
		partition := evt.Partition()
		if c.sequenceValidator.GetExpectedSequence(partition) < evt.SourceSequence() {
			c.sequenceValidator.RestorePartition(partition, evt.SourceSequence())
		}
	}

	if err := c.ProcessEvent(evt); err != nil {
		return fmt.Errorf("%w: seq %d rejected: %v", ErrReplayDiverged, seq, err)
	}
	if c.sequence != seq+1 {
		return fmt.Errorf("%w: seq %d treated as duplicate", ErrReplayDiverged, seq)
	}
	if got := c.hasher.Tip(); got != stateHash {
		return fmt.Errorf("%w: seq %d state hash %x, log has %x", ErrReplayDiverged, seq, got, stateHash)
	}
	return nil
}
