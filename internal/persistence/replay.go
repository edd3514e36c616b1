package persistence

import (
	"RTokenLedger/internal/core"
	"RTokenLedger/internal/event"
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

const replayBatch = 1000

// ReplayFromLog feeds every logged event at or after the core's next
// sequence back through it. The core must be detached; any divergence from
// the logged sequence or state hash is fatal.
func (sm *SnapshotManager) ReplayFromLog(ctx context.Context, c *core.DeterministicCore, logger zerolog.Logger) (int64, error) {
	var replayed int64
	from := c.GetSequence()

	for {
		rows, err := sm.LoadEventsFrom(ctx, from, replayBatch)
		if err != nil {
			return replayed, fmt.Errorf("load events from seq %d: %w", from, err)
		}
		if len(rows) == 0 {
			return replayed, nil
		}

		for _, row := range rows {
			evt, err := event.DecodeRecord(row.Payload)
			if err != nil {
				return replayed, fmt.Errorf("decode seq %d (%s): %w", row.Sequence, row.EventType, err)
			}
			var hash [32]byte
			copy(hash[:], row.StateHash)
			if err := c.ReplayEvent(row.Sequence, evt, hash); err != nil {
				return replayed, err
			}
			replayed++
		}

		from = rows[len(rows)-1].Sequence + 1
		logger.Debug().Int64("replayed", replayed).Int64("next", from).Msg("replay progress")
	}
}
