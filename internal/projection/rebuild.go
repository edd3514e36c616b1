package projection

import (
	"RTokenLedger/internal/event"
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

const rebuildPageSize = 1000

// RebuildProjections rebuilds every projection table from the event log:
// balances from the journal, the rest from the emitted events stored in
// each event's payload.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.collateral_status`,
		`TRUNCATE projections.trades`,
		`TRUNCATE projections.backing`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range truncateStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, token, balance, last_sequence)
		SELECT account_path, token, SUM(delta), MAX(sequence)
		FROM (
			SELECT credit_account AS account_path, token, amount AS delta, sequence
			FROM event_log.journal
			UNION ALL
			SELECT debit_account AS account_path, token, -amount AS delta, sequence
			FROM event_log.journal
		) moves
		GROUP BY account_path, token
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	last := int64(-1)
	for {
		rows, err := tx.QueryContext(ctx, `
			SELECT sequence, payload FROM event_log.events
			WHERE sequence > $1
			ORDER BY sequence ASC
			LIMIT $2
		`, last, rebuildPageSize)
		if err != nil {
			return fmt.Errorf("load events: %w", err)
		}

		type stored struct {
			seq     int64
			payload []byte
		}
		var page []stored
		for rows.Next() {
			var s stored
			if err := rows.Scan(&s.seq, &s.payload); err != nil {
				rows.Close()
				return err
			}
			page = append(page, s)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}

		for _, s := range page {
			emitted, err := event.DecodeEmitted(s.payload)
			if err != nil {
				return fmt.Errorf("seq %d: %w", s.seq, err)
			}
			if _, err := applyEmitted(ctx, tx, emitted, s.seq); err != nil {
				return fmt.Errorf("seq %d: %w", s.seq, err)
			}
			last = s.seq
		}
	}

	if last >= 0 {
		if err := setWatermark(ctx, tx, last); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Info().Int64("last_sequence", last).Msg("projection rebuild complete")
	return nil
}
