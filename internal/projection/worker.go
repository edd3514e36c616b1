package projection

import (
	"RTokenLedger/internal/cache"
	"RTokenLedger/internal/core"
	"RTokenLedger/internal/event"
	"RTokenLedger/internal/ledger"
	"RTokenLedger/internal/observability"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const watermarkID = "main"

// Invalidator drops cached query views. *cache.ViewCache satisfies it.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// ProjectionWorker updates projection tables from processed events.
// The projection channel is non-blocking with drop; if projections fall
// behind they are rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	cache     Invalidator
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	cache Invalidator,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		cache:     cache,
		metrics:   metrics,
		logger:    logger,
		lastSeq:   -1,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	last, err := LoadWatermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	pw.lastSeq = last

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			seq := output.Envelope.Sequence
			if seq <= pw.lastSeq {
				continue
			}
			if seq != pw.lastSeq+1 && pw.lastSeq >= 0 {
				// A dropped output leaves a hole only a rebuild can fill.
				pw.logger.Warn().
					Int64("expected", pw.lastSeq+1).
					Int64("got", seq).
					Msg("projection gap, rebuilding from event log")
				if err := RebuildProjections(ctx, pw.db, pw.logger); err != nil {
					pw.logger.Error().Err(err).Msg("projection rebuild failed")
				} else if err := pw.invalidateAll(ctx); err != nil {
					pw.logger.Warn().Err(err).Msg("cache invalidation failed")
				}
				if last, err := LoadWatermark(ctx, pw.db); err == nil {
					pw.lastSeq = last
				}
				if seq <= pw.lastSeq {
					continue
				}
			}

			if err := pw.processOutput(ctx, output); err != nil {
				pw.logger.Warn().Err(err).Int64("seq", seq).Msg("projection update failed")
				// Projections are eventually consistent.
			}
			pw.lastSeq = seq
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	start := time.Now()
	seq := output.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			if err := applyJournal(ctx, tx, j, seq); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}

	keys, err := applyEmitted(ctx, tx, output.Emitted, seq)
	if err != nil {
		return err
	}

	if err := setWatermark(ctx, tx, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("all").Observe(time.Since(start).Seconds())
	}
	if pw.cache != nil && len(keys) > 0 {
		if err := pw.cache.Invalidate(ctx, keys...); err != nil {
			pw.logger.Warn().Err(err).Strs("keys", keys).Msg("cache invalidation failed")
		}
	}
	return nil
}

func (pw *ProjectionWorker) invalidateAll(ctx context.Context) error {
	if pw.cache == nil {
		return nil
	}
	return InvalidateViews(ctx, pw.db, pw.cache)
}

// InvalidateViews drops every cached view the projections feed. It is run
// after a rebuild, when any key may be stale.
func InvalidateViews(ctx context.Context, db *sql.DB, inv Invalidator) error {
	rows, err := db.QueryContext(ctx, `SELECT token FROM projections.collateral_status`)
	if err != nil {
		return err
	}
	defer rows.Close()

	keys := []string{cache.KeyCollateralAll, cache.KeyBacking}
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return err
		}
		keys = append(keys, cache.KeyCollateral(token))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return inv.Invalidate(ctx, keys...)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func applyJournal(ctx context.Context, ex execer, j ledger.Journal, seq int64) error {
	amount := j.Amount.Decimal().String()
	token := j.Token.Hex()

	if _, err := ex.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, token, balance, last_sequence)
		VALUES ($1, $2, -$3::numeric, $4)
		ON CONFLICT (account_path, token)
		DO UPDATE SET balance = projections.balances.balance - $3::numeric, last_sequence = $4
	`, j.DebitAccount.AccountPath(), token, amount, seq); err != nil {
		return err
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, token, balance, last_sequence)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (account_path, token)
		DO UPDATE SET balance = projections.balances.balance + $3::numeric, last_sequence = $4
	`, j.CreditAccount.AccountPath(), token, amount, seq)
	return err
}

// applyEmitted folds emitted events into the status, trade and backing
// tables. It returns the cache keys the changes invalidate.
func applyEmitted(ctx context.Context, ex execer, emitted []event.Emitted, seq int64) ([]string, error) {
	var keys []string
	for _, em := range emitted {
		var err error
		switch e := em.(type) {
		case event.DefaultStatusChanged:
			_, err = ex.ExecContext(ctx, `
				INSERT INTO projections.collateral_status (token, target_name, status, when_default, last_sequence)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (token) DO UPDATE
					SET status = $3, when_default = $4, last_sequence = $5
			`, e.Token.Hex(), e.TargetName, e.New.String(), e.WhenDefault, seq)
			keys = append(keys, cache.KeyCollateralAll, cache.KeyCollateral(e.Token.Hex()))

		case event.TradeStarted:
			_, err = ex.ExecContext(ctx, `
				INSERT INTO projections.trades
					(trade_id, trader, sell_token, buy_token, sell_amount, min_buy_amount, status, opened_seq)
				VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, 'open', $7)
				ON CONFLICT (trade_id) DO NOTHING
			`, e.TradeID, string(e.Trader), e.Sell.Hex(), e.Buy.Hex(),
				e.SellAmount.Decimal().String(), e.MinBuyAmount.Decimal().String(), seq)

		case event.TradeClosed:
			_, err = ex.ExecContext(ctx, `
				UPDATE projections.trades
				SET sold = $2::numeric, bought = $3::numeric, returned = $4::numeric,
				    refunded = $5, status = 'closed', closed_seq = $6
				WHERE trade_id = $1
			`, e.TradeID, e.Sold.Decimal().String(), e.Bought.Decimal().String(),
				e.Returned.Decimal().String(), e.Refunded, seq)

		case event.BasketsNeededChanged:
			_, err = ex.ExecContext(ctx, `
				INSERT INTO projections.backing (id, baskets_needed, last_sequence)
				VALUES ($1, $2::numeric, $3)
				ON CONFLICT (id) DO UPDATE SET baskets_needed = $2::numeric, last_sequence = $3
			`, watermarkID, e.New.Decimal().String(), seq)
			keys = append(keys, cache.KeyBacking)

		case event.Haircut:
			_, err = ex.ExecContext(ctx, `
				INSERT INTO projections.backing (id, haircuts, last_sequence)
				VALUES ($1, 1, $2)
				ON CONFLICT (id) DO UPDATE
					SET haircuts = projections.backing.haircuts + 1, last_sequence = $2
			`, watermarkID, seq)
			keys = append(keys, cache.KeyBacking)

		case event.BasketSet:
			var entries []byte
			entries, err = json.Marshal(lo.Ternary(e.Entries == nil, []event.BasketEntry{}, e.Entries))
			if err != nil {
				return nil, err
			}
			_, err = ex.ExecContext(ctx, `
				INSERT INTO projections.backing (id, basket_nonce, basket, last_sequence)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE SET basket_nonce = $2, basket = $3, last_sequence = $4
			`, watermarkID, int64(e.Nonce), entries, seq)
			keys = append(keys, cache.KeyBacking)
		}
		if err != nil {
			return nil, fmt.Errorf("%s projection: %w", em.Name(), err)
		}
	}
	return lo.Uniq(keys), nil
}

func setWatermark(ctx context.Context, ex execer, seq int64) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, watermarkID, seq)
	return err
}

// LoadWatermark returns the last sequence folded into the projections, or
// -1 when none has been.
func LoadWatermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = $1
	`, watermarkID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	return seq, nil
}
