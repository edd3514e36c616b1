package query

import (
	"RTokenLedger/internal/cache"
	"RTokenLedger/internal/collateral"
	"RTokenLedger/internal/core"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("query: not found")
	ErrInvalidArgument = errors.New("query: invalid argument")
)

const maxPageSize = 500

// Cache is the read-through view cache. *cache.ViewCache satisfies it.
type Cache interface {
	Get(ctx context.Context, key string, dst any) error
	Set(ctx context.Context, key string, v any) error
}

// LiveReader reads state straight from the running core.
type LiveReader interface {
	BackingStatus(ctx context.Context) (core.BackingStatus, error)
}

// QueryService provides read-only access to projection tables. Queries are
// served over HTTP/JSON and every response carries as_of_sequence for
// freshness.
type QueryService struct {
	db     *sql.DB
	cache  Cache
	live   LiveReader
	logger zerolog.Logger
}

func NewQueryService(db *sql.DB, logger zerolog.Logger) *QueryService {
	return &QueryService{db: db, logger: logger}
}

// WithCache puts c in front of the collateral and backing views.
func (qs *QueryService) WithCache(c Cache) *QueryService {
	qs.cache = c
	return qs
}

// WithLive attaches the running core to backing queries.
func (qs *QueryService) WithLive(l LiveReader) *QueryService {
	qs.live = l
	return qs
}

// ListCollateralStatus returns the projected status of every collateral that
// has changed status at least once.
func (qs *QueryService) ListCollateralStatus(ctx context.Context) ([]CollateralStatusResponse, error) {
	var out []CollateralStatusResponse
	if qs.cacheGet(ctx, cache.KeyCollateralAll, &out) {
		return out, nil
	}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT token, target_name, status, when_default, last_sequence
		FROM projections.collateral_status
		ORDER BY token
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out = []CollateralStatusResponse{}
	for rows.Next() {
		r, err := scanCollateralStatus(rows)
		if err != nil {
			return nil, err
		}
		r.AsOfSequence = asOfSeq
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	qs.cacheSet(ctx, cache.KeyCollateralAll, out)
	return out, nil
}

// GetCollateralStatus returns the projected status of one collateral.
func (qs *QueryService) GetCollateralStatus(ctx context.Context, token string) (*CollateralStatusResponse, error) {
	addr, err := parseToken(token)
	if err != nil {
		return nil, err
	}
	key := cache.KeyCollateral(addr.Hex())

	var r CollateralStatusResponse
	if qs.cacheGet(ctx, key, &r) {
		return &r, nil
	}

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	row := qs.db.QueryRowContext(ctx, `
		SELECT token, target_name, status, when_default, last_sequence
		FROM projections.collateral_status
		WHERE token = $1
	`, addr.Hex())
	r, err = scanCollateralStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: collateral %s", ErrNotFound, addr.Hex())
	}
	if err != nil {
		return nil, err
	}
	r.AsOfSequence = asOfSeq

	qs.cacheSet(ctx, key, r)
	return &r, nil
}

// GetBacking returns the backing summary: basket, basketsNeeded, haircut
// count and the BackingManager's holdings.
func (qs *QueryService) GetBacking(ctx context.Context) (*BackingResponse, error) {
	var resp BackingResponse
	if !qs.cacheGet(ctx, cache.KeyBacking, &resp) {
		projected, err := qs.loadBacking(ctx)
		if err != nil {
			return nil, err
		}
		resp = *projected
		qs.cacheSet(ctx, cache.KeyBacking, resp)
	}

	if qs.live != nil {
		bs, err := qs.live.BackingStatus(ctx)
		if err != nil {
			qs.logger.Warn().Err(err).Msg("live backing status unavailable")
		} else if raw, err := json.Marshal(bs); err == nil {
			resp.Live = raw
		}
	}
	return &resp, nil
}

func (qs *QueryService) loadBacking(ctx context.Context) (*BackingResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &BackingResponse{
		BasketsNeeded: "0",
		Basket:        []BasketEntryResponse{},
		AsOfSequence:  asOfSeq,
	}

	var (
		needed string
		nonce  int64
		basket []byte
	)
	err = qs.db.QueryRowContext(ctx, `
		SELECT baskets_needed, basket_nonce, basket, haircuts
		FROM projections.backing WHERE id = 'main'
	`).Scan(&needed, &nonce, &basket, &resp.Haircuts)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		resp.BasketsNeeded = trimNumeric(needed)
		resp.BasketNonce = uint64(nonce)
		if err := json.Unmarshal(basket, &resp.Basket); err != nil {
			return nil, fmt.Errorf("decode basket: %w", err)
		}
		for i := range resp.Basket {
			resp.Basket[i].RefAmt = trimNumeric(resp.Basket[i].RefAmt)
		}
	}

	resp.Holdings, err = qs.balancesOf(ctx, "backing_manager")
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ListTrades returns trades newest first. status is "", "open" or "closed";
// trader is "" or a holder name.
func (qs *QueryService) ListTrades(ctx context.Context, status, trader string, limit int) ([]TradeResponse, error) {
	if status != "" && status != "open" && status != "closed" {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidArgument, status)
	}
	limit = clampLimit(limit)

	query := `
		SELECT trade_id, trader, sell_token, buy_token, sell_amount, min_buy_amount,
		       sold, bought, returned, refunded, status, opened_seq, closed_seq
		FROM projections.trades
		WHERE 1 = 1
	`
	var args []any
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if trader != "" {
		args = append(args, trader)
		query += fmt.Sprintf(" AND trader = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY opened_seq DESC LIMIT $%d", len(args))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := []TradeResponse{}
	for rows.Next() {
		var (
			tr                       TradeResponse
			sold, bought, returned   sql.NullString
			refunded                 sql.NullBool
			closedSeq                sql.NullInt64
			sellAmount, minBuyAmount string
		)
		if err := rows.Scan(
			&tr.TradeID, &tr.Trader, &tr.Sell, &tr.Buy, &sellAmount, &minBuyAmount,
			&sold, &bought, &returned, &refunded, &tr.Status, &tr.OpenedSeq, &closedSeq,
		); err != nil {
			return nil, err
		}
		tr.SellAmount = trimNumeric(sellAmount)
		tr.MinBuyAmount = trimNumeric(minBuyAmount)
		if sold.Valid {
			tr.Sold = trimNumeric(sold.String)
		}
		if bought.Valid {
			tr.Bought = trimNumeric(bought.String)
		}
		if returned.Valid {
			tr.Returned = trimNumeric(returned.String)
		}
		tr.Refunded = refunded.Valid && refunded.Bool
		if closedSeq.Valid {
			seq := closedSeq.Int64
			tr.ClosedSeq = &seq
		}
		trades = append(trades, tr)
	}
	return trades, rows.Err()
}

// GetBalances returns every projected balance of a holder, protocol or
// external.
func (qs *QueryService) GetBalances(ctx context.Context, holder string) (*BalancesResponse, error) {
	if holder == "" || strings.Contains(holder, ":") {
		return nil, fmt.Errorf("%w: holder %q", ErrInvalidArgument, holder)
	}
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	balances, err := qs.balancesOf(ctx, holder)
	if err != nil {
		return nil, err
	}
	return &BalancesResponse{Holder: holder, Balances: balances, AsOfSequence: asOfSeq}, nil
}

// GetJournalHistory returns journal entries touching a holder, newest first.
// afterSequence pages backwards.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	holder string,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	if holder == "" || strings.Contains(holder, ":") {
		return nil, fmt.Errorf("%w: holder %q", ErrInvalidArgument, holder)
	}

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, token, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (split_part(debit_account, ':', 2) = $1 OR split_part(credit_account, ':', 2) = $1)
	`
	args := []any{holder}
	if afterSequence != nil {
		args = append(args, *afterSequence)
		query += fmt.Sprintf(" AND sequence < $%d", len(args))
	}
	args = append(args, clampLimit(limit))
	query += fmt.Sprintf(" ORDER BY sequence DESC, journal_id LIMIT $%d", len(args))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []JournalHistoryEntry{}
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Token, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Amount = trimNumeric(e.Amount)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the hash chain, sequence continuity and the
// per-token zero-sum of projected balances.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	breaks, err := qs.int64s(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("hash chain: %w", err)
	}
	report.HashChainBreaks = breaks

	gaps, err := qs.int64s(ctx, `
		SELECT e.sequence + 1
		FROM event_log.events e
		LEFT JOIN event_log.events n ON n.sequence = e.sequence + 1
		WHERE n.sequence IS NULL
		  AND e.sequence < (SELECT MAX(sequence) FROM event_log.events)
		ORDER BY e.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("sequence gaps: %w", err)
	}
	report.SequenceGaps = gaps

	rows, err := qs.db.QueryContext(ctx, `
		SELECT token, SUM(balance) AS total
		FROM projections.balances
		GROUP BY token
		HAVING SUM(balance) != 0
		ORDER BY token
	`)
	if err != nil {
		return nil, fmt.Errorf("zero sum: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u UnbalancedToken
		if err := rows.Scan(&u.Token, &u.Imbalance); err != nil {
			return nil, err
		}
		u.Imbalance = trimNumeric(u.Imbalance)
		report.UnbalancedTokens = append(report.UnbalancedTokens, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.SequenceGaps) == 0 &&
		len(report.UnbalancedTokens) == 0
	return report, nil
}

// --- helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanCollateralStatus(s scanner) (CollateralStatusResponse, error) {
	var (
		r           CollateralStatusResponse
		whenDefault int64
	)
	if err := s.Scan(&r.Token, &r.TargetName, &r.Status, &whenDefault, &r.LastSequence); err != nil {
		return r, err
	}
	if whenDefault != collateral.Never {
		r.WhenDefault = &whenDefault
	}
	return r, nil
}

func (qs *QueryService) balancesOf(ctx context.Context, holder string) ([]BalanceEntry, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, token, balance
		FROM projections.balances
		WHERE split_part(account_path, ':', 2) = $1
		ORDER BY account_path
	`, holder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []BalanceEntry{}
	for rows.Next() {
		var b BalanceEntry
		if err := rows.Scan(&b.AccountPath, &b.Token, &b.Balance); err != nil {
			return nil, err
		}
		b.Balance = trimNumeric(b.Balance)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (qs *QueryService) int64s(ctx context.Context, query string) ([]int64, error) {
	rows, err := qs.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

func (qs *QueryService) cacheGet(ctx context.Context, key string, dst any) bool {
	if qs.cache == nil {
		return false
	}
	err := qs.cache.Get(ctx, key, dst)
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		qs.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}
	return err == nil
}

func (qs *QueryService) cacheSet(ctx context.Context, key string, v any) {
	if qs.cache == nil {
		return
	}
	if err := qs.cache.Set(ctx, key, v); err != nil {
		qs.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func parseToken(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: token %q", ErrInvalidArgument, s)
	}
	return common.HexToAddress(s), nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// trimNumeric renders a Postgres NUMERIC without trailing zeros.
func trimNumeric(s string) string {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return s
	}
	return d.String()
}
