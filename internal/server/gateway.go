package server

import (
	"RTokenLedger/internal/core"
	"RTokenLedger/internal/event"
	"RTokenLedger/internal/ingestion"
	"RTokenLedger/internal/observability"
	"RTokenLedger/internal/persistence"
	"RTokenLedger/internal/query"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

const maxEventBody = 1 << 20

// Queries is the read side. *query.QueryService satisfies it.
type Queries interface {
	ListCollateralStatus(ctx context.Context) ([]query.CollateralStatusResponse, error)
	GetCollateralStatus(ctx context.Context, token string) (*query.CollateralStatusResponse, error)
	GetBacking(ctx context.Context) (*query.BackingResponse, error)
	ListTrades(ctx context.Context, status, trader string, limit int) ([]query.TradeResponse, error)
	GetBalances(ctx context.Context, holder string) (*query.BalancesResponse, error)
	GetJournalHistory(ctx context.Context, holder string, limit int, afterSequence *int64) ([]query.JournalHistoryEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// Ingester is the manual injection path. *ingestion.IngestService
// satisfies it.
type Ingester interface {
	SubmitEvent(ctx context.Context, eventType string, payload []byte) (event.Event, error)
}

// LiveCollateral reads collateral state from the running core.
// *query.CoreReader satisfies it.
type LiveCollateral interface {
	Collaterals(ctx context.Context) ([]core.CollateralView, error)
}

// Gateway maps HTTP/JSON routes onto the query, ingest and admin services.
type Gateway struct {
	queries   Queries
	ingest    Ingester
	admin     AdminOps
	live      LiveCollateral
	metrics   *observability.Metrics
	startTime time.Time
	logger    zerolog.Logger
}

func NewGateway(deps *ServerDeps, logger zerolog.Logger) *Gateway {
	return &Gateway{
		queries:   deps.Queries,
		ingest:    deps.Ingest,
		admin:     deps.Admin,
		live:      deps.Live,
		metrics:   deps.Metrics,
		startTime: deps.StartTime,
		logger:    logger,
	}
}

type route struct {
	method   string
	pattern  string
	endpoint string
	handler  func(r *http.Request, params map[string]string) (any, error)
}

func (g *Gateway) routes() []route {
	return []route{
		{http.MethodGet, "/v1/collateral", "list_collateral", g.listCollateral},
		{http.MethodGet, "/v1/collateral/{token}", "get_collateral", g.getCollateral},
		{http.MethodGet, "/v1/live/collateral", "live_collateral", g.liveCollateral},
		{http.MethodGet, "/v1/backing", "get_backing", g.getBacking},
		{http.MethodGet, "/v1/trades", "list_trades", g.listTrades},
		{http.MethodGet, "/v1/balances/{holder}", "get_balances", g.getBalances},
		{http.MethodGet, "/v1/journals/{holder}", "get_journals", g.getJournals},
		{http.MethodPost, "/v1/events/{type}", "submit_event", g.submitEvent},
		{http.MethodGet, "/v1/admin/integrity", "verify_integrity", g.verifyIntegrity},
		{http.MethodGet, "/v1/admin/eventlog", "event_log_info", g.eventLogInfo},
		{http.MethodPost, "/v1/admin/snapshot", "take_snapshot", g.takeSnapshot},
		{http.MethodPost, "/v1/admin/rebuild", "rebuild_projections", g.rebuildProjections},
	}
}

// Register adds every route to mux. Routes whose service is missing are
// skipped.
func (g *Gateway) Register(mux *runtime.ServeMux) error {
	for _, rt := range g.routes() {
		if !g.available(rt.endpoint) {
			continue
		}
		if err := mux.HandlePath(rt.method, rt.pattern, g.wrap(rt)); err != nil {
			return fmt.Errorf("%s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return nil
}

func (g *Gateway) available(endpoint string) bool {
	switch endpoint {
	case "submit_event":
		return g.ingest != nil
	case "event_log_info", "take_snapshot", "rebuild_projections":
		return g.admin != nil
	case "live_collateral":
		return g.live != nil
	default:
		return g.queries != nil
	}
}

func (g *Gateway) wrap(rt route) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		resp, err := rt.handler(r, params)

		code := http.StatusOK
		if err != nil {
			code = httpStatus(err)
			resp = errorBody{Error: err.Error(), Code: code}
			if code >= http.StatusInternalServerError {
				g.logger.Error().Err(err).Str("endpoint", rt.endpoint).Msg("request failed")
			}
		}

		if g.metrics != nil {
			g.metrics.QueryRequests.WithLabelValues(rt.endpoint, strconv.Itoa(code)).Inc()
			g.metrics.QueryDuration.WithLabelValues(rt.endpoint).Observe(time.Since(start).Seconds())
			if err != nil {
				g.metrics.QueryErrors.WithLabelValues(rt.endpoint, strconv.Itoa(code)).Inc()
			}
		}
		writeJSON(w, code, resp)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, query.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, query.ErrInvalidArgument), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ingestion.ErrNotAccepted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// --- queries ---

func (g *Gateway) listCollateral(r *http.Request, _ map[string]string) (any, error) {
	out, err := g.queries.ListCollateralStatus(r.Context())
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []query.CollateralStatusResponse{}
	}
	return out, nil
}

func (g *Gateway) getCollateral(r *http.Request, params map[string]string) (any, error) {
	return g.queries.GetCollateralStatus(r.Context(), params["token"])
}

func (g *Gateway) liveCollateral(r *http.Request, _ map[string]string) (any, error) {
	return g.live.Collaterals(r.Context())
}

func (g *Gateway) getBacking(r *http.Request, _ map[string]string) (any, error) {
	return g.queries.GetBacking(r.Context())
}

func (g *Gateway) listTrades(r *http.Request, _ map[string]string) (any, error) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 100)
	if err != nil {
		return nil, err
	}
	out, err := g.queries.ListTrades(r.Context(), q.Get("status"), q.Get("trader"), limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []query.TradeResponse{}
	}
	return out, nil
}

func (g *Gateway) getBalances(r *http.Request, params map[string]string) (any, error) {
	return g.queries.GetBalances(r.Context(), params["holder"])
}

func (g *Gateway) getJournals(r *http.Request, params map[string]string) (any, error) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 100)
	if err != nil {
		return nil, err
	}
	var after *int64
	if s := q.Get("after_sequence"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: after_sequence %q", errBadRequest, s)
		}
		after = &v
	}
	out, err := g.queries.GetJournalHistory(r.Context(), params["holder"], limit, after)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []query.JournalHistoryEntry{}
	}
	return out, nil
}

// --- ingest ---

type submitResponse struct {
	Accepted       bool   `json:"accepted"`
	EventType      string `json:"event_type"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (g *Gateway) submitEvent(r *http.Request, params map[string]string) (any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", errBadRequest, err)
	}
	if len(body) > maxEventBody {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", errBadRequest, maxEventBody)
	}

	evt, err := g.ingest.SubmitEvent(r.Context(), params["type"], body)
	if err != nil {
		if errors.Is(err, ingestion.ErrNotAccepted) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return submitResponse{
		Accepted:       true,
		EventType:      evt.EventType().String(),
		IdempotencyKey: evt.IdempotencyKey(),
	}, nil
}

// --- admin ---

func (g *Gateway) verifyIntegrity(r *http.Request, _ map[string]string) (any, error) {
	return g.queries.VerifyIntegrity(r.Context())
}

type eventLogResponse struct {
	EventLogInfo
	Uptime string `json:"uptime"`
}

func (g *Gateway) eventLogInfo(r *http.Request, _ map[string]string) (any, error) {
	info, err := g.admin.EventLogInfo(r.Context())
	if err != nil {
		return nil, err
	}
	return eventLogResponse{EventLogInfo: info, Uptime: time.Since(g.startTime).Truncate(time.Second).String()}, nil
}

type snapshotResponse struct {
	SnapshotID string `json:"snapshot_id"`
	Sequence   int64  `json:"sequence"`
	StateHash  string `json:"state_hash"`
	SizeBytes  int    `json:"size_bytes"`
}

func (g *Gateway) takeSnapshot(r *http.Request, _ map[string]string) (any, error) {
	info, err := g.admin.TakeSnapshot(r.Context())
	if err != nil {
		return nil, err
	}
	return snapshotFromInfo(info), nil
}

func snapshotFromInfo(info persistence.SnapshotInfo) snapshotResponse {
	return snapshotResponse{
		SnapshotID: info.SnapshotID.String(),
		Sequence:   info.Sequence,
		StateHash:  fmt.Sprintf("%x", info.StateHash),
		SizeBytes:  info.SizeBytes,
	}
}

func (g *Gateway) rebuildProjections(r *http.Request, _ map[string]string) (any, error) {
	if err := g.admin.RebuildProjections(r.Context()); err != nil {
		return nil, err
	}
	return map[string]bool{"rebuilt": true}, nil
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", errBadRequest, s)
	}
	return v, nil
}
