package main

import (
	"RTokenLedger/internal/cache"
	"RTokenLedger/internal/config"
	"RTokenLedger/internal/core"
	"RTokenLedger/internal/ingestion"
	"RTokenLedger/internal/observability"
	"RTokenLedger/internal/persistence"
	"RTokenLedger/internal/projection"
	"RTokenLedger/internal/query"
	"RTokenLedger/internal/server"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// drainGrace bounds how long workers keep flushing after shutdown starts.
const drainGrace = 30 * time.Second

func main() {
	cfg := config.Load()

	level := observability.ParseLevel(cfg.LogLevel)
	logger := observability.NewLogger("rtokenledger", level)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("rtokenledger stopped")
	}
	logger.Info().Msg("rtokenledger shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	logger.Info().Str("deployment", cfg.DeploymentPath).Msg("rtokenledger starting")

	// --- Deployment ---
	deployment, err := config.LoadDeployment(cfg.DeploymentPath)
	if err != nil {
		return err
	}
	protocolCfg, err := deployment.ProtocolConfig()
	if err != nil {
		return err
	}
	protocol, err := core.NewProtocol(protocolCfg)
	if err != nil {
		return fmt.Errorf("build protocol: %w", err)
	}

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, logger.With().Str("module", "migrator").Logger())
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", db.PingContext)

	// --- Redis (optional) ---
	var (
		viewCache   *cache.ViewCache
		invalidator projection.Invalidator
	)
	if cfg.RedisAddr != "" {
		client, err := cache.New(ctx, cache.ClientConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer client.Close()
		healthChecker.AddCheck("redis", client.Ping)
		viewCache = cache.NewViewCache(client, cfg.CacheTTL)
		invalidator = viewCache
		logger.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.CacheTTL).Msg("query cache enabled")
	}

	metrics := observability.NewMetrics()
	snapMgr := persistence.NewSnapshotManager(db)

	// --- Recovery: snapshot + replay on a detached core ---
	dc := core.NewDeterministicCore(0, protocol, nil, nil, nil, metrics, logger.With().Str("module", "core").Logger())
	dc.SetLRUCapacity(cfg.IdempotencyLRUCapacity)

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return err
	}
	if snap != nil {
		if err := dc.RestoreFromSnapshot(snap); err != nil {
			return fmt.Errorf("restore snapshot at seq %d: %w", snap.Sequence, err)
		}
		logger.Info().Int64("seq", snap.Sequence).Int("lru_keys", len(snap.IdempotencyKeys)).Msg("snapshot restored")
	} else {
		logger.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	replayStart := time.Now()
	replayed, err := snapMgr.ReplayFromLog(ctx, dc, logger)
	if err != nil {
		return fmt.Errorf("event replay: %w", err)
	}
	metrics.ReplayEventsTotal.Add(float64(replayed))
	metrics.ReplayDuration.Set(time.Since(replayStart).Seconds())
	logger.Info().
		Int64("replayed", replayed).
		Int64("next_seq", dc.GetSequence()).
		Hex("state_hash", sliceOf(dc.GetStateHash())).
		Msg("replay complete")

	// --- Attach the core to its outputs ---
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)
	dedup := persistence.NewPostgresIdempotencyChecker(db).WithTimeout(cfg.DedupLookupTimeout)
	dc.Attach(persistChan, projectionChan, dedup)

	loop := core.NewLoop(dc, cfg.CoreQueueSize, logger.With().Str("module", "loop").Logger())

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
	if err != nil {
		return err
	}
	defer nc.Close()
	healthChecker.AddCheck("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return fmt.Errorf("nats: %s", nc.Status())
		}
		return nil
	})

	if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, logger); err != nil {
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	rawChan := make(chan ingestion.RawEvent, 4096)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan, logger.With().Str("module", "nats").Logger()).
		WithMetrics(metrics)
	dispatcher := ingestion.NewDispatcher(rawChan, loop, metrics, logger.With().Str("module", "dispatcher").Logger())
	publisher := ingestion.NewOutboundPublisher(js, publishChan, logger.With().Str("module", "publisher").Logger())

	// --- Workers ---
	var durable atomic.Int64
	durable.Store(dc.GetSequence() - 1)

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics,
		logger.With().Str("module", "persistence").Logger())
	persistWorker.OnFlushed = func(outputs []core.CoreOutput) {
		durable.Store(outputs[len(outputs)-1].Envelope.Sequence)
		for _, out := range outputs {
			events, err := ingestion.FromOutput(out)
			if err != nil {
				logger.Warn().Err(err).Int64("seq", out.Envelope.Sequence).Msg("outbound encode failed")
				continue
			}
			for _, pe := range events {
				select {
				case publishChan <- pe:
				default:
					metrics.PublishDrops.Inc()
				}
			}
		}
	}

	projWorker := projection.NewProjectionWorker(db, projectionChan, invalidator, metrics,
		logger.With().Str("module", "projection").Logger())

	// --- Services ---
	queryService := query.NewQueryService(db, logger.With().Str("module", "query").Logger()).
		WithLive(query.NewCoreReader(loop))
	if viewCache != nil {
		queryService.WithCache(viewCache)
	}
	admin := server.NewAdmin(db, loop, snapMgr, invalidator, metrics, logger.With().Str("module", "admin").Logger()).
		WithDurableSequence(durable.Load)

	srv := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Queries:       queryService,
		Ingest:        ingestion.NewIngestService(loop),
		Admin:         admin,
		Live:          query.NewCoreReader(loop),
		HealthChecker: healthChecker,
		Metrics:       metrics,
		StartTime:     time.Now(),
	}, logger.With().Str("module", "server").Logger())

	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	// Workers downstream of the core outlive ctx so they can drain.
	drainCtx, cancelDrain := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDrain()
	context.AfterFunc(ctx, func() { time.AfterFunc(drainGrace, cancelDrain) })

	g, gctx := errgroup.WithContext(ctx)
	persistDone := make(chan struct{})

	// Core loop. Once it returns nothing sends on the output channels.
	g.Go(func() error {
		err := loop.Run(gctx)
		close(persistChan)
		close(projectionChan)

		<-persistDone
		finalSnapshot(drainCtx, dc, snapMgr, logger)
		return err
	})

	g.Go(func() error {
		defer close(persistDone)
		defer close(publishChan)
		return ignoreCanceled(persistWorker.Run(drainCtx))
	})

	g.Go(func() error { return ignoreCanceled(projWorker.Run(drainCtx)) })
	g.Go(func() error { return ignoreCanceled(publisher.Run(drainCtx)) })

	g.Go(func() error {
		<-gctx.Done()
		subscriber.Stop()
		return nil
	})
	g.Go(func() error { return ignoreCanceled(dispatcher.Run(gctx)) })

	g.Go(func() error { return srv.StartGRPC(gctx) })
	g.Go(func() error { return srv.StartHTTPGateway(gctx) })
	g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, logger) })

	g.Go(func() error {
		runPeriodicSnapshots(gctx, loop, admin, cfg.SnapshotInterval, logger)
		return nil
	})
	g.Go(func() error {
		reportChannels(gctx, metrics, persistChan, projectionChan, publishChan)
		return nil
	})

	healthChecker.SetReady(true)
	srv.SetServing(true)
	logger.Info().
		Int64("next_seq", dc.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("rtokenledger ready")

	err = g.Wait()
	healthChecker.SetReady(false)
	return err
}

// runPeriodicSnapshots takes a snapshot every interval applied events.
func runPeriodicSnapshots(ctx context.Context, loop *core.Loop, admin *server.Admin, interval int64, logger zerolog.Logger) {
	lastSnapshotSeq := loop.Sequence() - 1
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if loop.Sequence()-1-lastSnapshotSeq < interval {
				continue
			}
			info, err := admin.TakeSnapshot(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn().Err(err).Msg("periodic snapshot failed")
				}
				continue
			}
			lastSnapshotSeq = info.Sequence
		}
	}
}

// finalSnapshot runs after the core loop and the persistence worker have
// stopped, so the core can be read directly and the log is complete.
func finalSnapshot(ctx context.Context, dc *core.DeterministicCore, snapMgr *persistence.SnapshotManager, logger zerolog.Logger) {
	snap := dc.CreateSnapshotState()
	if snap.Sequence < 0 {
		return
	}
	info, err := snapMgr.SaveSnapshot(ctx, snap, true, time.Now().UTC())
	if err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
		return
	}
	logger.Info().Int64("seq", info.Sequence).Msg("final snapshot saved")
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func reportChannels(
	ctx context.Context,
	metrics *observability.Metrics,
	persistChan, projectionChan chan core.CoreOutput,
	publishChan chan ingestion.PublishableEvent,
) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
			metrics.SetChannelMetrics("projection", len(projectionChan), cap(projectionChan))
			metrics.SetChannelMetrics("publish", len(publishChan), cap(publishChan))
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func sliceOf(h [32]byte) []byte { return h[:] }
