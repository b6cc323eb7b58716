// Command predictledger runs the prediction-market settlement ledger: the
// deterministic core, its event log, the pebble read model, NATS ingestion
// and the gRPC/HTTP API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"PredictLedger/internal/auth"
	"PredictLedger/internal/bridge"
	redisstore "PredictLedger/internal/cache/redis"
	"PredictLedger/internal/config"
	"PredictLedger/internal/core"
	"PredictLedger/internal/ingestion"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/persistence"
	"PredictLedger/internal/projection"
	"PredictLedger/internal/query"
	"PredictLedger/internal/server"
	"PredictLedger/migrations"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "predictledger.toml", "path to configuration file")
	flag.Parse()

	logger := observability.NewLogger("predictledger")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	logger = logger.Level(observability.ParseLogLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("predictledger exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("predictledger shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().Msg("predictledger starting")

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime.Duration)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("postgres connected")

	if cfg.Postgres.RunMigrations {
		if err := persistence.NewMigrator(db, migrations.FS, logger).Up(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", db.PingContext)

	snapMgr := persistence.NewSnapshotManager(db, metrics, observability.Component(logger, "snapshot"))

	coreCfg := core.Config{
		Publisher:           cfg.PublisherAddress(),
		MaxOracleAge:        cfg.OracleMaxAgeSeconds(),
		LRUCapacity:         cfg.Core.LRUCapacity,
		GlobalCheckInterval: cfg.Core.GlobalCheckInterval,
		Encoder:             ingestion.EncodePayload,
		Logger:              observability.Component(logger, "core"),
	}

	// --- Recovery: snapshot + replay on a detached core ---
	replay := core.NewDeterministicCore(coreCfg, nil, nil, nil, nil)
	recovery := persistence.NewRecovery(snapMgr, ingestion.DecodePayload, cfg.Persistence.ReplayPageSize, metrics, logger)
	res, err := recovery.Recover(ctx, replay)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	// --- Live core ---
	// Persist blocks (backpressure); projection drops when full.
	persistChan := make(chan core.CoreOutput, cfg.Core.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.Core.ProjectionChanSize)

	ledgerCore := core.NewDeterministicCore(coreCfg, persistChan, projectionChan, nil, metrics)
	if res.NextSequence > 0 {
		ledgerCore.RestoreFromSnapshot(replay.CreateSnapshotState())
		if got := ledgerCore.GetStateHash(); got != res.StateHash {
			return fmt.Errorf("state hash mismatch after restore: expected %x, got %x", res.StateHash, got)
		}
	}

	dbChecker := persistence.NewPostgresIdempotencyChecker(db, metrics)
	ledgerCore.SetDBChecker(dbChecker)
	keys, err := dbChecker.RecentKeys(ctx, cfg.Persistence.WarmKeys)
	if err != nil {
		logger.Warn().Err(err).Msg("idempotency warm-up skipped")
	} else {
		ledgerCore.WarmLRU(keys)
	}

	// --- Read model ---
	store, err := projection.Open(cfg.ReadModel.Dir, nil)
	if err != nil {
		return fmt.Errorf("open read model: %w", err)
	}
	defer store.Close()

	projWorker := projection.NewWorker(store, projectionChan, ledgerCore, metrics, observability.Component(logger, "projection"))
	if err := projWorker.Sync(); err != nil {
		return fmt.Errorf("rebuild read model: %w", err)
	}

	// --- Redis ---
	var redisClient *redisstore.Client
	if cfg.RedisRequired() {
		redisClient, err = redisstore.New(ctx, redisstore.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return err
		}
		defer redisClient.Close()
		healthChecker.AddCheck("redis", redisClient.Ping)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("redis connected")

		if cfg.Redis.PriceCache {
			projWorker.SetPriceSink(redisstore.NewPriceCache(redisClient))
		}
	}

	// --- Bridge ---
	emitter, _ := cfg.BridgeEmitter()
	var seen bridge.SeenStore
	var pgSeen *persistence.BridgeSeenStore
	switch cfg.Bridge.DedupBackend {
	case "postgres":
		pgSeen = persistence.NewBridgeSeenStore(db)
		seen = pgSeen
	case "redis":
		seen = redisstore.NewSeenStore(redisClient, cfg.Bridge.DedupTTL.Duration)
	}
	adapter := bridge.NewAdapter(
		bridge.Config{Emitter: emitter, DedupCapacity: cfg.Bridge.DedupCapacity},
		ledgerCore, seen, metrics, observability.Component(logger, "bridge"),
	)

	// --- Persistence worker ---
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.Persistence.BatchSize,
		cfg.Persistence.FlushTimeout.Duration, metrics, observability.Component(logger, "persistence"))

	// --- NATS ---
	var (
		subscriber *ingestion.NATSSubscriber
		router     *ingestion.Router
		publisher  *ingestion.OutboundPublisher
		rawChan    chan ingestion.RawEvent
	)
	if cfg.NATS.Enabled {
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		healthChecker.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		})

		if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}
		if err := ingestion.EnsureOutboundStream(ctx, js, logger); err != nil {
			return fmt.Errorf("ensure outbound stream: %w", err)
		}

		publishChan := make(chan core.CoreOutput, cfg.Core.PublishChanSize)
		persistWorker.SetDownstream(publishChan)
		publisher = ingestion.NewOutboundPublisher(js, publishChan, observability.Component(logger, "publisher"))

		rawChan = make(chan ingestion.RawEvent, cfg.Core.IngestChanSize)
		subscriber = ingestion.NewNATSSubscriber(js, rawChan, logger)
		if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		router = ingestion.NewRouter(ledgerCore, ingestion.DefaultSubjects(), metrics, observability.Component(logger, "router"))
		logger.Info().Str("url", cfg.NATS.URL).Msg("NATS connected")
	}

	// --- API ---
	queries := query.NewQueryService(store, db, metrics)
	service := server.NewLedgerService(server.ServiceDeps{
		Commands: ingestion.NewCommandService(ledgerCore, time.Now),
		Queries:  queries,
		Bridge:   adapter,
		Core:     ledgerCore,
		Snapshot: func(ctx context.Context) (int64, error) {
			return snapMgr.TakeSnapshot(ctx, ledgerCore)
		},
		Verifier: auth.NewVerifier(cfg.Auth.MaxSkew.Duration, time.Now),
		Operator: cfg.OperatorAddress(),
	})
	if cfg.OperatorAddress() == (common.Address{}) {
		logger.Warn().Msg("no custody operator configured; direct deposits and relayed bridge messages are refused")
	}
	apiServer := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, service, healthChecker, observability.Component(logger, "server"))

	// The persistence worker outlives the group: it drains persistChan after
	// every producer has stopped.
	persistDone := make(chan error, 1)
	go func() { persistDone <- persistWorker.Run(context.Background()) }()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return projWorker.Run(gctx) })
	g.Go(func() error {
		return snapMgr.Run(gctx, ledgerCore, cfg.Core.SnapshotInterval.Duration, cfg.Core.SnapshotMinEvents)
	})
	g.Go(func() error { return apiServer.StartGRPC(gctx) })
	g.Go(func() error { return apiServer.StartHTTP(gctx) })
	g.Go(func() error { return serveMetrics(gctx, cfg.Server.MetricsAddr, logger) })
	g.Go(func() error {
		reportChannels(gctx, metrics, map[string]chan core.CoreOutput{
			"persist":    persistChan,
			"projection": projectionChan,
		})
		return nil
	})
	var persistFailed atomic.Bool
	g.Go(func() error {
		select {
		case err := <-persistDone:
			persistFailed.Store(true)
			persistDone <- err
			if err != nil {
				return fmt.Errorf("persistence worker: %w", err)
			}
			return errors.New("persistence worker stopped")
		case <-gctx.Done():
			return nil
		}
	})
	if router != nil {
		g.Go(func() error { return router.Run(gctx, rawChan) })
		g.Go(func() error { return publisher.Run(gctx) })
	}
	if pgSeen != nil {
		g.Go(func() error {
			pruneBridgeMarks(gctx, pgSeen, cfg.Bridge.DedupTTL.Duration, logger)
			return nil
		})
	}

	healthChecker.SetReady(true)
	logger.Info().
		Int64("next_sequence", ledgerCore.GetSequence()).
		Int("replayed", res.Replayed).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("predictledger ready")

	runErr := g.Wait()
	healthChecker.SetReady(false)
	if runErr != nil {
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	} else {
		logger.Info().Msg("shutting down")
	}

	// --- Graceful shutdown ---
	if subscriber != nil {
		subscriber.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// A dead persistence worker can leave a command parked on persistChan
	// holding the core; snapshotting would wait on it forever.
	if persistFailed.Load() {
		logger.Warn().Msg("final snapshot skipped: persistence worker stopped")
	} else if seq, err := snapMgr.TakeSnapshot(shutdownCtx, ledgerCore); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", seq).Msg("final snapshot saved")
	}

	close(persistChan)
	select {
	case err := <-persistDone:
		if err != nil && runErr == nil {
			runErr = err
		}
	case <-shutdownCtx.Done():
		logger.Error().Msg("persistence drain timed out")
	}

	return runErr
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func reportChannels(ctx context.Context, metrics *observability.Metrics, chans map[string]chan core.CoreOutput) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, ch := range chans {
				metrics.SetChannelMetrics(name, len(ch), cap(ch))
			}
		}
	}
}

// pruneBridgeMarks drops durable dedup marks older than retention. The
// in-memory tier still covers recent redeliveries.
func pruneBridgeMarks(ctx context.Context, store *persistence.BridgeSeenStore, retention time.Duration, logger zerolog.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Prune(ctx, retention)
			if err != nil {
				logger.Warn().Err(err).Msg("bridge dedup prune failed")
				continue
			}
			if n > 0 {
				logger.Info().Int64("pruned", n).Msg("bridge dedup marks pruned")
			}
		}
	}
}
