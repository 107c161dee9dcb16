package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"proveniq-ops/internal/attestation"
	attkeys "proveniq-ops/internal/attestation/keys"
	attlock "proveniq-ops/internal/attestation/lock"
	attmetrics "proveniq-ops/internal/attestation/metrics"
	attstore "proveniq-ops/internal/attestation/store"
	"proveniq-ops/internal/audittrace"
	auditstore "proveniq-ops/internal/audittrace/store"
	"proveniq-ops/internal/bishop"
	bishopmetrics "proveniq-ops/internal/bishop/metrics"
	"proveniq-ops/internal/bishop/nodes"
	"proveniq-ops/internal/downstream"
	"proveniq-ops/internal/events"
	eventmetrics "proveniq-ops/internal/events/metrics"
	eventstore "proveniq-ops/internal/events/store"
	httpapi "proveniq-ops/internal/http"
	"proveniq-ops/internal/ledger"
	ledgermetrics "proveniq-ops/internal/ledger/metrics"
	"proveniq-ops/internal/platform/config"
	"proveniq-ops/internal/platform/httpserver"
	"proveniq-ops/internal/platform/logger"
	"proveniq-ops/internal/platform/postgres"
	platformredis "proveniq-ops/internal/platform/redis"
	"proveniq-ops/internal/trust"
	trustmetrics "proveniq-ops/internal/trust/metrics"
	truststore "proveniq-ops/internal/trust/store"
)

func main() {
	log := logger.New()
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()

	// Persistence. Postgres when configured, memory-backed otherwise so the
	// service still boots for local development.
	var (
		eventStore events.Store
		tiers      trust.TierStore
		waivers    trust.WaiverStore
		thresholds trust.ThresholdStore
		attStore   attestation.Store
		keyStore   attkeys.Store
		auditStore audittrace.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		eventStore = eventstore.NewPostgres(db)
		tiers = truststore.NewPostgresTiers(db)
		waivers = truststore.NewPostgresWaivers(db)
		thresholds = truststore.NewPostgresThresholds(db)
		attStore = attstore.NewPostgres(db)
		keyStore = attstore.NewPostgresKeyStore(db)
		auditStore = auditstore.NewPostgres(db)
		log.Info("postgres connected")
	} else {
		eventStore = eventstore.NewMemory()
		tiers = truststore.NewMemoryTiers()
		waivers = truststore.NewMemoryWaivers()
		thresholds = truststore.NewMemoryThresholds()
		attStore = attstore.NewMemoryStore()
		keyStore = attkeys.NewMemoryStore()
		auditStore = auditstore.NewMemoryStore()
		log.Warn("no database configured, using in-memory stores")
	}

	// Issuance locking. Redis gives cross-replica exclusion; the memory
	// locker only guards a single process.
	var locker attlock.Locker = attlock.NewMemory()
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		locker = attlock.NewRedis(redisClient)
		log.Info("redis connected")
	}

	// Downstream notifications are optional; without brokers they are dropped.
	var notifier downstream.Notifier = downstream.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := downstream.NewKafkaNotifier(cfg.KafkaBrokers, downstream.WithLogger(log))
		if err != nil {
			return err
		}
		defer kafka.Close()
		notifier = kafka
		log.Info("kafka producer connected", "brokers", cfg.KafkaBrokers)
	}

	eventsSvc := events.New(eventStore,
		events.WithLogger(log),
		events.WithMetrics(eventmetrics.New()))

	stats := truststore.NewEventLogStats(eventStore)
	trustSvc := trust.New(stats, tiers, waivers, thresholds,
		trust.WithLogger(log),
		trust.WithMetrics(trustmetrics.New()),
		trust.WithNotifier(notifier))

	keyManager, err := attkeys.NewManager(keyStore, cfg.AttestationMasterKey)
	if err != nil {
		return err
	}
	attSvc := attestation.New(attStore, trustSvc, eventStore, stats, waivers, keyManager, locker,
		attestation.WithLogger(log),
		attestation.WithMetrics(attmetrics.New()),
		attestation.WithNotifier(notifier))

	auditSvc := audittrace.New(auditStore, audittrace.WithLogger(log))

	dag, err := bishop.LoadDAG(cfg.DAGPath)
	if err != nil {
		return err
	}
	orchestrator := bishop.New(dag,
		bishop.WithLogger(log),
		bishop.WithMetrics(bishopmetrics.New()),
		bishop.WithTraceRecorder(auditSvc))

	var bridge ledger.Bridge
	if cfg.Ledger.UseMock {
		bridge = ledger.NewMemoryBridge(1_000_000_000_000)
		log.Warn("using mock ledger bridge")
	} else {
		bridge = ledger.NewHTTPBridge(cfg.Ledger.BaseURL, cfg.Ledger.Timeout)
	}

	if err := nodes.New(eventsSvc, bridge, nodes.WithLogger(log)).Register(orchestrator); err != nil {
		return err
	}

	worker := ledger.NewSyncWorker(bridge, eventsSvc, cfg.SyncInterval, cfg.SyncBatchSize,
		ledger.WithLogger(log),
		ledger.WithMetrics(ledgermetrics.New()))
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("ledger sync worker stopped", "error", err)
		}
	}()

	router := httpapi.NewRouter(httpapi.Services{
		Events:       eventsSvc,
		Trust:        trustSvc,
		Attestations: attSvc,
		Audit:        auditSvc,
		Orchestrator: orchestrator,
	}, log)

	srv := httpserver.New(cfg.Addr, router)
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
