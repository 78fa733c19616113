// Command server runs the audit ingestion and query API with its
// background workers: the baseline recomputer and the outbound
// notification flusher.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"vigil/internal/audit/baseline"
	"vigil/internal/audit/bus"
	"vigil/internal/audit/device"
	audithandler "vigil/internal/audit/handler"
	"vigil/internal/audit/orchestrator"
	"vigil/internal/audit/risk"
	"vigil/internal/audit/service"
	"vigil/internal/audit/signing"
	"vigil/internal/audit/store"
	"vigil/internal/audit/threat"
	httpapi "vigil/internal/http"
	"vigil/internal/platform/config"
	"vigil/internal/platform/httpserver"
	"vigil/internal/platform/logger"
	"vigil/internal/platform/metrics"
	platformredis "vigil/internal/platform/redis"
	"vigil/internal/platform/token"
	"vigil/pkg/platform/circuit"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	registry := metrics.NewRegistry()

	// Stores. Postgres is the durable primary; without a DSN the process
	// runs entirely in memory, which is only suitable for development.
	var (
		events    store.Store
		baselines baseline.Store
	)
	if cfg.Postgres.DSN != "" {
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		events = store.NewPostgresStore(db)

		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		baselines = baseline.NewPostgresStore(pool)
	} else {
		log.Warn("no postgres DSN configured, using in-memory stores")
		events = store.NewInMemoryStore()
		baselines = baseline.NewInMemoryStore()
	}

	journal, err := store.OpenJournal(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	breaker := circuit.New("audit-store")
	failover := store.NewFailover(events, journal, breaker, store.WithFailoverLogger(log))

	// Caches.
	riskCache := risk.Cache(risk.NoopCache{})
	queryCache := service.QueryCache(service.NopQueryCache{})
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		riskCache = risk.NewRedisCache(redisClient.Client)
		queryCache = service.NewRedisQueryCache(redisClient.Client, service.WithQueryCacheLogger(log))
	}

	// Outbound notifications.
	publisher := bus.Publisher(bus.Nop{})
	if len(cfg.Kafka.Brokers) > 0 {
		if err := bus.EnsureTopics(ctx, cfg.Kafka.Brokers, 3); err != nil {
			return err
		}
		kafkaBus, err := bus.NewKafkaBus(cfg.Kafka.Brokers, bus.WithKafkaLogger(log))
		if err != nil {
			return err
		}
		defer kafkaBus.Close()
		go kafkaBus.Run(ctx)
		publisher = kafkaBus
	}

	// Analysis pipeline.
	calculator, err := risk.NewCalculator(baselines, failover, risk.WithLogger(log))
	if err != nil {
		return err
	}
	detector := threat.NewDetector(failover, threat.WithLogger(log))

	keys, err := signing.NewHKDFProvider([]byte(cfg.Signing.MasterSecret), cfg.Signing.ActiveKeyID)
	if err != nil {
		return err
	}
	signer, err := signing.NewSigner(keys)
	if err != nil {
		return err
	}

	pipeline := orchestrator.New(calculator, detector, signer,
		orchestrator.WithLogger(log),
		orchestrator.WithMetrics(orchestrator.NewMetrics(registry)),
		orchestrator.WithTimeout(cfg.Pipeline.StageTimeout),
	)

	svc := service.New(pipeline, signer, failover, publisher,
		service.WithLogger(log),
		service.WithMetrics(service.NewMetrics(registry)),
		service.WithRiskCache(riskCache),
		service.WithQueryCache(queryCache),
		service.WithDeviceService(device.NewService(true)),
	)

	// Baseline recomputer runs until shutdown.
	recomputer := baseline.NewRecomputer(failover, baselines, log, cfg.Pipeline.BaselineInterval)
	go func() {
		if err := recomputer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("baseline recomputer stopped", "error", err)
		}
	}()

	tokens := token.NewService(cfg.Server.JWTSigningKey, "vigil")
	router := httpapi.NewRouter(httpapi.Deps{
		Audit:      audithandler.New(svc, log),
		Auth:       token.NewServiceAdapter(tokens),
		Recomputer: recomputer,
		Registry:   registry,
		AdminToken: cfg.Server.AdminToken,
		Logger:     log,
	})

	srv := httpserver.New(cfg.Server.Addr, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting vigil", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
