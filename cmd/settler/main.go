// Package main is the entry point for the PK10 settlement engine. It wires
// the settlement, rebate and reconcile services, runs the period scheduler and
// serves the ops endpoints (/health, /metrics, /ws) on SERVER_PORT.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evetabi/racesettle/internal/api"
	"github.com/evetabi/racesettle/internal/config"
	"github.com/evetabi/racesettle/internal/events"
	"github.com/evetabi/racesettle/internal/lock"
	"github.com/evetabi/racesettle/internal/metrics"
	"github.com/evetabi/racesettle/internal/repository"
	"github.com/evetabi/racesettle/internal/scheduler"
	"github.com/evetabi/racesettle/internal/service"
	"github.com/evetabi/racesettle/internal/ws"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // postgres driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func main() {
	// ── 1. Config + logger ────────────────────────────────────────────────────
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting pk10 settler",
		"env", cfg.Server.Env, "port", cfg.Server.Port, "lock_backend", cfg.Lock.Backend)

	// ── 2. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Database ───────────────────────────────────────────────────────────
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	logger.Info("database connected")

	// ── 4. Migrations ─────────────────────────────────────────────────────────
	version, err := repository.RunMigrations(db, cfg.DB.MigrationsDir)
	if err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied", "version", version)

	// ── 5. Metrics ────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// ── 6. Lock backend ───────────────────────────────────────────────────────
	locker, closeLocker, err := lock.Open(ctx, cfg, db)
	if err != nil {
		logger.Error("lock backend unavailable", "err", err)
		os.Exit(1)
	}
	defer closeLocker()

	// ── 7. Repositories ───────────────────────────────────────────────────────
	periodRepo := repository.NewPeriodRepository(db)
	betRepo := repository.NewBetRepository(db)
	agentRepo := repository.NewAgentRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	settlementRepo := repository.NewSettlementRepository(db)

	// ── 8. Services (order matters for injection) ─────────────────────────────
	authSvc := service.NewAuthService(cfg)
	rebateSvc := service.NewRebateService(agentRepo, ledgerRepo, m, cfg, logger)
	settleSvc := service.NewSettlementService(
		periodRepo, betRepo, ledgerRepo, settlementRepo, rebateSvc, locker, m, cfg, logger)
	periodSvc := service.NewPeriodService(periodRepo, settleSvc, logger)
	reconcileSvc := service.NewReconcileService(settlementRepo, settleSvc, m, cfg, logger)

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		logger.Info("event publishing enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	defer publisher.Close()
	settleSvc.SetPublisher(publisher)

	// ── 9. WebSocket Hub ──────────────────────────────────────────────────────
	hub := ws.NewHub(func(token string) (string, error) {
		claims, err := authSvc.ParseAccessToken(token)
		if err != nil {
			return "", err
		}
		return claims.Subject, nil
	}, cfg.Server.WSAllowedOrigins, logger)

	settleSvc.SetBroadcaster(hub)
	periodSvc.SetBroadcaster(hub)
	reconcileSvc.SetBroadcaster(hub)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	logger.Info("websocket hub started")

	// ── 10. Scheduler ─────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(periodSvc, reconcileSvc, cfg, logger)
	if err = sched.Start(gctx); err != nil {
		logger.Error("scheduler start failed", "err", err)
		os.Exit(1)
	}
	g.Go(func() error {
		<-sched.Done()
		return nil
	})

	// ── 11. HTTP Router ───────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		Ctx:      gctx,
		AuthSvc:  authSvc,
		Hub:      hub,
		Gatherer: reg,
		Ping:     db.PingContext,
		Cfg:      cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// ── 12. Graceful shutdown ─────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received, draining connections…")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err = g.Wait(); err != nil {
		logger.Error("settler stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("settler stopped cleanly")
}
