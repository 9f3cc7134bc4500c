// Package main is the entry point for the settlement back-office server.
// Runs on BACKOFFICE_PORT and exposes operator endpoints protected by RBAC.
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

	"github.com/evetabi/racesettle/internal/backoffice"
	"github.com/evetabi/racesettle/internal/config"
	"github.com/evetabi/racesettle/internal/events"
	"github.com/evetabi/racesettle/internal/lock"
	"github.com/evetabi/racesettle/internal/repository"
	"github.com/evetabi/racesettle/internal/service"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	// ── Config + logger ───────────────────────────────────────────────────────
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

	logger.Info("starting pk10 backoffice server",
		"env", cfg.Server.Env, "port", cfg.Server.BackofficePort)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────────────
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

	// Manual resumes take the same period lock as the settler process.
	locker, closeLocker, err := lock.Open(ctx, cfg, db)
	if err != nil {
		logger.Error("lock backend unavailable", "err", err)
		os.Exit(1)
	}
	defer closeLocker()

	// ── Repositories ──────────────────────────────────────────────────────────
	periodRepo := repository.NewPeriodRepository(db)
	betRepo := repository.NewBetRepository(db)
	agentRepo := repository.NewAgentRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	settlementRepo := repository.NewSettlementRepository(db)

	// ── Services ──────────────────────────────────────────────────────────────
	// Metrics are scraped from the settler; this process records none.
	authSvc := service.NewAuthService(cfg)
	rebateSvc := service.NewRebateService(agentRepo, ledgerRepo, nil, cfg, logger)
	settleSvc := service.NewSettlementService(
		periodRepo, betRepo, ledgerRepo, settlementRepo, rebateSvc, locker, nil, cfg, logger)

	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer publisher.Close()
		settleSvc.SetPublisher(publisher)
	}

	// ── Router ────────────────────────────────────────────────────────────────
	router := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		Ctx:     ctx,
		AuthSvc: authSvc,
		Periods: periodRepo,
		Bets:    betRepo,
		Records: settlementRepo,
		Ledger:  ledgerRepo,
		Tasks:   settlementRepo,
		Settler: settleSvc,
		Logger:  logger,
		Cfg:     cfg,
	})

	// a resume may run for the whole settlement budget
	srv := &http.Server{
		Addr:         ":" + cfg.Server.BackofficePort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: max(cfg.Server.WriteTimeout, cfg.Settlement.Budget+5*time.Second),
	}

	// ── Start ─────────────────────────────────────────────────────────────────
	go func() {
		logger.Info("backoffice http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("backoffice server error", "err", err)
			stop()
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("backoffice shutdown error", "err", err)
	}
	logger.Info("backoffice server stopped cleanly")
}
