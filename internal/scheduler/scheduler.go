// Package scheduler runs the background work of the settler process:
//  1. periodLoop         – draws due periods every tick.
//  2. periodOpenLoop     – opens the next period on each interval boundary (optional).
//  3. the reconciler     – a cron job working off compensation tasks.
//
// The reconciler shares nothing with the period loop but persisted state.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/racesettle/internal/config"
	"github.com/evetabi/racesettle/internal/service"
	"github.com/robfig/cron/v3"
)

// PeriodDriver is the minimal interface the Scheduler needs from PeriodService.
type PeriodDriver interface {
	ProcessDuePeriods(ctx context.Context, now time.Time) (int, error)
	OpenNextPeriod(ctx context.Context, drawTime time.Time) (int64, error)
}

// Reconciler is the minimal interface the Scheduler needs from ReconcileService.
type Reconciler interface {
	RunOnce(ctx context.Context, now time.Time) (service.ReconcileReport, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler wires together the services and runs the background loops.
// Call Start(ctx) once from main(); cancel the context to shut it down.
type Scheduler struct {
	periods    PeriodDriver
	reconciler Reconciler
	cfg        *config.Config
	logger     *slog.Logger
	cron       *cron.Cron
	done       chan struct{}
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	periods PeriodDriver,
	reconciler Reconciler,
	cfg *config.Config,
	logger *slog.Logger,
) *Scheduler {
	cl := cronLogger{logger: logger}
	return &Scheduler{
		periods:    periods,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logger,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		done: make(chan struct{}),
	}
}

// Start launches the background loops and the reconciler job. It returns
// immediately; everything runs until ctx is cancelled. Done() is closed once
// the loops have exited and the last reconcile pass has finished.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.Reconcile.Schedule, func() { s.reconcile(ctx) }); err != nil {
		return fmt.Errorf("scheduler.Start: reconcile schedule %q: %w", s.cfg.Reconcile.Schedule, err)
	}

	loops := make(chan struct{}, 2)
	n := 1
	go func() { s.periodLoop(ctx); loops <- struct{}{} }()
	if s.cfg.Scheduler.PeriodInterval > 0 {
		n++
		go func() { s.periodOpenLoop(ctx); loops <- struct{}{} }()
	}
	s.cron.Start()

	go func() {
		<-ctx.Done()
		stopped := s.cron.Stop()
		<-stopped.Done()
		for i := 0; i < n; i++ {
			<-loops
		}
		s.logger.Info("scheduler stopped")
		close(s.done)
	}()

	s.logger.Info("scheduler started",
		"tick", s.cfg.Scheduler.Tick,
		"period_interval", s.cfg.Scheduler.PeriodInterval,
		"reconcile", s.cfg.Reconcile.Schedule)
	return nil
}

// Done is closed after shutdown completes.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// ──────────────────────────────────────────────────────────────────────────────
// periodLoop
// ──────────────────────────────────────────────────────────────────────────────

// periodLoop draws every due period once per tick.
func (s *Scheduler) periodLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Scheduler.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("periodLoop: shutting down")
			return
		case <-ticker.C:
			s.processDue(ctx)
		}
	}
}

// processDue is the body of periodLoop, extracted so that the deferred
// recover catches a panic without ending the loop.
func (s *Scheduler) processDue(ctx context.Context) {
	defer s.recoverAndLog("periodLoop")

	n, err := s.periods.ProcessDuePeriods(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("periodLoop: ProcessDuePeriods", "err", err)
		return
	}
	if n > 0 {
		s.logger.Debug("periodLoop: periods drawn", "count", n)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// periodOpenLoop
// ──────────────────────────────────────────────────────────────────────────────

// periodOpenLoop opens a new period on each exact interval boundary, with a
// draw time one interval later.
func (s *Scheduler) periodOpenLoop(ctx context.Context) {
	interval := s.cfg.Scheduler.PeriodInterval
	for {
		now := time.Now().UTC()
		next := now.Truncate(interval).Add(interval)

		select {
		case <-ctx.Done():
			s.logger.Info("periodOpenLoop: shutting down")
			return
		case <-time.After(next.Sub(now)):
		}

		if err := s.openWithRetry(ctx, next.Add(interval)); err != nil {
			s.logger.Error("periodOpenLoop: failed to open period after retries", "err", err)
		}
	}
}

// openWithRetry attempts to open a period up to 3 times.
func (s *Scheduler) openWithRetry(ctx context.Context, drawTime time.Time) error {
	defer s.recoverAndLog("periodOpenLoop")

	const maxAttempts = 3
	const retryDelay = 2 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		id, err := s.periods.OpenNextPeriod(ctx, drawTime)
		if err == nil {
			s.logger.Info("period opened", "period", id, "draw_time", drawTime)
			return nil
		}
		lastErr = err
		s.logger.Warn("period open failed, retrying",
			"attempt", attempt, "max", maxAttempts, "err", err)

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return lastErr
}

// ──────────────────────────────────────────────────────────────────────────────
// reconciler job
// ──────────────────────────────────────────────────────────────────────────────

func (s *Scheduler) reconcile(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.reconciler.RunOnce(ctx, time.Now().UTC()); err != nil {
		s.logger.Error("reconciler: RunOnce", "err", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred inside each loop body to catch unexpected panics,
// log them, and allow the scheduler to continue running.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
