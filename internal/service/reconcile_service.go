package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/racesettle/internal/config"
	"github.com/evetabi/racesettle/internal/domain"
	"github.com/evetabi/racesettle/internal/metrics"
)

// Resumer is the minimal interface ReconcileService needs from
// SettlementService.
type Resumer interface {
	ResumePeriod(ctx context.Context, periodID int64) (*domain.SettleResult, error)
}

// ReconcileReport summarises one reconciler pass.
type ReconcileReport struct {
	Enqueued  int `json:"enqueued"`
	Attempted int `json:"attempted"`
	Completed int `json:"completed"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
}

// ReconcileService finds periods whose settlement never completed and drives
// their CompensationTasks to done or failed with capped exponential backoff.
// It shares nothing with the game clock but persisted state.
type ReconcileService struct {
	store       SettlementStore
	resumer     Resumer
	metrics     *metrics.Settlement
	cfg         *config.Config
	logger      *slog.Logger
	broadcaster Broadcaster // injected after WS Hub is built
}

// NewReconcileService creates a ReconcileService.
func NewReconcileService(
	store SettlementStore,
	resumer Resumer,
	m *metrics.Settlement,
	cfg *config.Config,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		store:   store,
		resumer: resumer,
		metrics: m,
		cfg:     cfg,
		logger:  logger,
	}
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *ReconcileService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// RunOnce performs one audit scan and works off every due task.
func (s *ReconcileService) RunOnce(ctx context.Context, now time.Time) (ReconcileReport, error) {
	var rep ReconcileReport
	batch := s.cfg.Reconcile.BatchSize
	cutoff := now.Add(-s.cfg.Settlement.GraceWindow)

	// ── 1. Audit scan: drawn periods without a record ─────────────────────────
	incomplete, err := s.store.FindIncomplete(ctx, cutoff, batch)
	if err != nil {
		return rep, fmt.Errorf("reconcile_service.RunOnce: find incomplete: %w", err)
	}
	for _, id := range incomplete {
		if s.enqueue(ctx, id, domain.ReasonMissingRecord, "no settlement record after grace window", now) {
			rep.Enqueued++
		}
	}

	// ── 2. Audit scan: settled bets without their rebate pass ─────────────────
	unrebated, err := s.store.FindUnrebated(ctx, cutoff, batch)
	if err != nil {
		return rep, fmt.Errorf("reconcile_service.RunOnce: find unrebated: %w", err)
	}
	for _, id := range unrebated {
		if s.enqueue(ctx, id, domain.ReasonMissingRebates, "settled bets without rebate pass", now) {
			rep.Enqueued++
		}
	}

	// ── 3. Due tasks ──────────────────────────────────────────────────────────
	tasks, err := s.store.ListDueTasks(ctx, now, batch)
	if err != nil {
		return rep, fmt.Errorf("reconcile_service.RunOnce: list due tasks: %w", err)
	}
	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		s.attempt(ctx, t, now, &rep)
	}

	if rep != (ReconcileReport{}) {
		s.logger.Info("reconcile pass",
			"enqueued", rep.Enqueued, "attempted", rep.Attempted,
			"completed", rep.Completed, "retried", rep.Retried, "failed", rep.Failed)
	}
	return rep, nil
}

// attempt resumes one task's period and records the outcome on the task.
func (s *ReconcileService) attempt(ctx context.Context, t *domain.CompensationTask, now time.Time, rep *ReconcileReport) {
	maxRetries := s.cfg.Reconcile.MaxRetries
	if t.RetryCount >= maxRetries {
		s.fail(ctx, t, fmt.Sprintf("retry cap %d reached", maxRetries), rep)
		return
	}

	rep.Attempted++
	res, err := s.resumer.ResumePeriod(ctx, t.PeriodID)

	switch {
	case err == nil && res.Done():
		t.Status = domain.TaskDone
		t.LastError = ""
		rep.Completed++
		s.logger.Info("compensation task done", "task", t.ID, "period", t.PeriodID, "status", res.Status)
		s.save(ctx, t)
		return

	case err != nil && !domain.IsRetryable(err):
		s.fail(ctx, t, err.Error(), rep)
		return
	}

	t.RetryCount++
	t.LastError = describe(res, err)
	if t.RetryCount >= maxRetries {
		s.fail(ctx, t, t.LastError, rep)
		return
	}
	t.NextAttemptAt = now.Add(domain.Backoff(t.RetryCount, s.cfg.Reconcile.BackoffBase, s.cfg.Reconcile.BackoffMax))
	rep.Retried++
	s.metrics.IncRetry()
	s.logger.Warn("compensation attempt incomplete",
		"task", t.ID, "period", t.PeriodID, "retry", t.RetryCount,
		"next_attempt", t.NextAttemptAt, "err", t.LastError)
	s.save(ctx, t)
}

// fail parks the task for manual audit and raises the operator alert.
func (s *ReconcileService) fail(ctx context.Context, t *domain.CompensationTask, cause string, rep *ReconcileReport) {
	t.Status = domain.TaskFailed
	t.LastError = cause
	rep.Failed++
	s.metrics.IncTaskFailed(t.Reason)
	s.logger.Error("compensation task failed, manual audit required",
		"task", t.ID, "period", t.PeriodID, "reason", t.Reason,
		"retries", t.RetryCount, "alert", true, "err", cause)
	s.save(ctx, t)
	if s.broadcaster != nil {
		s.broadcaster.BroadcastCompensationFailed(t)
	}
}

func (s *ReconcileService) save(ctx context.Context, t *domain.CompensationTask) {
	if err := s.store.UpdateTask(context.WithoutCancel(ctx), t); err != nil {
		s.logger.Error("compensation task update failed", "task", t.ID, "period", t.PeriodID, "err", err)
	}
}

func (s *ReconcileService) enqueue(ctx context.Context, periodID int64, reason, detail string, now time.Time) bool {
	if _, err := s.store.EnsureTask(ctx, periodID, reason, detail, now); err != nil {
		s.logger.Error("compensation task enqueue failed", "period", periodID, "reason", reason, "err", err)
		return false
	}
	s.logger.Warn("incomplete settlement detected", "period", periodID, "reason", reason)
	return true
}

// describe renders why an attempt did not finish the period.
func describe(res *domain.SettleResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if res == nil {
		return "no result"
	}
	return fmt.Sprintf("status %s: %d remaining, %d failed", res.Status, res.Remaining, res.Failures)
}
