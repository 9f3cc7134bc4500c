package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/racesettle/internal/config"
	"github.com/evetabi/racesettle/internal/domain"
	"github.com/evetabi/racesettle/internal/events"
	"github.com/evetabi/racesettle/internal/lock"
	"github.com/evetabi/racesettle/internal/metrics"
	"github.com/shopspring/decimal"
)

// publishTimeout bounds the downstream event write after a period completes.
const publishTimeout = 5 * time.Second

// SettlementService settles a period's bets, distributes their rebates and
// writes the period's SettlementRecord. At most one run per period is
// productive at a time (period lock) and a run that stops early leaves a
// CompensationTask behind for the reconciler.
type SettlementService struct {
	periods PeriodStore
	bets    BetStore
	ledger  Ledger
	store   SettlementStore
	rebates *RebateService
	locker  lock.Locker
	metrics *metrics.Settlement
	cfg     *config.Config
	logger  *slog.Logger

	broadcaster Broadcaster      // injected after WS Hub is built
	publisher   events.Publisher // NopPublisher when Kafka is not configured
	now         func() time.Time
}

// NewSettlementService builds a SettlementService.
func NewSettlementService(
	periods PeriodStore,
	bets BetStore,
	ledger Ledger,
	store SettlementStore,
	rebates *RebateService,
	locker lock.Locker,
	m *metrics.Settlement,
	cfg *config.Config,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		periods:   periods,
		bets:      bets,
		ledger:    ledger,
		store:     store,
		rebates:   rebates,
		locker:    locker,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
		publisher: events.NopPublisher{},
		now:       time.Now,
	}
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *SettlementService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// SetPublisher injects the downstream event publisher.
func (s *SettlementService) SetPublisher(p events.Publisher) { s.publisher = p }

// ──────────────────────────────────────────────────────────────────────────────
// SettlePeriod
// ──────────────────────────────────────────────────────────────────────────────

// SettlePeriod settles every unsettled bet of the period against draw.
//
// A malformed draw is returned as *domain.DataIntegrityError and nothing is
// settled. Every other problem (lock held, ledger failure, budget exceeded)
// is reported through the result status with a nil error, and a pending
// CompensationTask is left for the reconciler.
func (s *SettlementService) SettlePeriod(ctx context.Context, periodID int64, draw domain.DrawResult) (res *domain.SettleResult, err error) {
	start := s.now()
	defer func() {
		if res != nil {
			res.Duration = s.now().Sub(start)
			s.metrics.ObserveRun(string(res.Status), res.Duration)
		}
	}()

	// ── 1. Validate the draw ──────────────────────────────────────────────────
	if err = draw.Validate(); err != nil {
		var die *domain.DataIntegrityError
		if errors.As(err, &die) {
			die.PeriodID = periodID
		}
		s.flagIntegrity(ctx, periodID, err)
		return nil, err
	}

	// ── 2. Idempotency fast path, then the period lock ────────────────────────
	if res, err = s.completed(ctx, periodID); res != nil || err != nil {
		return res, err
	}

	key := lock.PeriodKey(periodID)
	token, err := s.locker.Acquire(ctx, key, s.cfg.Lock.TTL)
	if errors.Is(err, domain.ErrLockContention) {
		s.metrics.IncLockContention()
		s.logger.Info("settlement lock held by another worker", "period", periodID)
		s.enqueue(ctx, periodID, domain.ReasonLockContention, err)
		return &domain.SettleResult{PeriodID: periodID, Status: domain.SettleLocked}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settlement_service.SettlePeriod: acquire lock: %w", err)
	}
	defer func() {
		if rerr := s.locker.Release(context.WithoutCancel(ctx), key, token); rerr != nil {
			s.logger.Warn("settlement lock release failed", "period", periodID, "err", rerr)
		}
	}()

	// a run that finished between the fast path and the lock
	if res, err = s.completed(ctx, periodID); res != nil || err != nil {
		return res, err
	}

	// ── 3–5. Bounded run ──────────────────────────────────────────────────────
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Settlement.Budget)
	defer cancel()

	return s.run(runCtx, ctx, periodID, draw), nil
}

// ResumePeriod re-runs settlement for a period using its stored draw. Bets and
// rebates already recorded are skipped by their idempotency keys.
func (s *SettlementService) ResumePeriod(ctx context.Context, periodID int64) (*domain.SettleResult, error) {
	p, err := s.periods.GetByID(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("settlement_service.ResumePeriod: %w", err)
	}
	if p.Status == domain.PeriodBetting {
		return nil, fmt.Errorf("settlement_service.ResumePeriod: period %d still betting: %w",
			periodID, domain.ErrInvalidTransition)
	}
	if !p.HasDraw() {
		return nil, fmt.Errorf("settlement_service.ResumePeriod: period %d: %w", periodID, domain.ErrNoDrawResult)
	}
	return s.SettlePeriod(ctx, periodID, p.DrawResult)
}

// ──────────────────────────────────────────────────────────────────────────────
// run: settle, rebate and finalize under the lock
// ──────────────────────────────────────────────────────────────────────────────

// run settles and rebates under ctx (the budget) and finalises under parent,
// so a run that used its whole budget still records its outcome.
func (s *SettlementService) run(ctx, parent context.Context, periodID int64, draw domain.DrawResult) *domain.SettleResult {
	res := &domain.SettleResult{PeriodID: periodID}
	var cause error
	fail := func(err error) {
		res.Failures++
		if cause == nil {
			cause = err
		}
	}

	// ── 3. Settle unsettled bets ──────────────────────────────────────────────
	bets, err := s.bets.ListUnsettled(ctx, periodID)
	if err != nil {
		fail(fmt.Errorf("list unsettled: %w", err))
	}
	for _, bet := range bets {
		if ctx.Err() != nil {
			break
		}
		out, err := domain.Evaluate(*bet, draw)
		if err != nil {
			s.logger.Error("bet evaluation failed",
				"period", periodID, "bet", bet.ID, "type", bet.BetType, "value", bet.BetValue, "err", err)
			fail(fmt.Errorf("bet %d: %w", bet.ID, err))
			continue
		}
		if _, err = s.ledger.SettleBet(ctx, bet, out); err != nil {
			if errors.Is(err, domain.ErrAlreadySettled) {
				continue
			}
			s.logger.Error("bet settlement write failed",
				"period", periodID, "bet", bet.ID, "member", bet.MemberID, "err", err)
			fail(err)
			continue
		}
		res.SettledThisRun++
		s.metrics.ObserveBet(out.Win, out.WinAmount)
	}

	// ── 4. Rebate every settled bet whose cascade is not recorded ─────────────
	if ctx.Err() == nil {
		pending, err := s.bets.ListUnrebated(ctx, periodID)
		if err != nil {
			fail(fmt.Errorf("list unrebated: %w", err))
		}
		for _, bet := range pending {
			if ctx.Err() != nil {
				break
			}
			if err := s.rebate(ctx, bet); err != nil {
				s.logger.Error("rebate distribution failed", "period", periodID, "bet", bet.ID, "err", err)
				fail(err)
				continue
			}
			res.RebatedThisRun++
		}
	}

	// ── 5. Completion check ───────────────────────────────────────────────────
	counts, err := s.bets.CountByPeriod(parent, periodID)
	if err != nil {
		fail(fmt.Errorf("count bets: %w", err))
		return s.partial(parent, res, cause)
	}
	res.SettledCount = counts.Settled
	res.TotalWinAmount = counts.TotalWinAmount
	res.Remaining = counts.Unsettled + counts.Unrebated

	if !counts.Complete() {
		if ctx.Err() != nil && cause == nil {
			cause = fmt.Errorf("settlement budget %s exceeded", s.cfg.Settlement.Budget)
		}
		if cause == nil {
			cause = errors.New("bets left unsettled")
		}
		return s.partial(parent, res, cause)
	}

	if err := s.finalize(parent, res, draw); err != nil {
		fail(err)
		return s.partial(parent, res, cause)
	}
	return res
}

// rebate distributes one bet's pool and marks its cascade done. A broken agent
// chain aborts that bet's rebate for audit and still marks it done, so the
// period can complete.
func (s *SettlementService) rebate(ctx context.Context, bet *domain.Bet) error {
	_, err := s.rebates.Distribute(ctx, RebateRequestFor(bet))
	if domain.IsCycle(err) || errors.Is(err, domain.ErrChainTooDeep) {
		s.metrics.IncCycle()
		s.logger.Error("agent chain broken, rebate aborted",
			"period", bet.PeriodID, "bet", bet.ID, "member", bet.MemberID, "alert", true, "err", err)
		err = nil
	}
	if err != nil {
		return err
	}
	return s.bets.MarkRebated(ctx, bet.ID)
}

// finalize writes the SettlementRecord and closes out the period.
func (s *SettlementService) finalize(ctx context.Context, res *domain.SettleResult, draw domain.DrawResult) error {
	all, err := s.bets.ListByPeriod(ctx, res.PeriodID)
	if err != nil {
		return fmt.Errorf("list period bets: %w", err)
	}
	details := make(domain.BetSummaries, 0, len(all))
	for _, b := range all {
		details = append(details, domain.BetSummary{
			BetID:     b.ID,
			MemberID:  b.MemberID,
			Win:       b.Win,
			WinAmount: b.WinAmount,
		})
	}

	rec := &domain.SettlementRecord{
		PeriodID:       res.PeriodID,
		SettledCount:   res.SettledCount,
		TotalWinAmount: res.TotalWinAmount,
		Details:        details,
		CreatedAt:      s.now().UTC(),
	}
	created, err := s.store.CreateRecord(ctx, rec)
	if err != nil {
		return fmt.Errorf("create settlement record: %w", err)
	}
	res.Status = domain.SettleComplete
	if !created {
		res.Status = domain.SettleAlreadySettled
	}

	// the record is authoritative; the steps below are healed by the next call
	if err := s.periods.MarkSettled(ctx, res.PeriodID); err != nil {
		s.logger.Warn("mark period settled failed", "period", res.PeriodID, "err", err)
	}
	if err := s.store.CloseTasks(ctx, res.PeriodID); err != nil {
		s.logger.Warn("close compensation tasks failed", "period", res.PeriodID, "err", err)
	}

	if created {
		s.logger.Info("period settled",
			"period", res.PeriodID, "settled", res.SettledCount,
			"total_win", res.TotalWinAmount.StringFixed(2),
			"settled_this_run", res.SettledThisRun, "rebated_this_run", res.RebatedThisRun)
		s.announce(ctx, rec, res, draw)
	}
	return nil
}

// announce pushes the completed period to the ops feed and downstream.
func (s *SettlementService) announce(ctx context.Context, rec *domain.SettlementRecord, res *domain.SettleResult, draw domain.DrawResult) {
	if s.broadcaster != nil {
		s.broadcaster.BroadcastPeriodStatus(res.PeriodID, domain.PeriodSettled)
		s.broadcaster.BroadcastPeriodSettled(res)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	err := s.publisher.PublishPeriodSettled(pubCtx, rec, draw)
	s.metrics.ObservePublish(err)
	if err != nil {
		s.logger.Warn("period.settled publish failed", "period", res.PeriodID, "err", err)
	}
}

// partial turns a stopped run into a pending CompensationTask.
func (s *SettlementService) partial(ctx context.Context, res *domain.SettleResult, cause error) *domain.SettleResult {
	res.Status = domain.SettlePartial
	if cause == nil {
		cause = errors.New("unknown")
	}
	pse := &domain.PartialSettlementError{
		PeriodID:  res.PeriodID,
		Remaining: res.Remaining,
		Failures:  res.Failures,
		Cause:     cause.Error(),
	}
	s.logger.Warn("partial settlement",
		"period", res.PeriodID, "remaining", res.Remaining, "failures", res.Failures,
		"settled_this_run", res.SettledThisRun, "err", cause)
	s.enqueue(ctx, res.PeriodID, domain.ReasonPartial, pse)
	return res
}

// ──────────────────────────────────────────────────────────────────────────────
// Preview
// ──────────────────────────────────────────────────────────────────────────────

// Preview evaluates the period's unsettled bets against its stored draw
// without writing anything.
func (s *SettlementService) Preview(ctx context.Context, periodID int64) (*domain.SettlementPreview, error) {
	p, err := s.periods.GetByID(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("settlement_service.Preview: %w", err)
	}
	counts, err := s.bets.CountByPeriod(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("settlement_service.Preview: %w", err)
	}

	pv := &domain.SettlementPreview{
		PeriodID:        periodID,
		Status:          p.Status,
		DrawResult:      p.DrawResult,
		Counts:          counts,
		Projections:     []domain.BetProjection{},
		ProjectedPayout: decimal.Zero,
	}
	if !p.HasDraw() {
		return pv, nil
	}
	if err := p.DrawResult.Validate(); err != nil {
		var die *domain.DataIntegrityError
		if errors.As(err, &die) {
			die.PeriodID = periodID
		}
		return nil, err
	}

	bets, err := s.bets.ListUnsettled(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("settlement_service.Preview: %w", err)
	}
	for _, b := range bets {
		proj := domain.BetProjection{
			BetID:    b.ID,
			BetType:  b.BetType,
			BetValue: b.BetValue,
			Amount:   b.Amount,
		}
		out, err := domain.Evaluate(*b, p.DrawResult)
		if err != nil {
			proj.Error = err.Error()
			pv.Invalid++
		} else {
			proj.Win = out.Win
			proj.WinAmount = out.WinAmount
			pv.ProjectedPayout = pv.ProjectedPayout.Add(out.WinAmount)
		}
		pv.Projections = append(pv.Projections, proj)
	}
	return pv, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// helpers
// ──────────────────────────────────────────────────────────────────────────────

// completed returns an already_settled result when the period's record exists.
func (s *SettlementService) completed(ctx context.Context, periodID int64) (*domain.SettleResult, error) {
	rec, err := s.store.GetRecord(ctx, periodID)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settlement_service: get record: %w", err)
	}
	// heals a crash between the record insert and the status update
	if err := s.periods.MarkSettled(ctx, periodID); err != nil {
		s.logger.Warn("mark period settled failed", "period", periodID, "err", err)
	}
	return &domain.SettleResult{
		PeriodID:       periodID,
		Status:         domain.SettleAlreadySettled,
		SettledCount:   rec.SettledCount,
		TotalWinAmount: rec.TotalWinAmount,
	}, nil
}

// enqueue ensures a pending CompensationTask for the period.
func (s *SettlementService) enqueue(ctx context.Context, periodID int64, reason string, cause error) {
	next := s.now().Add(s.cfg.Reconcile.BackoffBase)
	if _, err := s.store.EnsureTask(context.WithoutCancel(ctx), periodID, reason, cause.Error(), next); err != nil {
		s.logger.Error("compensation task enqueue failed", "period", periodID, "reason", reason, "err", err)
	}
}

// flagIntegrity raises the operator alert for a malformed draw and parks the
// period in a failed task.
func (s *SettlementService) flagIntegrity(ctx context.Context, periodID int64, cause error) {
	s.metrics.IncDataIntegrity()
	s.logger.Error("draw result rejected, period blocked until corrected",
		"period", periodID, "alert", true, "err", cause)
	if err := s.store.CreateFailedTask(context.WithoutCancel(ctx), periodID, domain.ReasonDataIntegrity, cause.Error()); err != nil {
		s.logger.Error("data integrity task write failed", "period", periodID, "err", err)
	}
}
