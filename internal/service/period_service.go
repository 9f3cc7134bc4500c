package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/racesettle/internal/domain"
)

// dueBatch caps how many due periods one driver tick picks up.
const dueBatch = 20

// Settler is the minimal interface PeriodService needs from SettlementService.
type Settler interface {
	SettlePeriod(ctx context.Context, periodID int64, draw domain.DrawResult) (*domain.SettleResult, error)
}

// PeriodService drives the betting → drawing → settled state machine. It calls
// the settler exactly once when a period enters drawing and never waits for a
// guaranteed settled outcome; unfinished periods belong to the reconciler.
type PeriodService struct {
	periods     PeriodStore
	settler     Settler
	logger      *slog.Logger
	broadcaster Broadcaster // injected after WS Hub is built
}

// NewPeriodService creates a PeriodService.
func NewPeriodService(periods PeriodStore, settler Settler, logger *slog.Logger) *PeriodService {
	return &PeriodService{periods: periods, settler: settler, logger: logger}
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *PeriodService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// ──────────────────────────────────────────────────────────────────────────────
// Transitions
// ──────────────────────────────────────────────────────────────────────────────

// BeginDrawing moves a betting period to drawing and makes the single
// settlement attempt for it. Returns ErrPeriodNotBetting when another driver
// already moved the period; the settler is not invoked again in that case.
func (s *PeriodService) BeginDrawing(ctx context.Context, periodID int64, draw domain.DrawResult) (*domain.SettleResult, error) {
	ok, err := s.periods.Transition(ctx, periodID, domain.PeriodBetting, domain.PeriodDrawing)
	if err != nil {
		return nil, fmt.Errorf("period_service.BeginDrawing: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("period_service.BeginDrawing: period %d: %w", periodID, domain.ErrPeriodNotBetting)
	}
	s.announce(periodID, domain.PeriodDrawing)

	res, err := s.settler.SettlePeriod(ctx, periodID, draw)
	if err != nil {
		// the period stays in drawing; new periods keep running
		return nil, fmt.Errorf("period_service.BeginDrawing: settle %d: %w", periodID, err)
	}
	s.logger.Info("period drawn",
		"period", periodID, "status", res.Status,
		"settled", res.SettledCount, "remaining", res.Remaining)
	return res, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Driver entry points
// ──────────────────────────────────────────────────────────────────────────────

// ProcessDuePeriods draws every betting period whose draw time has passed and
// whose result the generator has written. A failing period does NOT hold up
// the others. Returns the number of periods moved to drawing.
func (s *PeriodService) ProcessDuePeriods(ctx context.Context, now time.Time) (int, error) {
	due, err := s.periods.ListDue(ctx, now, dueBatch)
	if err != nil {
		return 0, fmt.Errorf("period_service.ProcessDuePeriods: %w", err)
	}

	drawn := 0
	for _, p := range due {
		_, err := s.BeginDrawing(ctx, p.ID, p.DrawResult)
		switch {
		case err == nil:
			drawn++
		case errors.Is(err, domain.ErrPeriodNotBetting):
			// another driver got there first
		case domain.IsDataIntegrity(err):
			drawn++ // moved to drawing; blocked until corrected
		default:
			s.logger.Error("period draw failed", "period", p.ID, "err", err)
		}
	}
	return drawn, nil
}

// OpenNextPeriod creates the betting period that follows the latest one, with
// the given draw time.
func (s *PeriodService) OpenNextPeriod(ctx context.Context, drawTime time.Time) (int64, error) {
	latest, err := s.periods.LatestID(ctx)
	if err != nil {
		return 0, fmt.Errorf("period_service.OpenNextPeriod: %w", err)
	}
	id := domain.NextPeriodID(latest, drawTime)
	if err := s.periods.Create(ctx, id, drawTime); err != nil {
		return 0, fmt.Errorf("period_service.OpenNextPeriod: %w", err)
	}
	s.announce(id, domain.PeriodBetting)
	return id, nil
}

func (s *PeriodService) announce(periodID int64, status domain.PeriodStatus) {
	if s.broadcaster != nil {
		s.broadcaster.BroadcastPeriodStatus(periodID, status)
	}
}
