package handler

import (
	"context"
	"time"

	"github.com/evetabi/racesettle/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// The views below are what the admin handlers read and drive. The
// repositories in internal/repository and service.SettlementService
// satisfy them.

// PeriodReader reads periods.
type PeriodReader interface {
	GetByID(ctx context.Context, id int64) (*domain.Period, error)
	ListRecent(ctx context.Context, limit, offset int) ([]*domain.Period, error)
}

// BetCounter aggregates a period's bets.
type BetCounter interface {
	CountByPeriod(ctx context.Context, periodID int64) (domain.BetCounts, error)
}

// RecordReader reads settlement records.
type RecordReader interface {
	GetRecord(ctx context.Context, periodID int64) (*domain.SettlementRecord, error)
}

// LedgerReader reads ledger entries.
type LedgerReader interface {
	ListByPeriod(ctx context.Context, periodID int64, limit, offset int) ([]*domain.Transaction, error)
	RebateTotal(ctx context.Context, periodID int64) (decimal.Decimal, error)
}

// Settler previews and resumes settlement of a period.
type Settler interface {
	Preview(ctx context.Context, periodID int64) (*domain.SettlementPreview, error)
	ResumePeriod(ctx context.Context, periodID int64) (*domain.SettleResult, error)
}

// TaskAdmin reads and re-opens compensation tasks.
type TaskAdmin interface {
	GetTask(ctx context.Context, id uuid.UUID) (*domain.CompensationTask, error)
	ListTasks(ctx context.Context, status domain.TaskStatus, limit, offset int) ([]*domain.CompensationTask, error)
	ResetTask(ctx context.Context, id uuid.UUID, now time.Time) (*domain.CompensationTask, error)
}
