package service

import (
	"context"
	"time"

	"github.com/evetabi/racesettle/internal/domain"
	"github.com/evetabi/racesettle/internal/repository"
)

// The stores below are the minimal views the services need of the
// repositories. The *Repository types in internal/repository satisfy them.

// PeriodStore reads and transitions periods.
type PeriodStore interface {
	GetByID(ctx context.Context, id int64) (*domain.Period, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Period, error)
	Transition(ctx context.Context, id int64, from, to domain.PeriodStatus) (bool, error)
	MarkSettled(ctx context.Context, id int64) error
	LatestID(ctx context.Context) (int64, error)
	Create(ctx context.Context, id int64, drawTime time.Time) error
}

// BetStore reads bets and flips their rebate flag.
type BetStore interface {
	ListUnsettled(ctx context.Context, periodID int64) ([]*domain.Bet, error)
	ListUnrebated(ctx context.Context, periodID int64) ([]*domain.Bet, error)
	ListByPeriod(ctx context.Context, periodID int64) ([]*domain.Bet, error)
	MarkRebated(ctx context.Context, betID int64) error
	CountByPeriod(ctx context.Context, periodID int64) (domain.BetCounts, error)
}

// AgentStore reads the agent directory.
type AgentStore interface {
	GetByID(ctx context.Context, id int64) (*domain.Agent, error)
}

// Ledger performs the atomic balance + transaction writes.
type Ledger interface {
	SettleBet(ctx context.Context, bet *domain.Bet, out domain.Outcome) (*domain.Transaction, error)
	CreditAgent(ctx context.Context, c domain.Credit) (*domain.Transaction, error)
}

// SettlementStore persists settlement records and compensation tasks.
type SettlementStore interface {
	GetRecord(ctx context.Context, periodID int64) (*domain.SettlementRecord, error)
	CreateRecord(ctx context.Context, rec *domain.SettlementRecord) (bool, error)
	EnsureTask(ctx context.Context, periodID int64, reason, lastErr string, nextAttempt time.Time) (*domain.CompensationTask, error)
	CreateFailedTask(ctx context.Context, periodID int64, reason, lastErr string) error
	ListDueTasks(ctx context.Context, now time.Time, limit int) ([]*domain.CompensationTask, error)
	UpdateTask(ctx context.Context, t *domain.CompensationTask) error
	CloseTasks(ctx context.Context, periodID int64) error
	FindIncomplete(ctx context.Context, before time.Time, limit int) ([]int64, error)
	FindUnrebated(ctx context.Context, before time.Time, limit int) ([]int64, error)
}

// Broadcaster is the minimal interface the services need from the WS hub.
// Implemented by ws.Hub.
type Broadcaster interface {
	BroadcastPeriodStatus(periodID int64, status domain.PeriodStatus)
	BroadcastPeriodSettled(res *domain.SettleResult)
	BroadcastCompensationFailed(task *domain.CompensationTask)
}

var (
	_ PeriodStore     = (*repository.PeriodRepository)(nil)
	_ BetStore        = (*repository.BetRepository)(nil)
	_ AgentStore      = (*repository.AgentRepository)(nil)
	_ Ledger          = (*repository.LedgerRepository)(nil)
	_ SettlementStore = (*repository.SettlementRepository)(nil)
)
