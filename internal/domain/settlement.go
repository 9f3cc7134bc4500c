package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// SettlementRecord
// ──────────────────────────────────────────────────────────────────────────────

// SettlementRecord is the durable "period fully settled" marker. At most one
// exists per period.
type SettlementRecord struct {
	PeriodID       int64           `json:"period_id"        db:"period_id"`
	SettledCount   int             `json:"settled_count"    db:"settled_count"`
	TotalWinAmount decimal.Decimal `json:"total_win_amount" db:"total_win_amount"`
	Details        BetSummaries    `json:"details"          db:"details"`
	CreatedAt      time.Time       `json:"created_at"       db:"created_at"`
}

// BetSummary is one line of a record's details.
type BetSummary struct {
	BetID     int64           `json:"bet_id"`
	MemberID  int64           `json:"member_id"`
	Win       bool            `json:"win"`
	WinAmount decimal.Decimal `json:"win_amount"`
}

// BetSummaries is stored as a JSONB column.
type BetSummaries []BetSummary

// Value implements driver.Valuer.
func (s BetSummaries) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *BetSummaries) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	}
	return errors.New("bet summaries: unsupported column type")
}

// ──────────────────────────────────────────────────────────────────────────────
// SettleResult
// ──────────────────────────────────────────────────────────────────────────────

// SettleStatus is the outcome class of one orchestrator run.
type SettleStatus string

const (
	SettleComplete       SettleStatus = "complete"        // record written by this run
	SettleAlreadySettled SettleStatus = "already_settled" // record existed, no-op
	SettlePartial        SettleStatus = "partial"         // compensation will finish
	SettleLocked         SettleStatus = "locked"          // another worker holds the lock
)

// SettleResult is returned by every settlement run.
type SettleResult struct {
	PeriodID       int64           `json:"period_id"`
	Status         SettleStatus    `json:"status"`
	SettledCount   int             `json:"settled_count"`
	TotalWinAmount decimal.Decimal `json:"total_win_amount"`
	SettledThisRun int             `json:"settled_this_run"`
	RebatedThisRun int             `json:"rebated_this_run"`
	Remaining      int             `json:"remaining"`
	Failures       int             `json:"failures"`
	Duration       time.Duration   `json:"duration"`
}

// Done reports whether the period needs no further work.
func (r *SettleResult) Done() bool {
	return r.Status == SettleComplete || r.Status == SettleAlreadySettled
}

// BetProjection is a dry-run evaluation of one unsettled bet.
type BetProjection struct {
	BetID     int64           `json:"bet_id"`
	BetType   string          `json:"bet_type"`
	BetValue  string          `json:"bet_value"`
	Amount    decimal.Decimal `json:"amount"`
	Win       bool            `json:"win"`
	WinAmount decimal.Decimal `json:"win_amount"`
	Error     string          `json:"error,omitempty"`
}

// SettlementPreview is the read-only pre-settlement check of a period.
type SettlementPreview struct {
	PeriodID        int64           `json:"period_id"`
	Status          PeriodStatus    `json:"status"`
	DrawResult      DrawResult      `json:"draw_result"`
	Counts          BetCounts       `json:"counts"`
	Projections     []BetProjection `json:"projections"`
	ProjectedPayout decimal.Decimal `json:"projected_payout"`
	Invalid         int             `json:"invalid"`
}

// ──────────────────────────────────────────────────────────────────────────────
// CompensationTask
// ──────────────────────────────────────────────────────────────────────────────

// TaskStatus is the lifecycle of a compensation task.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskDone    TaskStatus = "done"
	TaskFailed  TaskStatus = "failed" // retries exhausted or data integrity; manual audit
)

// Task reasons.
const (
	ReasonPartial        = "partial_settlement"
	ReasonLockContention = "lock_contention"
	ReasonMissingRecord  = "missing_settlement_record"
	ReasonMissingRebates = "missing_rebates"
	ReasonDataIntegrity  = "data_integrity"
	ReasonRunError       = "run_error"
)

// CompensationTask is a persisted unit of resume work for one period. At most
// one pending task exists per period.
type CompensationTask struct {
	ID            uuid.UUID  `json:"id"              db:"id"`
	PeriodID      int64      `json:"period_id"       db:"period_id"`
	Reason        string     `json:"reason"          db:"reason"`
	RetryCount    int        `json:"retry_count"     db:"retry_count"`
	Status        TaskStatus `json:"status"          db:"status"`
	NextAttemptAt time.Time  `json:"next_attempt_at" db:"next_attempt_at"`
	LastError     string     `json:"last_error"      db:"last_error"`
	CreatedAt     time.Time  `json:"created_at"      db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"      db:"updated_at"`
}

// Backoff returns the wait before attempt retry+1: base × 2^(retry−1), capped
// at limit. retry ≤ 1 waits base.
func Backoff(retry int, base, limit time.Duration) time.Duration {
	if base <= 0 {
		return limit
	}
	d := base
	for i := 1; i < retry; i++ {
		d *= 2
		if limit > 0 && d >= limit {
			return limit
		}
	}
	if limit > 0 && d > limit {
		return limit
	}
	return d
}
