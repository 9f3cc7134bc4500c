// Package ws holds the ops-feed WebSocket message types and the Hub.
// messages.go defines all message structs pushed to connected operators.
package ws

import (
	"time"

	"github.com/evetabi/racesettle/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypePeriodStatus       MsgType = "period_status"
	MsgTypePeriodSettled      MsgType = "period_settled"
	MsgTypeCompensationFailed MsgType = "compensation_failed"
)

// ──────────────────────────────────────────────────────────────────────────────
// Period status
// ──────────────────────────────────────────────────────────────────────────────

// PeriodStatusMessage carries a period's new status.
type PeriodStatusMessage struct {
	Type      MsgType             `json:"type"`
	PeriodID  int64               `json:"period_id"`
	Status    domain.PeriodStatus `json:"status"`
	Timestamp time.Time           `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Period settled (once, when the SettlementRecord is written)
// ──────────────────────────────────────────────────────────────────────────────

// PeriodSettledMessage summarises the run that completed a period.
type PeriodSettledMessage struct {
	Type           MsgType         `json:"type"`
	PeriodID       int64           `json:"period_id"`
	SettledCount   int             `json:"settled_count"`
	TotalWinAmount decimal.Decimal `json:"total_win_amount"`
	SettledThisRun int             `json:"settled_this_run"`
	RebatedThisRun int             `json:"rebated_this_run"`
	DurationMS     int64           `json:"duration_ms"`
	Timestamp      time.Time       `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Compensation failed (operator alert)
// ──────────────────────────────────────────────────────────────────────────────

// CompensationFailedMessage tells operators a period needs manual audit.
type CompensationFailedMessage struct {
	Type       MsgType   `json:"type"`
	TaskID     uuid.UUID `json:"task_id"`
	PeriodID   int64     `json:"period_id"`
	Reason     string    `json:"reason"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error"`
	Timestamp  time.Time `json:"timestamp"`
}
