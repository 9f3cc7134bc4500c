// Package domain defines the core entities of the PK10 settlement engine:
// periods, bets, agents, ledger transactions and settlement markers, plus the
// pure evaluation and rebate allocation logic that operates on them.
package domain

import (
	"fmt"
	"strconv"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// PeriodStatus
// ──────────────────────────────────────────────────────────────────────────────

// PeriodStatus represents the lifecycle state of a period.
type PeriodStatus string

const (
	PeriodBetting PeriodStatus = "betting" // accepting stakes
	PeriodDrawing PeriodStatus = "drawing" // countdown over, settlement attempted
	PeriodSettled PeriodStatus = "settled" // SettlementRecord written
)

// CanTransition reports whether s → to is a legal state change.
// Only betting→drawing and drawing→settled are allowed.
func (s PeriodStatus) CanTransition(to PeriodStatus) bool {
	switch s {
	case PeriodBetting:
		return to == PeriodDrawing
	case PeriodDrawing:
		return to == PeriodSettled
	}
	return false
}

// IsValid returns true for the three known statuses.
func (s PeriodStatus) IsValid() bool {
	return s == PeriodBetting || s == PeriodDrawing || s == PeriodSettled
}

// ──────────────────────────────────────────────────────────────────────────────
// Period
// ──────────────────────────────────────────────────────────────────────────────

// Period is one round of the game. ID is date-coded: YYYYMMDD followed by a
// three-digit daily sequence, e.g. 20250716013.
type Period struct {
	ID         int64        `json:"id"          db:"id"`
	Status     PeriodStatus `json:"status"      db:"status"`
	DrawResult DrawResult   `json:"draw_result" db:"-"`
	DrawTime   time.Time    `json:"draw_time"   db:"draw_time"`
	CreatedAt  time.Time    `json:"created_at"  db:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"  db:"updated_at"`
}

// HasDraw returns true once the external generator has written a result.
func (p *Period) HasDraw() bool {
	return len(p.DrawResult) > 0
}

// ── Period id helpers ────────────────────────────────────────────────────────

const periodSeqWidth = 1000

// PeriodID builds the date-coded id for the given day and sequence (1..999).
func PeriodID(day time.Time, seq int) int64 {
	d := day.Year()*10000 + int(day.Month())*100 + day.Day()
	return int64(d)*periodSeqWidth + int64(seq)
}

// SplitPeriodID returns the YYYYMMDD date part and the sequence of id.
func SplitPeriodID(id int64) (date int64, seq int) {
	return id / periodSeqWidth, int(id % periodSeqWidth)
}

// NextPeriodID returns the id following prev. The sequence restarts at 001
// when now falls on a later day than prev.
func NextPeriodID(prev int64, now time.Time) int64 {
	today := PeriodID(now, 0) / periodSeqWidth
	date, seq := SplitPeriodID(prev)
	if prev == 0 || date < today {
		return PeriodID(now, 1)
	}
	return date*periodSeqWidth + int64(seq+1)
}

// ParsePeriodID parses a textual period id and checks its shape.
func ParsePeriodID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid period id %q", s)
	}
	date, seq := SplitPeriodID(id)
	if date < 19700101 || date > 99991231 || seq == 0 {
		return 0, fmt.Errorf("invalid period id %q", s)
	}
	return id, nil
}
