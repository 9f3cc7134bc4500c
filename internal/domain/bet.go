package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Bet type names as stored by the intake service
// ──────────────────────────────────────────────────────────────────────────────

const (
	BetTypeNumber      = "number"      // position + bet_value "n"
	BetTypeTwoSides    = "two_sides"   // bet_value "<pos>_<big|small|odd|even>"
	BetTypeSumValue    = "sumValue"    // champion + runner-up sum
	BetTypeSum         = "sum"         // alias of sumValue
	BetTypeDragonTiger = "dragonTiger" // two positions compared
	BetTypeDragonAlias = "dragon_tiger"
)

// positionNames maps the positional bet types to their 1-based position.
var positionNames = map[string]int{
	"champion": 1,
	"runnerup": 2,
	"third":    3,
	"fourth":   4,
	"fifth":    5,
	"sixth":    6,
	"seventh":  7,
	"eighth":   8,
	"ninth":    9,
	"tenth":    10,
}

// PositionOf returns the position named by betType, or 0.
func PositionOf(betType string) int {
	return positionNames[betType]
}

// ──────────────────────────────────────────────────────────────────────────────
// Bet
// ──────────────────────────────────────────────────────────────────────────────

// Bet is one persisted stake. Settled, Win and WinAmount flip together exactly
// once; RebateDone records that the cascade for this stake has been applied.
//
// AgentID and Market are read-only joins from the owning member's direct agent.
type Bet struct {
	ID         int64           `json:"id"          db:"id"`
	MemberID   int64           `json:"member_id"   db:"member_id"`
	PeriodID   int64           `json:"period_id"   db:"period_id"`
	BetType    string          `json:"bet_type"    db:"bet_type"`
	BetValue   string          `json:"bet_value"   db:"bet_value"`
	Position   *int            `json:"position"    db:"position"`
	Amount     decimal.Decimal `json:"amount"      db:"amount"`
	Odds       decimal.Decimal `json:"odds"        db:"odds"`
	Settled    bool            `json:"settled"     db:"settled"`
	Win        bool            `json:"win"         db:"win"`
	WinAmount  decimal.Decimal `json:"win_amount"  db:"win_amount"`
	RebateDone bool            `json:"rebate_done" db:"rebate_done"`
	SettledAt  *time.Time      `json:"settled_at"  db:"settled_at"`
	CreatedAt  time.Time       `json:"created_at"  db:"created_at"`

	AgentID *int64     `json:"agent_id,omitempty" db:"agent_id"`
	Market  MarketType `json:"market,omitempty"   db:"market_type"`
}

// BetCounts aggregates the settlement state of one period's bets.
type BetCounts struct {
	Total          int             `json:"total"            db:"total"`
	Settled        int             `json:"settled"          db:"settled"`
	Unsettled      int             `json:"unsettled"        db:"unsettled"`
	Unrebated      int             `json:"unrebated"        db:"unrebated"`
	TotalStake     decimal.Decimal `json:"total_stake"      db:"total_stake"`
	TotalWinAmount decimal.Decimal `json:"total_win_amount" db:"total_win_amount"`
}

// Complete reports whether nothing is left to settle or rebate.
func (c BetCounts) Complete() bool {
	return c.Unsettled == 0 && c.Unrebated == 0
}
