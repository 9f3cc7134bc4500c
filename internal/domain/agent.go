package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// MarketType
// ──────────────────────────────────────────────────────────────────────────────

// MarketType is the agent line setting that fixes the total rebate rate.
type MarketType string

const (
	MarketA MarketType = "A" // 1.1 % rebate pool
	MarketD MarketType = "D" // 4.1 % rebate pool
)

var (
	rebateRateA = decimal.RequireFromString("0.011")
	rebateRateD = decimal.RequireFromString("0.041")
)

// IsValid returns true for A and D.
func (m MarketType) IsValid() bool {
	return m == MarketA || m == MarketD
}

// RebateRate returns the fraction of each stake available to the agent chain.
// Unknown markets have no pool.
func (m MarketType) RebateRate() decimal.Decimal {
	switch m {
	case MarketA:
		return rebateRateA
	case MarketD:
		return rebateRateD
	}
	return decimal.Zero
}

// ──────────────────────────────────────────────────────────────────────────────
// RebateMode
// ──────────────────────────────────────────────────────────────────────────────

// RebateMode controls how an agent takes its share of the rebate pool.
type RebateMode string

const (
	RebateAll        RebateMode = "all"        // takes whatever is left, walk stops
	RebateNone       RebateMode = "none"       // takes nothing, passes through
	RebatePercentage RebateMode = "percentage" // takes up to a cumulative share of the stake
)

// ──────────────────────────────────────────────────────────────────────────────
// Agent & Member
// ──────────────────────────────────────────────────────────────────────────────

// Agent is a node of the ownership hierarchy. The directory is maintained
// outside this service; only Balance is written here, through the ledger.
type Agent struct {
	ID               int64           `json:"id"                db:"id"`
	Username         string          `json:"username"          db:"username"`
	ParentID         *int64          `json:"parent_id"         db:"parent_id"`
	RebateMode       RebateMode      `json:"rebate_mode"       db:"rebate_mode"`
	RebatePercentage decimal.Decimal `json:"rebate_percentage" db:"rebate_percentage"`
	MarketType       MarketType      `json:"market_type"       db:"market_type"`
	Balance          decimal.Decimal `json:"balance"           db:"balance"`
	UpdatedAt        time.Time       `json:"updated_at"        db:"updated_at"`
}

// Member owns bets and is attached to exactly one direct agent.
type Member struct {
	ID        int64           `json:"id"         db:"id"`
	Username  string          `json:"username"   db:"username"`
	AgentID   *int64          `json:"agent_id"   db:"agent_id"`
	Balance   decimal.Decimal `json:"balance"    db:"balance"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}
