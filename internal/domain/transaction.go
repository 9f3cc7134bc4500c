package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UserType says whose balance a ledger entry moved.
type UserType string

const (
	UserMember UserType = "member"
	UserAgent  UserType = "agent"
)

// TransactionType enumerates ledger entry kinds written by this service.
type TransactionType string

const (
	TxWin        TransactionType = "win"
	TxRebate     TransactionType = "rebate"
	TxAdjustment TransactionType = "adjustment"
)

// Transaction is an immutable ledger entry. Every balance mutation has exactly
// one, and BalanceAfter − BalanceBefore == Amount.
//
// IdempotencyKey is unique across the ledger; a second write with the same key
// is the "already applied" signal.
type Transaction struct {
	ID             uuid.UUID       `json:"id"              db:"id"`
	UserType       UserType        `json:"user_type"       db:"user_type"`
	UserID         int64           `json:"user_id"         db:"user_id"`
	Type           TransactionType `json:"type"            db:"type"`
	Amount         decimal.Decimal `json:"amount"          db:"amount"`
	BalanceBefore  decimal.Decimal `json:"balance_before"  db:"balance_before"`
	BalanceAfter   decimal.Decimal `json:"balance_after"   db:"balance_after"`
	PeriodID       int64           `json:"period_id"       db:"period_id"`
	BetID          *int64          `json:"bet_id"          db:"bet_id"`
	IdempotencyKey string          `json:"idempotency_key" db:"idempotency_key"`
	Description    string          `json:"description"     db:"description"`
	CreatedAt      time.Time       `json:"created_at"      db:"created_at"`
}

// Balanced reports whether the entry satisfies after − before == amount.
func (t *Transaction) Balanced() bool {
	return t.BalanceAfter.Sub(t.BalanceBefore).Equal(t.Amount)
}

// WinKey is the idempotency key of a bet's win credit.
func WinKey(betID int64) string {
	return fmt.Sprintf("win:%d", betID)
}

// RebateKey is the idempotency key of one agent's cut of one bet.
func RebateKey(periodID, agentID, betID int64) string {
	return fmt.Sprintf("rebate:%d:%d:%d", periodID, agentID, betID)
}

// Credit describes a balance credit before it is applied. The ledger fills in
// the balances under a row lock.
type Credit struct {
	UserType       UserType
	UserID         int64
	Type           TransactionType
	Amount         decimal.Decimal
	PeriodID       int64
	BetID          int64
	IdempotencyKey string
	Description    string
}

// Apply builds the ledger entry for c against the locked balance.
func (c Credit) Apply(balance decimal.Decimal, now time.Time) *Transaction {
	betID := c.BetID
	return &Transaction{
		ID:             uuid.New(),
		UserType:       c.UserType,
		UserID:         c.UserID,
		Type:           c.Type,
		Amount:         c.Amount,
		BalanceBefore:  balance,
		BalanceAfter:   balance.Add(c.Amount),
		PeriodID:       c.PeriodID,
		BetID:          &betID,
		IdempotencyKey: c.IdempotencyKey,
		Description:    c.Description,
		CreatedAt:      now,
	}
}
