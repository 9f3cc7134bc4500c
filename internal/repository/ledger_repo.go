package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/racesettle/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// LedgerRepository owns every balance mutation this service makes. Each write
// pairs the balance change with its Transaction row in one database
// transaction, and the unique idempotency_key makes replays no-ops.
type LedgerRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db, now: time.Now}
}

const insertTransaction = `
	INSERT INTO transactions
		(id, user_type, user_id, type, amount, balance_before, balance_after,
		 period_id, bet_id, idempotency_key, description, created_at)
	VALUES
		(:id, :user_type, :user_id, :type, :amount, :balance_before, :balance_after,
		 :period_id, :bet_id, :idempotency_key, :description, :created_at)
	ON CONFLICT (idempotency_key) DO NOTHING`

// SettleBet flips the bet's settled/win/win_amount fields and, for a winner,
// credits the member and logs the win entry, all in one transaction.
//
// Returns ErrAlreadySettled when the bet was settled by an earlier run. The
// returned Transaction is nil for losing bets and for wins whose entry already
// existed.
func (r *LedgerRepository) SettleBet(ctx context.Context, bet *domain.Bet, out domain.Outcome) (txn *domain.Transaction, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, ledgerErr("settle", bet.ID, fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := r.now()

	// ── 0. The owner must exist; an orphaned bet stays unsettled for audit ────
	var known bool
	if err = tx.GetContext(ctx, &known,
		`SELECT EXISTS (SELECT 1 FROM members WHERE id = $1)`, bet.MemberID); err != nil {
		return nil, ledgerErr("settle", bet.ID, fmt.Errorf("check member: %w", err))
	}
	if !known {
		return nil, ledgerErr("settle", bet.ID, fmt.Errorf("member %d: %w", bet.MemberID, domain.ErrMemberNotFound))
	}

	// ── 1. Conditional flip; zero rows means someone else settled it ──────────
	res, err := tx.ExecContext(ctx, `
		UPDATE bets
		SET settled    = true,
		    win        = $1,
		    win_amount = $2,
		    odds       = CASE WHEN odds > 0 THEN odds ELSE $3 END,
		    settled_at = $4
		WHERE id = $5 AND settled = false`,
		out.Win, out.WinAmount, out.Odds, now, bet.ID)
	if err != nil {
		return nil, ledgerErr("settle", bet.ID, fmt.Errorf("update bet: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = domain.ErrAlreadySettled
		return nil, err
	}

	// ── 2. Win credit ─────────────────────────────────────────────────────────
	if out.Win && out.WinAmount.IsPositive() {
		txn, err = r.credit(ctx, tx, "members", domain.Credit{
			UserType:       domain.UserMember,
			UserID:         bet.MemberID,
			Type:           domain.TxWin,
			Amount:         out.WinAmount,
			PeriodID:       bet.PeriodID,
			BetID:          bet.ID,
			IdempotencyKey: domain.WinKey(bet.ID),
			Description:    fmt.Sprintf("win %s %s", bet.BetType, bet.BetValue),
		}, now)
		if errors.Is(err, domain.ErrAlreadyApplied) {
			// the entry survived an earlier partial write; keep the flip
			txn, err = nil, nil
		}
		if err != nil {
			return nil, ledgerErr("settle", bet.ID, err)
		}
	}

	// ── 3. Commit ─────────────────────────────────────────────────────────────
	if err = tx.Commit(); err != nil {
		return nil, ledgerErr("settle", bet.ID, fmt.Errorf("commit: %w", err))
	}
	return txn, nil
}

// CreditAgent applies one rebate cut. Returns ErrAlreadyApplied when the
// idempotency key already exists.
func (r *LedgerRepository) CreditAgent(ctx context.Context, c domain.Credit) (txn *domain.Transaction, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, ledgerErr("rebate", c.BetID, fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	txn, err = r.credit(ctx, tx, "agents", c, r.now())
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyApplied) {
			return nil, err
		}
		return nil, ledgerErr("rebate", c.BetID, err)
	}

	if err = tx.Commit(); err != nil {
		return nil, ledgerErr("rebate", c.BetID, fmt.Errorf("commit: %w", err))
	}
	return txn, nil
}

// credit locks the owner's row, logs the entry and moves the balance. table is
// one of the two fixed owner tables, never user input.
func (r *LedgerRepository) credit(ctx context.Context, tx *sqlx.Tx, table string, c domain.Credit, now time.Time) (*domain.Transaction, error) {
	var balance decimal.Decimal
	err := tx.GetContext(ctx, &balance,
		`SELECT balance FROM `+table+` WHERE id = $1 FOR UPDATE`, c.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if c.UserType == domain.UserAgent {
				return nil, domain.ErrAgentNotFound
			}
			return nil, domain.ErrMemberNotFound
		}
		return nil, fmt.Errorf("lock %s %d: %w", c.UserType, c.UserID, err)
	}

	txn := c.Apply(balance, now)
	res, err := tx.NamedExecContext(ctx, insertTransaction, txn)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyApplied
		}
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrAlreadyApplied
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE `+table+` SET balance = $1, updated_at = $2 WHERE id = $3`,
		txn.BalanceAfter, now, c.UserID)
	if err != nil {
		return nil, fmt.Errorf("update %s balance: %w", c.UserType, err)
	}
	return txn, nil
}

// ListByPeriod returns the ledger entries written for a period.
func (r *LedgerRepository) ListByPeriod(ctx context.Context, periodID int64, limit, offset int) ([]*domain.Transaction, error) {
	var txns []*domain.Transaction
	err := r.db.SelectContext(ctx, &txns, `
		SELECT id, user_type, user_id, type, amount, balance_before, balance_after,
		       period_id, bet_id, idempotency_key, description, created_at
		FROM transactions
		WHERE period_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3`,
		periodID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger_repo.ListByPeriod: %w", err)
	}
	return txns, nil
}

// RebateTotal sums the rebate entries written for a period.
func (r *LedgerRepository) RebateTotal(ctx context.Context, periodID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE period_id = $1 AND type = 'rebate'`,
		periodID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger_repo.RebateTotal: %w", err)
	}
	return total, nil
}

func ledgerErr(op string, betID int64, err error) error {
	return &domain.LedgerWriteError{Op: op, BetID: betID, Err: err}
}

// isUniqueViolation reports a PostgreSQL unique_violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
