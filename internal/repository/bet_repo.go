package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/racesettle/internal/domain"
	"github.com/jmoiron/sqlx"
)

// BetRepository handles read-side operations for Bets. The settle write itself
// lives in LedgerRepository because it shares a transaction with the payout.
type BetRepository struct {
	db *sqlx.DB
}

// NewBetRepository creates a new BetRepository.
func NewBetRepository(db *sqlx.DB) *BetRepository {
	return &BetRepository{db: db}
}

// betSelect joins each bet with its member's direct agent so the evaluator and
// the rebate cascade get the market type without another round trip. Bets whose
// member row is gone are still listed; SettleBet rejects them by name.
const betSelect = `
	SELECT b.id, b.member_id, b.period_id, b.bet_type, b.bet_value, b.position,
	       b.amount, b.odds, b.settled, b.win, b.win_amount, b.rebate_done,
	       b.settled_at, b.created_at,
	       m.agent_id, COALESCE(a.market_type, '') AS market_type
	FROM bets b
	LEFT JOIN members m ON m.id = b.member_id
	LEFT JOIN agents a ON a.id = m.agent_id`

// GetByID fetches a bet by its primary key.
func (r *BetRepository) GetByID(ctx context.Context, id int64) (*domain.Bet, error) {
	var b domain.Bet
	err := r.db.GetContext(ctx, &b, betSelect+` WHERE b.id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBetNotFound
		}
		return nil, fmt.Errorf("bet_repo.GetByID: %w", err)
	}
	return &b, nil
}

// ListUnsettled returns the period's bets that have not been settled yet, in
// id order.
func (r *BetRepository) ListUnsettled(ctx context.Context, periodID int64) ([]*domain.Bet, error) {
	var bets []*domain.Bet
	err := r.db.SelectContext(ctx, &bets,
		betSelect+` WHERE b.period_id = $1 AND b.settled = false ORDER BY b.id ASC`,
		periodID)
	if err != nil {
		return nil, fmt.Errorf("bet_repo.ListUnsettled: %w", err)
	}
	return bets, nil
}

// ListUnrebated returns settled bets whose rebate cascade has not completed.
func (r *BetRepository) ListUnrebated(ctx context.Context, periodID int64) ([]*domain.Bet, error) {
	var bets []*domain.Bet
	err := r.db.SelectContext(ctx, &bets,
		betSelect+` WHERE b.period_id = $1 AND b.settled = true AND b.rebate_done = false ORDER BY b.id ASC`,
		periodID)
	if err != nil {
		return nil, fmt.Errorf("bet_repo.ListUnrebated: %w", err)
	}
	return bets, nil
}

// ListByPeriod returns every bet of a period.
func (r *BetRepository) ListByPeriod(ctx context.Context, periodID int64) ([]*domain.Bet, error) {
	var bets []*domain.Bet
	err := r.db.SelectContext(ctx, &bets,
		betSelect+` WHERE b.period_id = $1 ORDER BY b.id ASC`,
		periodID)
	if err != nil {
		return nil, fmt.Errorf("bet_repo.ListByPeriod: %w", err)
	}
	return bets, nil
}

// MarkRebated flags a settled bet's cascade as applied.
func (r *BetRepository) MarkRebated(ctx context.Context, betID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bets SET rebate_done = true WHERE id = $1 AND settled = true`,
		betID)
	if err != nil {
		return fmt.Errorf("bet_repo.MarkRebated: %w", err)
	}
	return nil
}

// CountByPeriod aggregates the settlement state of a period's bets.
func (r *BetRepository) CountByPeriod(ctx context.Context, periodID int64) (domain.BetCounts, error) {
	var c domain.BetCounts
	err := r.db.GetContext(ctx, &c, `
		SELECT COUNT(*)                                              AS total,
		       COUNT(*) FILTER (WHERE settled)                       AS settled,
		       COUNT(*) FILTER (WHERE NOT settled)                   AS unsettled,
		       COUNT(*) FILTER (WHERE settled AND NOT rebate_done)   AS unrebated,
		       COALESCE(SUM(amount), 0)                              AS total_stake,
		       COALESCE(SUM(win_amount) FILTER (WHERE settled), 0)  AS total_win_amount
		FROM bets
		WHERE period_id = $1`,
		periodID)
	if err != nil {
		return domain.BetCounts{}, fmt.Errorf("bet_repo.CountByPeriod: %w", err)
	}
	return c, nil
}
