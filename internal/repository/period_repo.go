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
)

// PeriodRepository handles all database operations for Periods.
type PeriodRepository struct {
	db *sqlx.DB
}

// NewPeriodRepository creates a new PeriodRepository.
func NewPeriodRepository(db *sqlx.DB) *PeriodRepository {
	return &PeriodRepository{db: db}
}

// periodRow mirrors the periods table; draw_result is an INTEGER[] column.
type periodRow struct {
	domain.Period
	Draw pq.Int64Array `db:"draw_result"`
}

func (r periodRow) toDomain() *domain.Period {
	p := r.Period
	if len(r.Draw) > 0 {
		p.DrawResult = domain.DrawResultFromInts(r.Draw)
	}
	return &p
}

const periodColumns = `id, status, draw_result, draw_time, created_at, updated_at`

// GetByID fetches a period by its id.
func (r *PeriodRepository) GetByID(ctx context.Context, id int64) (*domain.Period, error) {
	var row periodRow
	err := r.db.GetContext(ctx, &row, `SELECT `+periodColumns+` FROM periods WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPeriodNotFound
		}
		return nil, fmt.Errorf("period_repo.GetByID: %w", err)
	}
	return row.toDomain(), nil
}

// ListDue returns betting periods whose draw time has passed and whose draw
// result has been written, oldest first.
func (r *PeriodRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Period, error) {
	var rows []periodRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+periodColumns+`
		FROM periods
		WHERE status = 'betting'
		  AND draw_time <= $1
		  AND draw_result IS NOT NULL
		ORDER BY id ASC
		LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("period_repo.ListDue: %w", err)
	}
	return toPeriods(rows), nil
}

// ListRecent returns the most recent periods, newest first.
func (r *PeriodRepository) ListRecent(ctx context.Context, limit, offset int) ([]*domain.Period, error) {
	var rows []periodRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+periodColumns+` FROM periods ORDER BY id DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("period_repo.ListRecent: %w", err)
	}
	return toPeriods(rows), nil
}

// LatestID returns the highest period id, or 0 when the table is empty.
func (r *PeriodRepository) LatestID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.db.GetContext(ctx, &id, `SELECT COALESCE(MAX(id), 0) FROM periods`); err != nil {
		return 0, fmt.Errorf("period_repo.LatestID: %w", err)
	}
	return id, nil
}

// Create inserts a new betting period.
func (r *PeriodRepository) Create(ctx context.Context, id int64, drawTime time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO periods (id, status, draw_time, created_at, updated_at)
		VALUES ($1, 'betting', $2, now(), now())
		ON CONFLICT (id) DO NOTHING`,
		id, drawTime)
	if err != nil {
		return fmt.Errorf("period_repo.Create: %w", err)
	}
	return nil
}

// Transition moves a period from → to with a conditional update. It returns
// false when the period was not in from (another worker got there first).
func (r *PeriodRepository) Transition(ctx context.Context, id int64, from, to domain.PeriodStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("period_repo.Transition %s→%s: %w", from, to, domain.ErrInvalidTransition)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE periods SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("period_repo.Transition: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkSettled moves a drawing period to settled. A period that is already
// settled is left alone.
func (r *PeriodRepository) MarkSettled(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE periods SET status = 'settled', updated_at = now() WHERE id = $1 AND status = 'drawing'`,
		id)
	if err != nil {
		return fmt.Errorf("period_repo.MarkSettled: %w", err)
	}
	return nil
}

func toPeriods(rows []periodRow) []*domain.Period {
	out := make([]*domain.Period, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out
}
