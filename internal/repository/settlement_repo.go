package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/racesettle/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// SettlementRepository persists settlement records and compensation tasks.
type SettlementRepository struct {
	db *sqlx.DB
}

// NewSettlementRepository creates a new SettlementRepository.
func NewSettlementRepository(db *sqlx.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

// ── Settlement records ───────────────────────────────────────────────────────

// GetRecord fetches the settlement record of a period.
func (r *SettlementRepository) GetRecord(ctx context.Context, periodID int64) (*domain.SettlementRecord, error) {
	var rec domain.SettlementRecord
	err := r.db.GetContext(ctx, &rec, `
		SELECT period_id, settled_count, total_win_amount, details, created_at
		FROM settlement_records WHERE period_id = $1`, periodID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("settlement_repo.GetRecord: %w", err)
	}
	return &rec, nil
}

// CreateRecord writes the period's record. Returns false when one already
// existed; the primary key on period_id keeps it unique.
func (r *SettlementRepository) CreateRecord(ctx context.Context, rec *domain.SettlementRecord) (bool, error) {
	res, err := r.db.NamedExecContext(ctx, `
		INSERT INTO settlement_records
			(period_id, settled_count, total_win_amount, details, created_at)
		VALUES
			(:period_id, :settled_count, :total_win_amount, :details, :created_at)
		ON CONFLICT (period_id) DO NOTHING`, rec)
	if err != nil {
		return false, fmt.Errorf("settlement_repo.CreateRecord: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ── Audit scans ──────────────────────────────────────────────────────────────

// FindIncomplete returns drawing periods older than before that have no
// settlement record and no open or failed task.
func (r *SettlementRepository) FindIncomplete(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `
		SELECT p.id
		FROM periods p
		WHERE p.status = 'drawing'
		  AND p.draw_time < $1
		  AND NOT EXISTS (SELECT 1 FROM settlement_records s WHERE s.period_id = p.id)
		  AND NOT EXISTS (SELECT 1 FROM compensation_tasks t
		                  WHERE t.period_id = p.id AND t.status IN ('pending', 'failed'))
		ORDER BY p.id ASC
		LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, fmt.Errorf("settlement_repo.FindIncomplete: %w", err)
	}
	return ids, nil
}

// FindUnrebated returns periods with bets settled before the cutoff whose
// rebate cascade never completed.
func (r *SettlementRepository) FindUnrebated(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT b.period_id
		FROM bets b
		WHERE b.settled = true AND b.rebate_done = false
		  AND b.settled_at < $1
		  AND NOT EXISTS (SELECT 1 FROM compensation_tasks t
		                  WHERE t.period_id = b.period_id AND t.status IN ('pending', 'failed'))
		ORDER BY b.period_id ASC
		LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, fmt.Errorf("settlement_repo.FindUnrebated: %w", err)
	}
	return ids, nil
}

// ── Compensation tasks ───────────────────────────────────────────────────────

const taskColumns = `id, period_id, reason, retry_count, status, next_attempt_at, last_error, created_at, updated_at`

// EnsureTask creates the period's pending task, or refreshes the reason and
// last error of the one that already exists. The partial unique index on
// (period_id) WHERE status = 'pending' keeps one open task per period.
func (r *SettlementRepository) EnsureTask(ctx context.Context, periodID int64, reason, lastErr string, nextAttempt time.Time) (*domain.CompensationTask, error) {
	var t domain.CompensationTask
	err := r.db.GetContext(ctx, &t, `
		INSERT INTO compensation_tasks
			(id, period_id, reason, retry_count, status, next_attempt_at, last_error, created_at, updated_at)
		VALUES
			($1, $2, $3, 0, 'pending', $4, $5, now(), now())
		ON CONFLICT (period_id) WHERE status = 'pending'
		DO UPDATE SET reason     = EXCLUDED.reason,
		              last_error = EXCLUDED.last_error,
		              updated_at = now()
		RETURNING `+taskColumns,
		uuid.New(), periodID, reason, nextAttempt, lastErr)
	if err != nil {
		return nil, fmt.Errorf("settlement_repo.EnsureTask: %w", err)
	}
	return &t, nil
}

// CreateFailedTask records a period that needs manual audit, such as one with
// a malformed draw. An existing pending task is closed as failed instead.
func (r *SettlementRepository) CreateFailedTask(ctx context.Context, periodID int64, reason, lastErr string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("settlement_repo.CreateFailedTask: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE compensation_tasks
		SET status = 'failed', reason = $1, last_error = $2, updated_at = now()
		WHERE period_id = $3 AND status = 'pending'`,
		reason, lastErr, periodID)
	if err != nil {
		return fmt.Errorf("settlement_repo.CreateFailedTask: close pending: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO compensation_tasks
				(id, period_id, reason, retry_count, status, next_attempt_at, last_error, created_at, updated_at)
			SELECT $1::uuid, $2::bigint, $3::text, 0, 'failed', now(), $4::text, now(), now()
			WHERE NOT EXISTS (SELECT 1 FROM compensation_tasks
			                  WHERE period_id = $2::bigint AND status = 'failed' AND reason = $3::text)`,
			uuid.New(), periodID, reason, lastErr)
		if err != nil {
			return fmt.Errorf("settlement_repo.CreateFailedTask: insert: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("settlement_repo.CreateFailedTask: commit: %w", err)
	}
	return nil
}

// GetTask fetches a task by id.
func (r *SettlementRepository) GetTask(ctx context.Context, id uuid.UUID) (*domain.CompensationTask, error) {
	var t domain.CompensationTask
	err := r.db.GetContext(ctx, &t, `SELECT `+taskColumns+` FROM compensation_tasks WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("settlement_repo.GetTask: %w", err)
	}
	return &t, nil
}

// ListDueTasks returns pending tasks whose next attempt is due.
func (r *SettlementRepository) ListDueTasks(ctx context.Context, now time.Time, limit int) ([]*domain.CompensationTask, error) {
	var tasks []*domain.CompensationTask
	err := r.db.SelectContext(ctx, &tasks, `
		SELECT `+taskColumns+`
		FROM compensation_tasks
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY next_attempt_at ASC
		LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("settlement_repo.ListDueTasks: %w", err)
	}
	return tasks, nil
}

// ListTasks returns tasks filtered by status, newest first. status="" means all.
func (r *SettlementRepository) ListTasks(ctx context.Context, status domain.TaskStatus, limit, offset int) ([]*domain.CompensationTask, error) {
	var tasks []*domain.CompensationTask
	var err error
	if status != "" {
		err = r.db.SelectContext(ctx, &tasks, `
			SELECT `+taskColumns+` FROM compensation_tasks
			WHERE status = $1
			ORDER BY updated_at DESC
			LIMIT $2 OFFSET $3`,
			string(status), limit, offset)
	} else {
		err = r.db.SelectContext(ctx, &tasks, `
			SELECT `+taskColumns+` FROM compensation_tasks
			ORDER BY updated_at DESC
			LIMIT $1 OFFSET $2`,
			limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("settlement_repo.ListTasks: %w", err)
	}
	return tasks, nil
}

// UpdateTask persists the retry bookkeeping of a task.
func (r *SettlementRepository) UpdateTask(ctx context.Context, t *domain.CompensationTask) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE compensation_tasks
		SET retry_count     = $1,
		    status          = $2,
		    next_attempt_at = $3,
		    last_error      = $4,
		    updated_at      = now()
		WHERE id = $5`,
		t.RetryCount, string(t.Status), t.NextAttemptAt, t.LastError, t.ID)
	if err != nil {
		return fmt.Errorf("settlement_repo.UpdateTask: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

// CloseTasks marks the period's pending tasks done.
func (r *SettlementRepository) CloseTasks(ctx context.Context, periodID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE compensation_tasks
		SET status = 'done', updated_at = now()
		WHERE period_id = $1 AND status = 'pending'`,
		periodID)
	if err != nil {
		return fmt.Errorf("settlement_repo.CloseTasks: %w", err)
	}
	return nil
}

// ResetTask re-opens a failed task for another round of retries (operator
// action). Returns ErrTaskNotFound when the task is missing or not failed, and
// a conflict when the period already has a pending task.
func (r *SettlementRepository) ResetTask(ctx context.Context, id uuid.UUID, now time.Time) (*domain.CompensationTask, error) {
	var t domain.CompensationTask
	err := r.db.GetContext(ctx, &t, `
		UPDATE compensation_tasks
		SET status = 'pending', retry_count = 0, next_attempt_at = $1, updated_at = now()
		WHERE id = $2 AND status = 'failed'
		RETURNING `+taskColumns,
		now, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		if isUniqueViolation(err) {
			return nil, domain.ErrTaskPending
		}
		return nil, fmt.Errorf("settlement_repo.ResetTask: %w", err)
	}
	return &t, nil
}
