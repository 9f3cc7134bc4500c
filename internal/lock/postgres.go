package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/evetabi/racesettle/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresLocker stores leases in the settlement_locks table. An expired row is
// taken over by the next Acquire.
type PostgresLocker struct {
	db *sqlx.DB
}

// NewPostgresLocker creates a PostgresLocker.
func NewPostgresLocker(db *sqlx.DB) *PostgresLocker {
	return &PostgresLocker{db: db}
}

// Acquire implements Locker.
func (l *PostgresLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO settlement_locks (lock_key, owner, expires_at)
		VALUES ($1, $2, now() + $3 * interval '1 millisecond')
		ON CONFLICT (lock_key) DO UPDATE
		SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE settlement_locks.expires_at < now()`,
		key, token, ttl.Milliseconds())
	if err != nil {
		return "", fmt.Errorf("lock.Postgres.Acquire %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", domain.ErrLockContention
	}
	return token, nil
}

// Release implements Locker.
func (l *PostgresLocker) Release(ctx context.Context, key, token string) error {
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM settlement_locks WHERE lock_key = $1 AND owner = $2`,
		key, token)
	if err != nil {
		return fmt.Errorf("lock.Postgres.Release %s: %w", key, err)
	}
	return nil
}
