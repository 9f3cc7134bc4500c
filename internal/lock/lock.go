// Package lock provides the per-period exclusive lock that keeps two workers
// from settling the same period at once. Every lock carries a TTL so a crashed
// holder cannot block a period forever.
package lock

import (
	"context"
	"fmt"
	"time"
)

// Locker acquires and releases named leases.
//
// Acquire returns domain.ErrLockContention when another owner holds key. The
// returned token must be passed to Release; a release with a stale token is a
// no-op.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Release(ctx context.Context, key, token string) error
}

// PeriodKey is the lock key of one period.
func PeriodKey(periodID int64) string {
	return fmt.Sprintf("settle:period:%d", periodID)
}
