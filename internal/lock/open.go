package lock

import (
	"context"
	"fmt"

	"github.com/evetabi/racesettle/internal/config"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// Open builds the Locker selected by cfg.Lock.Backend. The returned close
// function releases the backend's own connections; it never closes db.
func Open(ctx context.Context, cfg *config.Config, db *sqlx.DB) (Locker, func() error, error) {
	switch cfg.Lock.Backend {
	case "postgres":
		return NewPostgresLocker(db), func() error { return nil }, nil
	case "memory":
		return NewMemoryLocker(), func() error { return nil }, nil
	case "redis":
		l := NewRedisLocker(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := l.Client.Ping(ctx).Err(); err != nil {
			_ = l.Close()
			return nil, nil, fmt.Errorf("lock.Open: redis ping %s: %w", cfg.Redis.Addr, err)
		}
		return l, l.Close, nil
	}
	return nil, nil, fmt.Errorf("lock.Open: unknown backend %q", cfg.Lock.Backend)
}
