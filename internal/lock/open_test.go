package lock_test

import (
	"context"
	"testing"

	"github.com/evetabi/racesettle/internal/config"
	"github.com/evetabi/racesettle/internal/lock"
)

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	cfg := &config.Config{Lock: config.LockConfig{Backend: "postgres"}}
	l, closeFn, err := lock.Open(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Open(postgres): %v", err)
	}
	if _, ok := l.(*lock.PostgresLocker); !ok {
		t.Errorf("Open(postgres) = %T", l)
	}
	if err := closeFn(); err != nil {
		t.Errorf("close: %v", err)
	}

	cfg.Lock.Backend = "memory"
	if l, _, err = lock.Open(ctx, cfg, nil); err != nil {
		t.Fatalf("Open(memory): %v", err)
	}
	if _, ok := l.(*lock.MemoryLocker); !ok {
		t.Errorf("Open(memory) = %T", l)
	}

	cfg.Lock.Backend = "zookeeper"
	if _, _, err := lock.Open(ctx, cfg, nil); err == nil {
		t.Error("Open accepted an unknown backend")
	}
}
