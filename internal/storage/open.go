package storage

import (
	"context"
	"fmt"

	"github.com/zhouzirui/z-widget/backend/internal/config"
)

// Open builds the backend selected by SESSION_STORE. The returned close
// function is never nil.
func Open(ctx context.Context, cfg config.SessionConfig) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store {
	case config.StoreMemory, "":
		return NewMemoryStore(), noop, nil
	case config.StoreSQLite:
		dsn, err := SQLiteDSNForFile(cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		s, err := NewSQLiteStore(dsn)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case config.StoreRedis:
		s, err := NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPrefix)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}
