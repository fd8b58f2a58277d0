package streamlog

import (
	"context"

	"git.home.luguber.info/inful/pmbus/internal/config"
	"git.home.luguber.info/inful/pmbus/internal/foundation/errors"
)

// Open builds the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig) (Client, error) {
	opts := []Option{WithMaxLen(cfg.MaxLen)}

	switch cfg.Backend {
	case config.StoreBackendMemory, "":
		return NewMemoryStore(opts...), nil
	case config.StoreBackendRedis:
		rc := DefaultRedisConfig()
		rc.URL = cfg.Redis.URL
		if cfg.Redis.Address != "" {
			rc.Address = cfg.Redis.Address
		}
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		rc.KeyPrefix = cfg.Redis.KeyPrefix
		if cfg.Redis.PoolSize > 0 {
			rc.PoolSize = cfg.Redis.PoolSize
		}
		if cfg.Redis.MaxRetries != 0 {
			rc.MaxRetries = cfg.Redis.MaxRetries
		}
		if cfg.Redis.Timeout > 0 {
			rc.DialTimeout = cfg.Redis.Timeout
			rc.ReadTimeout = cfg.Redis.Timeout
			rc.WriteTimeout = cfg.Redis.Timeout
		}
		return NewRedisStore(ctx, rc, opts...)
	case config.StoreBackendSQLite:
		if cfg.SQLite.PollInterval > 0 {
			opts = append(opts, WithPollInterval(cfg.SQLite.PollInterval))
		}
		store, err := NewSQLiteStore(cfg.SQLite.Path, opts...)
		if err != nil {
			return nil, errors.WrapError(err, errors.CategoryStore, "failed to open sqlite log").
				WithContext("path", cfg.SQLite.Path).
				Build()
		}
		return store, nil
	default:
		return nil, errors.ConfigError("unsupported store backend").
			WithContext("backend", string(cfg.Backend)).
			Build()
	}
}
