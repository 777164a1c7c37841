package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/alextanhongpin/mab/ab/banditstore"
	"github.com/alextanhongpin/mab/config"
)

func nop() error { return nil }

// openStore connects the configured backend. The returned func releases the
// underlying connection.
func openStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (banditstore.Store, func() error, error) {
	opt := banditstore.WithLogger(logger)

	switch cfg.Driver {
	case config.DriverMemory:
		return banditstore.NewMemoryStore(opt), nop, nil
	case config.DriverFile:
		return banditstore.NewFileStore(cfg.Path, opt), nop, nil
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}

		return banditstore.NewRedisStore(client, cfg.RedisKey, opt), client.Close, nil
	case config.DriverPostgres:
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}

		s := banditstore.NewSQLStore(db, opt)
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}

		return s, db.Close, nil
	case config.DriverBadger:
		db, err := banditstore.OpenBadger(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("badger: %w", err)
		}

		return banditstore.NewBadgerStore(db, cfg.Prefix, opt), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
