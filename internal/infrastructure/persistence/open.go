package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/melon-hub/melon-rank/config"
	"github.com/melon-hub/melon-rank/internal/infrastructure/persistence/file"
	"github.com/melon-hub/melon-rank/internal/infrastructure/persistence/postgres"
	"github.com/melon-hub/melon-rank/internal/infrastructure/persistence/redis"
	"github.com/melon-hub/melon-rank/internal/infrastructure/persistence/sqlite"
	"github.com/melon-hub/melon-rank/pkg/logger"
)

var (
	_ Merger = (*postgres.ProgressStore)(nil)
	_ Merger = (*sqlite.Store)(nil)
)

// OpenRaw builds the store named by cfg.Storage.Driver without guards.
// The returned closer releases connections and is never nil.
func OpenRaw(ctx context.Context, cfg *config.Config, log *slog.Logger) (NamedStore, func(), error) {
	log = logger.OrDefault(log)
	noop := func() {}

	switch cfg.Storage.Driver {
	case config.DriverFile:
		store, err := file.New(cfg.File.Path, file.WithLogger(log))
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil

	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, noop, err
		}
		return store, func() { _ = store.Close() }, nil

	case config.DriverPostgres:
		pgCfg := postgres.DefaultConfig(cfg.Postgres.URL)
		pgCfg.MaxConns = cfg.Postgres.MaxConns
		pgCfg.MinConns = cfg.Postgres.MinConns

		conn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return nil, noop, err
		}
		if cfg.Postgres.AutoMigrate {
			applied, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				conn.Close()
				return nil, noop, err
			}
			if applied > 0 {
				log.Info("database migrations applied", "count", applied)
			}
		}
		return postgres.NewProgressStore(conn), conn.Close, nil

	case config.DriverRedis:
		client, err := redis.NewClient(ctx, RedisConfig(cfg.Redis))
		if err != nil {
			return nil, noop, err
		}
		return redis.NewProgressStore(client, cfg.Redis.Key), func() { _ = client.Close() }, nil
	}

	return nil, noop, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// Open builds the configured store wrapped in Guarded.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Guarded, func(), error) {
	inner, closer, err := OpenRaw(ctx, cfg, log)
	if err != nil {
		return nil, closer, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}

	opts := DefaultGuardOptions()
	opts.Timeout = cfg.Storage.Timeout
	opts.RetryAttempts = cfg.Storage.RetryAttempts
	opts.BreakerThreshold = cfg.Storage.BreakerThreshold
	opts.BreakerTimeout = cfg.Storage.BreakerTimeout
	opts.Logger = log
	if cfg.Storage.Driver == config.DriverPostgres {
		opts.RetryIf = func(err error) bool {
			return defaultRetryIf(err) && postgres.Retryable(err)
		}
	}

	return NewGuarded(inner, opts), closer, nil
}

// RedisConfig converts application config into client config.
func RedisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.URL = c.URL
	if c.Host != "" {
		rc.Host = c.Host
	}
	if c.Port > 0 {
		rc.Port = c.Port
	}
	rc.Password = c.Password
	rc.DB = c.DB
	return rc
}
