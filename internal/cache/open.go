package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/pmmresearch/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Open builds the cache selected by cfg.Driver. A disabled cache yields Noop.
func Open(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Info("response cache disabled")
		return Noop{}, nil
	}
	opts := Options{TTL: cfg.TTL}

	switch cfg.Driver {
	case "sqlite", "":
		c, err := NewSQLite(cfg.Path, opts)
		if err != nil {
			return nil, err
		}
		logger.Info("response cache ready", zap.String("driver", "sqlite"), zap.String("path", cfg.Path), zap.Duration("ttl", c.opts.TTL))
		return c, nil

	case "postgres":
		pctx, cancel := withOptionalTimeout(ctx, cfg.Postgres.Timeout)
		defer cancel()
		c, err := NewPostgres(pctx, cfg.Postgres.DSN(), opts)
		if err != nil {
			return nil, fmt.Errorf("postgres cache: %w", err)
		}
		if err := c.EnsureSchema(pctx); err != nil {
			c.Close()
			return nil, fmt.Errorf("postgres cache schema: %w", err)
		}
		logger.Info("response cache ready", zap.String("driver", "postgres"), zap.Duration("ttl", c.opts.TTL))
		return c, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rctx, cancel := withOptionalTimeout(ctx, cfg.Redis.Timeout)
		defer cancel()
		if err := client.Ping(rctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		c := NewRedis(client, opts)
		logger.Info("response cache ready", zap.String("driver", "redis"), zap.String("addr", cfg.Redis.Addr()), zap.Duration("ttl", c.opts.TTL))
		return c, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
