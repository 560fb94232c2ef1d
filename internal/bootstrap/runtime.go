// Package bootstrap opens the runtime dependencies shared by the server and
// the operator commands.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Grisenxx/divisionwebsite/internal/cache"
	"github.com/Grisenxx/divisionwebsite/internal/config"
	"github.com/Grisenxx/divisionwebsite/internal/database"
	"github.com/Grisenxx/divisionwebsite/internal/middleware"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// RequireRedis fails initialization when Redis is unreachable. Without
	// it the returned client is nil and callers fall back to in-process
	// state.
	RequireRedis bool
}

// Connector opens the individual dependencies. Tests replace it.
type Connector struct {
	Database func(ctx context.Context, cfg *config.Config) (*gorm.DB, error)
	Redis    func(ctx context.Context, addr string) (*redis.Client, error)
}

// DefaultConnector uses PostgreSQL and a real Redis.
var DefaultConnector = Connector{
	Database: database.Connect,
	Redis:    cache.Connect,
}

// InitRuntime connects to the database, applying the schema, and to Redis.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	return DefaultConnector.InitRuntime(ctx, cfg, opts)
}

// InitRuntime is the package-level InitRuntime using c's connectors.
func (c Connector) InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := c.Database(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	rdb, err := c.Redis(ctx, cfg.RedisURL)
	if err != nil {
		if opts.RequireRedis {
			if sqlDB, derr := db.DB(); derr == nil {
				_ = sqlDB.Close()
			}
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		middleware.Logger.Warn("redis unavailable, continuing with in-process state",
			slog.String("error", err.Error()),
		)
		rdb = nil
	}
	return db, rdb, nil
}
