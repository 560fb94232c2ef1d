package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/Grisenxx/divisionwebsite/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func sqliteConnector(t *testing.T, redisFn func(context.Context, string) (*redis.Client, error)) Connector {
	t.Helper()
	return Connector{
		Database: func(context.Context, *config.Config) (*gorm.DB, error) {
			return gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		},
		Redis: redisFn,
	}
}

func TestInitRuntime(t *testing.T) {
	mr := miniredis.RunT(t)
	c := sqliteConnector(t, func(_ context.Context, addr string) (*redis.Client, error) {
		return redis.NewClient(&redis.Options{Addr: addr}), nil
	})

	db, rdb, err := c.InitRuntime(context.Background(), &config.Config{RedisURL: mr.Addr()}, Options{RequireRedis: true})
	require.NoError(t, err)
	require.NotNil(t, db)
	require.NotNil(t, rdb)
	assert.NoError(t, rdb.Ping(context.Background()).Err())
}

func TestInitRuntime_RedisDown(t *testing.T) {
	down := func(context.Context, string) (*redis.Client, error) {
		return nil, errors.New("connection refused")
	}

	t.Run("optional", func(t *testing.T) {
		db, rdb, err := sqliteConnector(t, down).InitRuntime(context.Background(), &config.Config{}, Options{})
		require.NoError(t, err)
		assert.NotNil(t, db)
		assert.Nil(t, rdb)
	})

	t.Run("required", func(t *testing.T) {
		_, _, err := sqliteConnector(t, down).InitRuntime(context.Background(), &config.Config{}, Options{RequireRedis: true})
		assert.ErrorContains(t, err, "redis connection failed")
	})
}

func TestInitRuntime_DatabaseDown(t *testing.T) {
	c := Connector{
		Database: func(context.Context, *config.Config) (*gorm.DB, error) {
			return nil, errors.New("no route to host")
		},
		Redis: func(context.Context, string) (*redis.Client, error) {
			t.Fatal("redis must not be dialed without a database")
			return nil, nil
		},
	}
	_, _, err := c.InitRuntime(context.Background(), &config.Config{}, Options{})
	assert.ErrorContains(t, err, "database connection failed")
}
