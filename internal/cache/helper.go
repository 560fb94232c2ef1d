package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Grisenxx/divisionwebsite/internal/observability"

	"github.com/redis/go-redis/v9"
)

// GetJSON attempts to get the key from Redis and unmarshal into dest.
// Returns (true, nil) if found and unmarshaled, (false, nil) if not found.
func GetJSON(ctx context.Context, rdb *redis.Client, key string, dest any) (bool, error) {
	if rdb == nil {
		return false, nil
	}
	s, err := rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(s), dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals v and sets the key with TTL.
func SetJSON(ctx context.Context, rdb *redis.Client, key string, v any, ttl time.Duration) error {
	if rdb == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, b, ttl).Err()
}

// Aside tries Redis first, on miss it calls fetch (which must populate dest)
// and stores the result with ttl. fetch may return store=false to keep a
// result out of the cache. Redis failures degrade to calling fetch.
func Aside(ctx context.Context, rdb *redis.Client, key string, dest any, ttl time.Duration, fetch func() (store bool, err error)) error {
	family, _, _ := strings.Cut(key, ":")

	found, err := GetJSON(ctx, rdb, key, dest)
	switch {
	case err != nil:
		observability.CacheResults.WithLabelValues(family, "error").Inc()
	case found:
		observability.CacheResults.WithLabelValues(family, "hit").Inc()
		return nil
	default:
		observability.CacheResults.WithLabelValues(family, "miss").Inc()
	}

	store, err := fetch()
	if err != nil {
		return err
	}
	if store {
		// Best effort.
		_ = SetJSON(ctx, rdb, key, dest, ttl)
	}
	return nil
}
