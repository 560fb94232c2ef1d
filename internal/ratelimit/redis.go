package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each window in a sorted set scored by hit time in
// milliseconds, so every instance behind the load balancer shares budgets.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore returns a Store backed by rdb.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, limit int, length time.Duration, now time.Time) (Result, error) {
	if s.rdb == nil {
		return Result{}, errors.New("redis client is nil")
	}

	nowMs := now.UnixMilli()
	cutoff := now.Add(-length).UnixMilli()

	var card *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
		card = pipe.ZCard(ctx, key)
		oldest = pipe.ZRangeWithScores(ctx, key, 0, 0)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	count := int(card.Val())
	if count >= limit {
		retry := length
		if z := oldest.Val(); len(z) > 0 {
			retry = time.UnixMilli(int64(z[0].Score)).Add(length).Sub(now)
		}
		return Result{Limited: true, RetryAfter: retry}, nil
	}

	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: member})
		pipe.PExpire(ctx, key, length)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Remaining: limit - count - 1}, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, pattern string) (int, error) {
	if s.rdb == nil {
		return 0, errors.New("redis client is nil")
	}

	deleted := 0
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, iter.Err()
}
