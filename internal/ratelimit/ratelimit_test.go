package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)}
}

func testRule(limit int, w time.Duration) Rule {
	return Rule{Name: "test", Limit: limit, Window: w}
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(setupRedis(t)),
	}
}

func TestLimiter_SixthCallInWindowIsLimited(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			clock := newClock()
			l := New(store, WithClock(clock.Now))
			ctx := context.Background()
			rule := testRule(5, time.Minute)

			for i := 0; i < 5; i++ {
				res, err := l.Check(ctx, "1.2.3.4", rule)
				require.NoError(t, err)
				assert.False(t, res.Limited, "call %d", i+1)
				assert.Equal(t, 4-i, res.Remaining)
				clock.Advance(time.Second)
			}

			res, err := l.Check(ctx, "1.2.3.4", rule)
			require.NoError(t, err)
			assert.True(t, res.Limited)
			assert.Equal(t, 55*time.Second, res.RetryAfter)

			clock.Advance(time.Minute)
			res, err = l.Check(ctx, "1.2.3.4", rule)
			require.NoError(t, err)
			assert.False(t, res.Limited)
		})
	}
}

func TestLimiter_SourcesAreIndependent(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l := New(store, WithClock(newClock().Now))
			ctx := context.Background()
			rule := testRule(1, time.Minute)

			res, err := l.Check(ctx, "a", rule)
			require.NoError(t, err)
			assert.False(t, res.Limited)

			res, err = l.Check(ctx, "b", rule)
			require.NoError(t, err)
			assert.False(t, res.Limited)

			res, err = l.Check(ctx, "a", rule)
			require.NoError(t, err)
			assert.True(t, res.Limited)
		})
	}
}

func TestLimiter_ResetAndClear(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			l := New(store, WithClock(newClock().Now))
			ctx := context.Background()

			_, err := l.Check(ctx, "10.0.0.1", SubmitRule)
			require.NoError(t, err)
			_, err = l.Check(ctx, "10.0.0.1", ListRule)
			require.NoError(t, err)
			_, err = l.Check(ctx, "10.0.0.2", ListRule)
			require.NoError(t, err)

			n, err := l.Reset(ctx, "10.0.0.1")
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			n, err = l.Clear(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestLimiter_Disabled(t *testing.T) {
	l := New(NewMemoryStore(), Disabled())
	for i := 0; i < 10; i++ {
		res, err := l.Check(context.Background(), "x", testRule(1, time.Minute))
		require.NoError(t, err)
		assert.False(t, res.Limited)
	}
}

func TestLimiter_InvalidRule(t *testing.T) {
	l := New(NewMemoryStore())
	_, err := l.Check(context.Background(), "x", Rule{Name: "broken"})
	assert.Error(t, err)
}

func TestRedisStore_NilClient(t *testing.T) {
	l := New(NewRedisStore(nil))
	_, err := l.Check(context.Background(), "x", testRule(1, time.Minute))
	assert.Error(t, err)
}

func TestMemoryStore_SweepsIdleKeys(t *testing.T) {
	clock := newClock()
	store := NewMemoryStore()
	l := New(store, WithClock(clock.Now))
	ctx := context.Background()

	for _, src := range []string{"a", "b", "c"} {
		_, err := l.Check(ctx, src, testRule(3, 10*time.Second))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, store.Len())

	clock.Advance(2 * time.Minute)
	_, err := l.Check(ctx, "d", testRule(3, 10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}
