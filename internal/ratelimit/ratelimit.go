// Package ratelimit implements a sliding-window request limiter keyed by
// source and rule.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Rule names a throttled endpoint class and its budget.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Rules used by the HTTP surface.
var (
	SubmitRule = Rule{Name: "submit", Limit: 3, Window: 5 * time.Minute}
	DecideRule = Rule{Name: "decide", Limit: 5, Window: time.Minute}
	ListRule   = Rule{Name: "list", Limit: 20, Window: time.Minute}
	SearchRule = Rule{Name: "search", Limit: 5, Window: 30 * time.Second}
	AuthRule   = Rule{Name: "auth", Limit: 10, Window: time.Minute}
	AdminRule  = Rule{Name: "admin", Limit: 10, Window: time.Minute}
)

// Result is the outcome of a single check.
type Result struct {
	Limited    bool
	Remaining  int
	RetryAfter time.Duration
}

// Store records hits for a key. Implementations prune entries older than the
// window on every call.
type Store interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error)
	// Delete removes every key matching a glob pattern ("rl:*").
	Delete(ctx context.Context, pattern string) (int, error)
}

// Limiter applies Rules against a Store.
type Limiter struct {
	store   Store
	enabled bool
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// Disabled turns every check into an allow. Used for local development.
func Disabled() Option {
	return func(l *Limiter) { l.enabled = false }
}

// New returns a Limiter backed by store.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{store: store, enabled: true, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key builds the storage key for a rule and source.
func Key(rule, source string) string {
	return fmt.Sprintf("rl:%s:%s", rule, source)
}

// Check records a request from source against rule. When the source is at or
// over the limit the request is not recorded and Limited is set.
func (l *Limiter) Check(ctx context.Context, source string, rule Rule) (Result, error) {
	if !l.enabled {
		return Result{Remaining: rule.Limit}, nil
	}
	if rule.Limit <= 0 || rule.Window <= 0 {
		return Result{}, fmt.Errorf("invalid rate limit rule %q", rule.Name)
	}
	res, err := l.store.Hit(ctx, Key(rule.Name, source), rule.Limit, rule.Window, l.now())
	if err != nil {
		return Result{}, fmt.Errorf("rate limit %s: %w", rule.Name, err)
	}
	return res, nil
}

// Reset clears every window recorded for source.
func (l *Limiter) Reset(ctx context.Context, source string) (int, error) {
	return l.store.Delete(ctx, Key("*", source))
}

// Clear drops all recorded windows.
func (l *Limiter) Clear(ctx context.Context) (int, error) {
	return l.store.Delete(ctx, "rl:*")
}
