package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsTotal counts decide attempts by application type, requested status and outcome code.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "division_decisions_total",
		Help: "Total number of application decisions by type, status and outcome",
	}, []string{"type", "status", "outcome"})

	// DecisionLatency records end-to-end decide latency.
	DecisionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "division_decision_latency_seconds",
		Help:    "Latency of the decide pipeline in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	// SubmissionsTotal counts submissions by type and outcome code.
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "division_submissions_total",
		Help: "Total number of application submissions by type and outcome",
	}, []string{"type", "outcome"})

	// SideEffectsTotal counts side-effect outcomes.
	SideEffectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "division_side_effects_total",
		Help: "Total number of Discord side effects by effect and status",
	}, []string{"effect", "status"})

	// ViolationsTotal counts recorded security violations.
	ViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "division_security_violations_total",
		Help: "Total number of security violations by category",
	}, []string{"category"})

	// BlocksTotal counts IP blocks created.
	BlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "division_ip_blocks_total",
		Help: "Total number of IP blocks created",
	}, []string{"permanent"})

	// RateLimitRejections counts throttled requests by rule.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "division_rate_limit_rejections_total",
		Help: "Total number of rate limited requests by rule",
	}, []string{"rule"})

	// DiscordRequestLatency records Discord API latency by operation and status class.
	DiscordRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "division_discord_request_latency_seconds",
		Help:    "Discord API request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	// FeedConnections is the gauge of connected live feed sockets.
	FeedConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "division_feed_connections",
		Help: "Number of connected reviewer live feed sockets",
	})

	// FeedDrops counts live feed messages dropped due to backpressure.
	FeedDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "division_feed_backpressure_drops_total",
		Help: "Total number of live feed messages dropped due to backpressure",
	})

	// RedisErrors counts failed Redis commands by command name.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "division_redis_errors_total",
		Help: "Total number of failed Redis commands",
	}, []string{"command"})

	// CacheResults counts cache-aside lookups by key family and result.
	CacheResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "division_cache_results_total",
		Help: "Cache-aside lookups by key family and result",
	}, []string{"family", "result"})
)

// ObserveDiscord records the latency of a Discord API call started at start.
func ObserveDiscord(operation, status string, start time.Time) {
	DiscordRequestLatency.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}
