package middleware

import (
	"context"
	"log/slog"

	"github.com/Grisenxx/divisionwebsite/internal/models"
	"github.com/Grisenxx/divisionwebsite/internal/observability"
	"github.com/Grisenxx/divisionwebsite/internal/ratelimit"

	"github.com/gofiber/fiber/v2"
)

// FailPolicy defines the behavior when the rate limit store is unavailable.
type FailPolicy int

const (
	// FailOpen allows the request to proceed if the store is unavailable.
	FailOpen FailPolicy = iota
	// FailClosed answers 503 if the store is unavailable.
	FailClosed
)

// RuleChecker is satisfied by *ratelimit.Limiter.
type RuleChecker interface {
	Check(ctx context.Context, source string, rule ratelimit.Rule) (ratelimit.Result, error)
}

// RateLimit enforces rule per source IP, failing open.
func RateLimit(limiter RuleChecker, rule ratelimit.Rule) fiber.Handler {
	return RateLimitWithPolicy(limiter, rule, FailOpen)
}

// RateLimitWithPolicy enforces rule per source IP with a specific failure policy.
func RateLimitWithPolicy(limiter RuleChecker, rule ratelimit.Rule, policy FailPolicy) fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := limiter.Check(c.UserContext(), c.IP(), rule)
		if err != nil {
			if policy == FailClosed {
				Logger.WarnContext(c.UserContext(), "rate limit fail-closed",
					slog.String("rule", rule.Name),
					slog.String("error", err.Error()),
				)
				return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
					Error: "rate limit unavailable",
					Code:  models.CodeInternal,
				})
			}
			return c.Next()
		}

		if res.Limited {
			observability.RateLimitRejections.WithLabelValues(rule.Name).Inc()
			return models.NewRateLimitedError("", res.RetryAfter)
		}
		return c.Next()
	}
}
