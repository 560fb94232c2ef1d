package service

import (
	"context"
	"log/slog"

	"github.com/Grisenxx/divisionwebsite/internal/abuse"
	"github.com/Grisenxx/divisionwebsite/internal/middleware"
	"github.com/Grisenxx/divisionwebsite/internal/models"
	"github.com/Grisenxx/divisionwebsite/internal/observability"
	"github.com/Grisenxx/divisionwebsite/internal/ratelimit"
)

// Request identifies the caller of an operation.
type Request struct {
	IP           string
	SessionToken string
}

// AbuseDetector checks and feeds the IP block list.
type AbuseDetector interface {
	IsBlocked(ctx context.Context, ip string) abuse.BlockStatus
	RecordViolation(ctx context.Context, ip, applicantID string, category models.ViolationCategory) (bool, error)
}

// RateLimiter throttles requests per source.
type RateLimiter interface {
	Check(ctx context.Context, source string, rule ratelimit.Rule) (ratelimit.Result, error)
}

// PrincipalVerifier re-validates a session with the identity provider.
type PrincipalVerifier interface {
	VerifyPrincipal(ctx context.Context, sessionToken string) (*models.Principal, error)
}

// Gate runs the checks every guarded operation starts with, in order: IP
// block, rate limit, principal verification.
type Gate struct {
	abuse    AbuseDetector
	limiter  RateLimiter
	verifier PrincipalVerifier
}

// NewGate returns a Gate.
func NewGate(detector AbuseDetector, limiter RateLimiter, verifier PrincipalVerifier) *Gate {
	return &Gate{abuse: detector, limiter: limiter, verifier: verifier}
}

// Admit screens req against rule and returns the verified principal.
func (g *Gate) Admit(ctx context.Context, req Request, rule ratelimit.Rule) (*models.Principal, error) {
	if err := g.Screen(ctx, req, rule); err != nil {
		return nil, err
	}
	return g.Verify(ctx, req)
}

// Screen applies the block check and the rate limit only.
func (g *Gate) Screen(ctx context.Context, req Request, rule ratelimit.Rule) error {
	if status := g.abuse.IsBlocked(ctx, req.IP); status.Blocked {
		middleware.Logger.WarnContext(ctx, "blocked source refused",
			slog.String("ip", middleware.MaskIP(req.IP)),
			slog.String("rule", rule.Name),
		)
		return models.NewBlockedError(status.Reason)
	}

	res, err := g.limiter.Check(ctx, req.IP, rule)
	if err != nil {
		// Throttling is advisory; a broken store must not deny service.
		middleware.Logger.WarnContext(ctx, "rate limit check failed, allowing request",
			slog.String("rule", rule.Name),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !res.Limited {
		return nil
	}

	observability.RateLimitRejections.WithLabelValues(rule.Name).Inc()
	g.violation(ctx, req.IP, "", models.ViolationRateLimit)
	return models.NewRateLimitedError(rateLimitMessage(rule), res.RetryAfter)
}

// Verify resolves the principal behind req's session.
func (g *Gate) Verify(ctx context.Context, req Request) (*models.Principal, error) {
	p, err := g.verifier.VerifyPrincipal(ctx, req.SessionToken)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// violation records a violation, logging rather than returning store errors.
func (g *Gate) violation(ctx context.Context, ip, applicantID string, category models.ViolationCategory) bool {
	blocked, err := g.abuse.RecordViolation(ctx, ip, applicantID, category)
	if err != nil {
		middleware.Logger.ErrorContext(ctx, "failed to record violation",
			slog.String("category", string(category)),
			slog.String("error", err.Error()),
		)
	}
	return blocked
}

func rateLimitMessage(rule ratelimit.Rule) string {
	switch rule.Name {
	case ratelimit.SubmitRule.Name:
		return "For mange ansøgninger på kort tid. Prøv igen senere."
	case ratelimit.SearchRule.Name:
		return "For mange søgninger. Prøv igen senere."
	default:
		return "For mange requests. Prøv igen senere."
	}
}
