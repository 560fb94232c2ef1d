package server

import (
	"errors"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/Grisenxx/divisionwebsite/internal/middleware"
	"github.com/Grisenxx/divisionwebsite/internal/models"

	"github.com/gofiber/fiber/v2"
)

const (
	// msgApplicationGone is shared by NOT_FOUND and ALREADY_DECIDED so a
	// client cannot tell a missing application from a decided one.
	msgApplicationGone = "Ansøgning ikke fundet eller allerede behandlet"

	blockedReasonHeader = "X-Blocked-Reason"
	blockedReason       = "security_violations"
)

// statusFor maps an outcome code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case models.CodeBlocked, models.CodeForbidden:
		return fiber.StatusForbidden
	case models.CodeRateLimited:
		return fiber.StatusTooManyRequests
	case models.CodeUnauthenticated:
		return fiber.StatusUnauthorized
	case models.CodeNotFound, models.CodeAlreadyDecided:
		return fiber.StatusNotFound
	case models.CodeTampered, models.CodeValidation:
		return fiber.StatusBadRequest
	case models.CodeUpstream:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// retryAfterSeconds rounds d up to whole seconds, at least one.
func retryAfterSeconds(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

// respondError writes err as an API error response.
func respondError(c *fiber.Ctx, err error) error {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
		}
		middleware.Logger.ErrorContext(c.UserContext(), "unhandled request error",
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
		return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
	}

	status := statusFor(appErr.Code)
	switch appErr.Code {
	case models.CodeBlocked:
		c.Set(blockedReasonHeader, blockedReason)
		c.Set(fiber.HeaderRetryAfter, retryAfterSeconds(appErr.RetryAfter))
	case models.CodeRateLimited:
		if appErr.RetryAfter > 0 {
			c.Set(fiber.HeaderRetryAfter, retryAfterSeconds(appErr.RetryAfter))
		}
	case models.CodeNotFound, models.CodeAlreadyDecided:
		return c.Status(status).JSON(models.ErrorResponse{
			Error: msgApplicationGone,
			Code:  models.CodeNotFound,
		})
	case models.CodeUpstream, models.CodeInternal:
		middleware.Logger.ErrorContext(c.UserContext(), "request failed",
			slog.String("path", c.Path()),
			slog.String("code", appErr.Code),
			slog.String("error", appErr.Error()),
		)
	}
	return models.RespondWithError(c, status, appErr)
}

// ErrorHandler renders errors returned by handlers and middleware. Internal
// details never reach the client.
func ErrorHandler(c *fiber.Ctx, err error) error {
	return respondError(c, err)
}
