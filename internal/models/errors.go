package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Outcome codes returned to API clients.
const (
	CodeBlocked         = "BLOCKED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeAlreadyDecided  = "ALREADY_DECIDED"
	CodeTampered        = "TAMPERED"
	CodeValidation      = "VALIDATION_ERROR"
	CodeUpstream        = "UPSTREAM_FAILURE"
	CodeInternal        = "INTERNAL_ERROR"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code,omitempty"`
	Details       string `json:"details,omitempty"`
	TimeRemaining string `json:"timeRemaining,omitempty"`
	Blocked       bool   `json:"blocked,omitempty"`
}

// AppError is an expected, categorised failure of a request.
type AppError struct {
	Code    string
	Message string
	Err     error

	// RetryAfter is set for RATE_LIMITED and BLOCKED outcomes.
	RetryAfter time.Duration
	// TimeRemaining is a human readable cooldown hint ("3 timer").
	TimeRemaining string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

func NewBlockedError(reason string) *AppError {
	return &AppError{
		Code:       CodeBlocked,
		Message:    "Din IP adresse er blokeret på grund af sikkerhedsovertrædelser",
		Err:        errors.New(reason),
		RetryAfter: 7 * 24 * time.Hour,
	}
}

func NewRateLimitedError(message string, retryAfter time.Duration) *AppError {
	if message == "" {
		message = "For mange requests. Prøv igen senere."
	}
	return &AppError{
		Code:       CodeRateLimited,
		Message:    message,
		RetryAfter: retryAfter,
	}
}

func NewUnauthenticatedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthenticated,
		Message: message,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: message,
	}
}

func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

// NewAlreadyDecidedError is returned when a conditional status update matched no row.
func NewAlreadyDecidedError(id string) *AppError {
	return &AppError{
		Code:    CodeAlreadyDecided,
		Message: fmt.Sprintf("application %s is not pending", id),
	}
}

func NewTamperedError(err error) *AppError {
	return &AppError{
		Code:    CodeTampered,
		Message: "Ansøgningsdata må ikke ændres",
		Err:     err,
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

func NewUpstreamError(err error) *AppError {
	return &AppError{
		Code:    CodeUpstream,
		Message: "Ekstern tjeneste svarede ikke korrekt",
		Err:     err,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// RespondWithError writes a standardized error response. Wrapped causes are
// never echoed to the client.
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error:         appErr.Message,
			Code:          appErr.Code,
			TimeRemaining: appErr.TimeRemaining,
			Blocked:       appErr.Code == CodeBlocked,
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}
