package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Grisenxx/divisionwebsite/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandler_StatusTable(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"blocked", models.NewBlockedError("x"), http.StatusForbidden, models.CodeBlocked},
		{"rate limited", models.NewRateLimitedError("", 30*time.Second), http.StatusTooManyRequests, models.CodeRateLimited},
		{"unauthenticated", models.NewUnauthenticatedError("Ikke logget ind"), http.StatusUnauthorized, models.CodeUnauthenticated},
		{"forbidden", models.NewForbiddenError("nej"), http.StatusForbidden, models.CodeForbidden},
		{"not found", models.NewNotFoundError("Application", "x"), http.StatusNotFound, models.CodeNotFound},
		{"already decided", models.NewAlreadyDecidedError("x"), http.StatusNotFound, models.CodeNotFound},
		{"tampered", models.NewTamperedError(errors.New("type changed")), http.StatusBadRequest, models.CodeTampered},
		{"validation", models.NewValidationError("bad"), http.StatusBadRequest, models.CodeValidation},
		{"upstream", models.NewUpstreamError(errors.New("discord 503")), http.StatusBadGateway, models.CodeUpstream},
		{"wrapped app error", fmt.Errorf("ctx: %w", models.NewForbiddenError("nej")), http.StatusForbidden, models.CodeForbidden},
		{"unexpected", errors.New("pq: connection refused"), http.StatusInternalServerError, models.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
			app.Get("/", func(*fiber.Ctx) error { return tt.err })

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			var body models.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Code)
			assert.NotContains(t, body.Error, "pq:")
		})
	}
}

func TestErrorHandler_NotFoundAndDecidedIndistinguishable(t *testing.T) {
	render := func(e error) (int, string) {
		app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
		app.Get("/", func(*fiber.Ctx) error { return e })
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		raw, _ := json.Marshal(body)
		return resp.StatusCode, string(raw)
	}

	s1, b1 := render(models.NewNotFoundError("Application", "a"))
	s2, b2 := render(models.NewAlreadyDecidedError("a"))
	assert.Equal(t, s1, s2)
	assert.Equal(t, b1, b2)
	assert.Contains(t, b1, msgApplicationGone)
}

func TestErrorHandler_Headers(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/blocked", func(*fiber.Ctx) error { return models.NewBlockedError("mass mention attempt") })
	app.Get("/limited", func(*fiber.Ctx) error { return models.NewRateLimitedError("", 1500*time.Millisecond) })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/blocked", nil))
	require.NoError(t, err)
	assert.Equal(t, "604800", resp.Header.Get("Retry-After"))
	assert.Equal(t, blockedReason, resp.Header.Get(blockedReasonHeader))

	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Blocked)
	assert.NotContains(t, body.Error, "mass mention")

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/limited", nil))
	require.NoError(t, err)
	assert.Equal(t, "2", resp.Header.Get("Retry-After"))
}

func TestErrorHandler_FiberError(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
