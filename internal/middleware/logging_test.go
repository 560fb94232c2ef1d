package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskIP(t *testing.T) {
	assert.Equal(t, "10.0.0.1", MaskIP("10.0.0.1"))
	assert.Equal(t, "203.0.113...", MaskIP("203.0.113.254"))
	assert.Equal(t, "", MaskIP(""))
}

func TestContextMiddleware_PropagatesIDs(t *testing.T) {
	app := fiber.New()
	app.Use(requestid.New(), TracingMiddleware(), ContextMiddleware())
	app.Get("/", func(c *fiber.Ctx) error {
		rid, _ := c.UserContext().Value(RequestIDKey).(string)
		tid, _ := c.UserContext().Value(TraceIDKey).(string)
		return c.JSON(fiber.Map{"rid": rid != "", "tid": tid != ""})
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))
}
