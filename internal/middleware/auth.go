// Package middleware provides request logging, tracing, throttling and
// principal resolution for the HTTP surface.
package middleware

import (
	"context"
	"strings"

	"github.com/Grisenxx/divisionwebsite/internal/models"

	"github.com/gofiber/fiber/v2"
)

// SessionCookie is the cookie carrying the session token.
const SessionCookie = "session"

const principalLocal = "principal"

// PrincipalVerifier re-validates a session token with the identity provider.
type PrincipalVerifier interface {
	VerifyPrincipal(ctx context.Context, sessionToken string) (*models.Principal, error)
}

// SessionToken extracts the session token from the session cookie, falling
// back to a Bearer Authorization header.
func SessionToken(c *fiber.Ctx) string {
	if token := c.Cookies(SessionCookie); token != "" {
		return token
	}
	authHeader := c.Get(fiber.HeaderAuthorization)
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// WebSocketSessionToken is SessionToken with a final fallback to the
// "token" query parameter, for websocket clients that cannot set headers.
func WebSocketSessionToken(c *fiber.Ctx) string {
	if token := SessionToken(c); token != "" {
		return token
	}
	return c.Query("token")
}

// PrincipalRequired verifies the caller's session on every request and
// stores the resulting principal in the request locals.
func PrincipalRequired(v PrincipalVerifier) fiber.Handler {
	return principalRequired(v, SessionToken)
}

// WebSocketPrincipalRequired is PrincipalRequired for websocket upgrades.
func WebSocketPrincipalRequired(v PrincipalVerifier) fiber.Handler {
	return principalRequired(v, WebSocketSessionToken)
}

func principalRequired(v PrincipalVerifier, token func(*fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tok := token(c)
		if tok == "" {
			return models.NewUnauthenticatedError("Ikke logget ind")
		}

		p, err := v.VerifyPrincipal(c.UserContext(), tok)
		if err != nil {
			return err
		}

		c.Locals(principalLocal, p)
		c.SetUserContext(WithPrincipalID(c.UserContext(), p.ID))
		return c.Next()
	}
}

// RoleRequired refuses principals holding none of roles. It must run after
// PrincipalRequired.
func RoleRequired(roles []string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := CurrentPrincipal(c)
		if p == nil {
			return models.NewUnauthenticatedError("Ikke logget ind")
		}
		if !p.HasAnyRole(roles...) {
			Logger.WarnContext(c.UserContext(), "principal lacks required role",
				"path", c.Path(),
			)
			return models.NewForbiddenError("Du har ikke adgang til denne funktion")
		}
		return c.Next()
	}
}

// CurrentPrincipal returns the principal stored by PrincipalRequired.
func CurrentPrincipal(c *fiber.Ctx) *models.Principal {
	p, _ := c.Locals(principalLocal).(*models.Principal)
	return p
}
