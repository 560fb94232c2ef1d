package server

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/Grisenxx/divisionwebsite/internal/middleware"
	"github.com/Grisenxx/divisionwebsite/internal/models"
	"github.com/Grisenxx/divisionwebsite/internal/session"

	"github.com/gofiber/fiber/v2"
)

const defaultLoginRedirect = "/apply"

// safeRedirect returns path when it is a same-site relative path, otherwise
// the default landing page.
func safeRedirect(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") || strings.ContainsAny(path, "\\\r\n") {
		return defaultLoginRedirect
	}
	u, err := url.Parse(path)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return defaultLoginRedirect
	}
	return path
}

func (s *Server) siteURL(path string) string {
	return strings.TrimRight(s.config.PublicBaseURL, "/") + path
}

// DiscordLogin handles GET /api/auth/discord
// @Summary Start Discord login
// @Tags auth
// @Param redirect query string false "Relative path to return to"
// @Success 302
// @Router /auth/discord [get]
func (s *Server) DiscordLogin(c *fiber.Ctx) error {
	state := safeRedirect(c.Query("redirect"))
	return c.Redirect(s.discord.AuthCodeURL(state), fiber.StatusFound)
}

// DiscordCallback handles GET /api/auth/callback
// @Summary Discord OAuth2 callback
// @Tags auth
// @Param code query string true "Authorization code"
// @Param state query string false "Return path"
// @Success 302
// @Router /auth/callback [get]
func (s *Server) DiscordCallback(c *fiber.Ctx) error {
	ctx := c.UserContext()
	code := c.Query("code")
	if code == "" {
		return c.Redirect(s.siteURL("/?error=no_code"), fiber.StatusFound)
	}

	fail := func(step string, err error) error {
		middleware.Logger.WarnContext(ctx, "discord login failed",
			slog.String("step", step),
			slog.String("error", err.Error()),
		)
		return c.Redirect(s.siteURL("/?error=auth_failed"), fiber.StatusFound)
	}

	tok, err := s.discord.Exchange(ctx, code)
	if err != nil {
		return fail("exchange", err)
	}
	user, err := s.discord.CurrentUser(ctx, tok.AccessToken)
	if err != nil {
		return fail("identify", err)
	}
	token, sess, err := s.sessions.Create(ctx, user.ID, user.DisplayName(), user.Avatar, tok.AccessToken)
	if err != nil {
		return fail("session", err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HTTPOnly: true,
		Secure:   s.config.IsProduction(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	middleware.Logger.InfoContext(middleware.WithPrincipalID(ctx, user.ID), "discord login")
	return c.Redirect(s.siteURL(safeRedirect(c.Query("state"))), fiber.StatusFound)
}

// Logout handles POST /api/auth/logout
// @Summary Log out
// @Tags auth
// @Success 200 {object} object{success=bool}
// @Router /auth/logout [post]
func (s *Server) Logout(c *fiber.Ctx) error {
	if token := middleware.SessionToken(c); token != "" {
		if err := s.sessions.Destroy(c.UserContext(), token); err != nil {
			middleware.Logger.WarnContext(c.UserContext(), "failed to destroy session", slog.String("error", err.Error()))
		}
	}
	c.Cookie(&fiber.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   s.config.IsProduction(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.JSON(fiber.Map{"success": true})
}

// meResponse is the verified caller.
type meResponse struct {
	*models.Principal
	ReviewableTypes []string `json:"reviewableTypes"`
	IsAdmin         bool     `json:"isAdmin"`
}

// Me handles GET /api/auth/me
// @Summary Current principal
// @Tags auth
// @Produce json
// @Success 200 {object} meResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/me [get]
func (s *Server) Me(c *fiber.Ctx) error {
	p := middleware.CurrentPrincipal(c)
	types := s.applications.ReviewableTypes(p)
	if types == nil {
		types = []string{}
	}
	return c.JSON(meResponse{
		Principal:       p,
		ReviewableTypes: types,
		IsAdmin:         p.HasAnyRole(s.config.AdminRoles()...),
	})
}
