// Package auth resolves the acting principal of a request. Identity and roles
// are re-read from Discord on every call; nothing the client sends about
// itself is trusted.
package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Grisenxx/divisionwebsite/internal/discord"
	"github.com/Grisenxx/divisionwebsite/internal/middleware"
	"github.com/Grisenxx/divisionwebsite/internal/models"
	"github.com/Grisenxx/divisionwebsite/internal/observability"
	"github.com/Grisenxx/divisionwebsite/internal/session"
)

const (
	msgNotLoggedIn    = "Ikke logget ind"
	msgSessionInvalid = "Session ugyldig. Log venligst ind igen."
)

// Sessions resolves a cookie token to a stored session.
type Sessions interface {
	Lookup(ctx context.Context, token string) (*session.Session, error)
}

// IdentityProvider is the subset of the Discord API used for verification.
type IdentityProvider interface {
	CurrentUser(ctx context.Context, accessToken string) (*discord.User, error)
	GuildMember(ctx context.Context, userID string) (*discord.Member, error)
}

// Verifier re-validates sessions against Discord.
type Verifier struct {
	sessions Sessions
	idp      IdentityProvider
}

// NewVerifier returns a Verifier.
func NewVerifier(sessions Sessions, idp IdentityProvider) *Verifier {
	return &Verifier{sessions: sessions, idp: idp}
}

// VerifyPrincipal loads the session named by token, confirms with Discord
// that its access token still belongs to the same user, and fetches that
// user's current guild roles. Failures are Unauthenticated, except Discord or
// Redis being unavailable, which is an upstream failure. Both refuse.
func (v *Verifier) VerifyPrincipal(ctx context.Context, token string) (_ *models.Principal, err error) {
	ctx, span := observability.StartSpan(ctx, "auth.VerifyPrincipal")
	defer func() { observability.EndSpan(span, err) }()

	if token == "" {
		return nil, models.NewUnauthenticatedError(msgNotLoggedIn)
	}

	sess, err := v.sessions.Lookup(ctx, token)
	switch {
	case errors.Is(err, session.ErrNoSession):
		return nil, models.NewUnauthenticatedError(msgNotLoggedIn)
	case errors.Is(err, session.ErrInvalidToken):
		return nil, models.NewUnauthenticatedError(msgSessionInvalid)
	case err != nil:
		return nil, models.NewUpstreamError(err)
	}
	if sess.AccessToken == "" || sess.UserID == "" {
		return nil, models.NewUnauthenticatedError(msgSessionInvalid)
	}

	user, err := v.idp.CurrentUser(ctx, sess.AccessToken)
	if err != nil {
		return nil, upstream(err)
	}
	if user.ID != sess.UserID {
		middleware.Logger.WarnContext(ctx, "session identity mismatch",
			slog.String("session_user", sess.UserID),
			slog.String("discord_user", user.ID),
		)
		return nil, models.NewUnauthenticatedError(msgSessionInvalid)
	}

	member, err := v.idp.GuildMember(ctx, user.ID)
	if err != nil {
		return nil, upstream(err)
	}

	roles := member.Roles
	if roles == nil {
		roles = []string{}
	}
	return &models.Principal{
		ID:       user.ID,
		Username: user.DisplayName(),
		Avatar:   user.Avatar,
		Roles:    roles,
	}, nil
}

func upstream(err error) error {
	if errors.Is(err, discord.ErrUnauthorized) {
		return models.NewUnauthenticatedError(msgSessionInvalid)
	}
	return models.NewUpstreamError(err)
}
