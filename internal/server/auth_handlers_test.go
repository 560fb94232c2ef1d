package server

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/Grisenxx/divisionwebsite/internal/discord"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeRedirect(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "/apply"},
		{"/admin", "/admin"},
		{"/admin?type=whitelist", "/admin?type=whitelist"},
		{"//evil.example", "/apply"},
		{"https://evil.example/", "/apply"},
		{"/\\evil.example", "/apply"},
		{"admin", "/apply"},
		{"/x\r\nSet-Cookie: a=b", "/apply"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, safeRedirect(tt.in))
		})
	}
}

func TestDiscordLogin_RedirectsWithSafeState(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/auth/discord?redirect=//evil.example", "", "")
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/apply", loc.Query().Get("state"))
	assert.Equal(t, "client", loc.Query().Get("client_id"))
}

func TestDiscordCallback(t *testing.T) {
	t.Run("missing code", func(t *testing.T) {
		env := newTestEnv(t)
		resp := env.do(t, http.MethodGet, "/api/auth/callback", "", "")
		require.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "http://localhost:5173/?error=no_code", resp.Header.Get("Location"))
	})

	t.Run("unknown user", func(t *testing.T) {
		env := newTestEnv(t)
		resp := env.do(t, http.MethodGet, "/api/auth/callback?code=nobody", "", "")
		require.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "http://localhost:5173/?error=auth_failed", resp.Header.Get("Location"))
	})

	t.Run("success sets session cookie", func(t *testing.T) {
		env := newTestEnv(t)
		env.discord.addUser("tok-good", applicantID, "applicant")

		resp := env.do(t, http.MethodGet, "/api/auth/callback?code=good&state=/admin", "", "")
		require.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "http://localhost:5173/admin", resp.Header.Get("Location"))

		var session *http.Cookie
		for _, c := range resp.Cookies() {
			if c.Name == "session" {
				session = c
			}
		}
		require.NotNil(t, session)
		assert.True(t, session.HttpOnly)
		assert.NotEmpty(t, session.Value)

		me := env.do(t, http.MethodGet, "/api/auth/me", session.Value, "")
		require.Equal(t, http.StatusOK, me.StatusCode)
		assert.Equal(t, applicantID, decode[map[string]any](t, me)["id"])
	})
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/auth/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	admin := env.login(t, staffID, "staff", staffRole, whitelistRole)
	resp = env.do(t, http.MethodGet, "/api/auth/me", admin, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		ID              string   `json:"id"`
		Roles           []string `json:"roles"`
		ReviewableTypes []string `json:"reviewableTypes"`
		IsAdmin         bool     `json:"isAdmin"`
	}](t, resp)
	assert.Equal(t, staffID, body.ID)
	assert.True(t, body.IsAdmin)
	assert.Contains(t, body.ReviewableTypes, "whitelist")
	assert.Contains(t, body.ReviewableTypes, "staff")
}

func TestMe_IdentityMismatch(t *testing.T) {
	env := newTestEnv(t)
	session := env.login(t, applicantID, "applicant")

	// The access token now resolves to someone else.
	env.discord.mu.Lock()
	env.discord.users["access-"+applicantID] = discord.User{ID: staffID, Username: "other"}
	env.discord.mu.Unlock()

	resp := env.do(t, http.MethodGet, "/api/auth/me", session, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	session := env.login(t, applicantID, "applicant")

	resp := env.do(t, http.MethodPost, "/api/auth/logout", session, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/auth/me", session, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
