package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Grisenxx/divisionwebsite/internal/config"
	"github.com/Grisenxx/divisionwebsite/internal/database"
	"github.com/Grisenxx/divisionwebsite/internal/discord"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	staffRole     = "1427628590580895825"
	whitelistRole = "1425185680065298523"
	guildID       = "900000000000000001"

	applicantID = "123456789012345678"
	staffID     = "223456789012345678"
	wlID        = "323456789012345678"
)

// fakeDiscord serves the subset of the Discord API the server calls.
type fakeDiscord struct {
	*httptest.Server

	mu       sync.Mutex
	users    map[string]discord.User // access token -> user
	roles    map[string][]string     // user id -> guild roles
	calls    map[string]int          // "METHOD path" -> count
	webhooks []string
}

func newFakeDiscord(t *testing.T) *fakeDiscord {
	t.Helper()
	f := &fakeDiscord{
		users: map[string]discord.User{},
		roles: map[string][]string{},
		calls: map[string]int{},
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeDiscord) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[r.Method+" "+r.URL.Path]++

	writeJSON := func(v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}

	switch {
	case r.URL.Path == "/oauth2/token":
		_ = r.ParseForm()
		writeJSON(map[string]any{"access_token": "tok-" + r.Form.Get("code"), "token_type": "Bearer", "expires_in": 604800})
	case r.URL.Path == "/users/@me" && r.Method == http.MethodGet:
		u, ok := f.users[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(u)
	case r.URL.Path == "/users/@me/channels":
		writeJSON(map[string]string{"id": "dm-1"})
	case strings.HasPrefix(r.URL.Path, "/guilds/"+guildID+"/members/") && r.Method == http.MethodGet:
		id := strings.TrimPrefix(r.URL.Path, "/guilds/"+guildID+"/members/")
		roles, ok := f.roles[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(map[string]any{"roles": roles})
	case strings.HasPrefix(r.URL.Path, "/webhooks/"):
		body, _ := io.ReadAll(r.Body)
		f.webhooks = append(f.webhooks, string(body))
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(map[string]string{"id": "1"})
	}
}

func (f *fakeDiscord) addUser(token, id, name string, roles ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[token] = discord.User{ID: id, Username: name}
	f.roles[id] = roles
}

func (f *fakeDiscord) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeDiscord) webhookBodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.webhooks...)
}

type testEnv struct {
	srv     *Server
	app     *fiber.App
	db      *gorm.DB
	redis   *miniredis.Miniredis
	discord *fakeDiscord
}

func testConfig(discordURL string) *config.Config {
	return &config.Config{
		Port:                    "0",
		Env:                     "test",
		SessionSecret:           "test-session-secret-0123456789abcdef",
		SessionTTLHours:         168,
		AllowedOrigins:          "http://localhost:5173",
		PublicBaseURL:           "http://localhost:5173",
		DiscordClientID:         "client",
		DiscordClientSecret:     "secret",
		DiscordRedirectURI:      "http://localhost:8375/api/auth/callback",
		DiscordBotToken:         "bot-token",
		DiscordGuildID:          guildID,
		DiscordAPIBaseURL:       discordURL,
		DiscordTimeoutSeconds:   5,
		DiscordLogsWebhookURL:   discordURL + "/webhooks/logs",
		AdminRoleIDs:            staffRole,
		DefaultReviewerRoleID:   staffRole,
		BlockViolationThreshold: 5,
		BlockWindowHours:        24,
		BlockDurationHours:      168,
		SubmissionCooldownHours: 24,
		RateLimitEnabled:        true,
		RateLimitBackend:        "redis",
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("DISCORD_WHITELIST_ROLE_ID", "")
	t.Setenv("DISCORD_WHITELIST_LOGS_WEBHOOK_URL", "")
	t.Setenv("DISCORD_STAFF_ROLE_ID", "")
	t.Setenv("DISCORD_STAFF_LOGS_WEBHOOK_URL", "")

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(database.PersistentModels()...))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	dc := newFakeDiscord(t)
	srv, err := NewServerWithDeps(testConfig(dc.URL), db, rdb)
	require.NoError(t, err)

	return &testEnv{srv: srv, app: srv.App(), db: db, redis: mr, discord: dc}
}

// login registers a Discord user with roles and returns a session token.
func (e *testEnv) login(t *testing.T, id, name string, roles ...string) string {
	t.Helper()
	accessToken := "access-" + id
	e.discord.addUser(accessToken, id, name, roles...)
	token, _, err := e.srv.sessions.Create(context.Background(), id, name, "", accessToken)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, session, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != "" {
		req.AddCookie(&http.Cookie{Name: "session", Value: session})
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}
