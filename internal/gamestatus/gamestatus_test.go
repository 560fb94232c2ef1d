package gamestatus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeServer(t *testing.T, hits *int32, infoStatus int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/players.json":
			_, _ = w.Write([]byte(`[{"id":1,"name":"a"},{"id":2,"name":"b"},{"id":3,"name":"c"}]`))
		case "/info.json":
			w.WriteHeader(infoStatus)
			_, _ = w.Write([]byte(`{"vars":{"sv_maxClients":"128","sv_projectName":"Division RP"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStatus_NotConfigured(t *testing.T) {
	st := NewPoller(Config{}, nil).Status(context.Background())
	assert.Equal(t, Status{
		Players:    0,
		MaxPlayers: 64,
		Online:     false,
		ServerName: "FiveM Server",
		Error:      "Server ikke konfigureret",
	}, st)
}

func TestStatus_OnlineAndCached(t *testing.T) {
	var hits int32
	srv := fakeServer(t, &hits, http.StatusOK)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	p := NewPoller(Config{BaseURL: srv.URL}, rdb)
	st := p.Status(context.Background())
	assert.Equal(t, Status{Players: 3, MaxPlayers: 128, Online: true, ServerName: "Division RP"}, st)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	again := p.Status(context.Background())
	assert.Equal(t, st, again)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "second call served from cache")

	mr.FastForward(cacheTTL + 1)
	p.Status(context.Background())
	assert.Equal(t, int32(4), atomic.LoadInt32(&hits))
}

func TestStatus_FailureIsOfflineAndNotCached(t *testing.T) {
	var hits int32
	srv := fakeServer(t, &hits, http.StatusInternalServerError)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	p := NewPoller(Config{BaseURL: srv.URL}, rdb)
	st := p.Status(context.Background())
	assert.False(t, st.Online)
	assert.Equal(t, 64, st.MaxPlayers)
	assert.NotEmpty(t, st.Error)
	assert.False(t, mr.Exists(cacheKey))
}

func TestStatus_WithoutRedis(t *testing.T) {
	var hits int32
	srv := fakeServer(t, &hits, http.StatusOK)

	st := NewPoller(Config{BaseURL: srv.URL}, nil).Status(context.Background())
	require.True(t, st.Online)
	assert.Equal(t, 3, st.Players)
}

func TestNewPoller_BuildsURL(t *testing.T) {
	assert.Equal(t, "http://10.0.0.5:30120", NewPoller(Config{Host: "10.0.0.5"}, nil).baseURL)
	assert.Equal(t, "http://10.0.0.5:30121", NewPoller(Config{Host: "10.0.0.5", Port: 30121}, nil).baseURL)
}
