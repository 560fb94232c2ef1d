// Package gamestatus reports the FiveM server's player count.
package gamestatus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Grisenxx/divisionwebsite/internal/cache"
	"github.com/Grisenxx/divisionwebsite/internal/middleware"
	"github.com/Grisenxx/divisionwebsite/internal/observability"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPort is the FiveM HTTP port.
	DefaultPort = 30120
	// DefaultMaxPlayers is reported when the server does not say.
	DefaultMaxPlayers = 64
	// DefaultServerName is reported when the server does not say.
	DefaultServerName = "FiveM Server"

	cacheKey = "serverstatus:fivem"
	cacheTTL = 15 * time.Second
	timeout  = 10 * time.Second

	errNotConfigured = "Server ikke konfigureret"
	errUnreachable   = "Kunne ikke hente server status"
)

// Status is the public server status document.
type Status struct {
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
	Online     bool   `json:"online"`
	ServerName string `json:"serverName"`
	Error      string `json:"error,omitempty"`
}

// Config locates the game server.
type Config struct {
	Host string
	Port int
	// BaseURL overrides http://Host:Port.
	BaseURL string
}

// Poller fetches and caches the server status.
type Poller struct {
	baseURL string
	client  *http.Client
	rdb     *redis.Client
}

// NewPoller returns a Poller. rdb may be nil.
func NewPoller(cfg Config, rdb *redis.Client) *Poller {
	base := cfg.BaseURL
	if base == "" && cfg.Host != "" {
		port := cfg.Port
		if port == 0 {
			port = DefaultPort
		}
		base = "http://" + net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	}
	return &Poller{
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
		rdb:     rdb,
	}
}

func offline(reason string) Status {
	return Status{MaxPlayers: DefaultMaxPlayers, ServerName: DefaultServerName, Error: reason}
}

// Status returns the current status. It never fails: problems are reported
// as an offline status. Only online results are cached.
func (p *Poller) Status(ctx context.Context) Status {
	if p.baseURL == "" {
		return offline(errNotConfigured)
	}

	var st Status
	_ = cache.Aside(ctx, p.rdb, cacheKey, &st, cacheTTL, func() (bool, error) {
		st = p.fetch(ctx)
		return st.Online, nil
	})
	return st
}

type infoDoc struct {
	Vars struct {
		MaxClients  string `json:"sv_maxClients"`
		ProjectName string `json:"sv_projectName"`
	} `json:"vars"`
}

func (p *Poller) fetch(ctx context.Context) Status {
	ctx, span := observability.StartClientSpan(ctx, "fivem", "status")

	var players []json.RawMessage
	var info infoDoc
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.getJSON(gctx, "/players.json", &players) })
	g.Go(func() error { return p.getJSON(gctx, "/info.json", &info) })
	err := g.Wait()
	observability.EndSpan(span, err)

	if err != nil {
		middleware.Logger.WarnContext(ctx, "fivem status unavailable", slog.String("error", err.Error()))
		return offline(errUnreachable)
	}

	st := Status{
		Players:    len(players),
		MaxPlayers: DefaultMaxPlayers,
		Online:     true,
		ServerName: DefaultServerName,
	}
	if n, err := strconv.Atoi(info.Vars.MaxClients); err == nil && n > 0 {
		st.MaxPlayers = n
	}
	if info.Vars.ProjectName != "" {
		st.ServerName = info.Vars.ProjectName
	}
	return st
}

func (p *Poller) getJSON(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
