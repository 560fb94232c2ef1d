// Package discord is a small REST client for the Discord endpoints the
// application uses: OAuth2, users, guild members, channels and webhooks.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Grisenxx/divisionwebsite/internal/observability"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the versioned Discord REST API root.
const DefaultBaseURL = "https://discord.com/api/v10"

// OAuthScopes requested at login.
var OAuthScopes = []string{"identify", "guilds.members.read"}

// Permission bits used for channel overwrites.
const (
	PermissionViewChannel = 1 << 10
)

// Overwrite target types.
const (
	OverwriteRole   = 0
	OverwriteMember = 1
)

// ErrUnauthorized is returned when Discord rejects the presented credential.
var ErrUnauthorized = errors.New("discord: unauthorized")

// APIError is a non-success response from Discord.
type APIError struct {
	Operation string
	Status    int
	Body      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord %s: status %d: %s", e.Operation, e.Status, e.Body)
}

// Config holds client credentials.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	BotToken     string
	GuildID      string
	Timeout      time.Duration
}

// Client talks to the Discord REST API.
type Client struct {
	cfg   Config
	http  *http.Client
	oauth *oauth2.Config
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient returns a Client for cfg.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       OAuthScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.BaseURL + "/oauth2/authorize",
				TokenURL:  cfg.BaseURL + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GuildID returns the configured guild.
func (c *Client) GuildID() string {
	return c.cfg.GuildID
}

// AuthCodeURL returns the authorize URL carrying state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for a user access token.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, span := observability.StartClientSpan(ctx, "discord", "oauth2.token")
	start := time.Now()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := c.oauth.Exchange(ctx, code)
	status := "ok"
	if err != nil {
		status = "error"
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
			err = fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}
	observability.ObserveDiscord("oauth2.token", status, start)
	observability.EndSpan(span, err)
	return tok, err
}

// User is a Discord account.
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
}

// DisplayName prefers the global display name.
func (u User) DisplayName() string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// Member is a guild membership.
type Member struct {
	User  *User    `json:"user,omitempty"`
	Nick  string   `json:"nick,omitempty"`
	Roles []string `json:"roles"`
}

// CurrentUser returns the identity behind a user access token.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*User, error) {
	var u User
	if err := c.do(ctx, "users.me", http.MethodGet, "/users/@me", "Bearer "+accessToken, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GuildMember fetches userID's current membership using the bot token.
// A user who is not in the guild yields a Member with no roles.
func (c *Client) GuildMember(ctx context.Context, userID string) (*Member, error) {
	var m Member
	path := fmt.Sprintf("/guilds/%s/members/%s", url.PathEscape(c.cfg.GuildID), url.PathEscape(userID))
	err := c.do(ctx, "guilds.member", http.MethodGet, path, c.bot(), nil, &m)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return &Member{Roles: []string{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// AddRole grants roleID to userID.
func (c *Client) AddRole(ctx context.Context, userID, roleID string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s",
		url.PathEscape(c.cfg.GuildID), url.PathEscape(userID), url.PathEscape(roleID))
	return c.do(ctx, "guilds.member.role", http.MethodPut, path, c.bot(), nil, nil)
}

// PermissionOverwrite scopes a channel to a role or member.
type PermissionOverwrite struct {
	ID    string `json:"id"`
	Type  int    `json:"type"`
	Allow string `json:"allow,omitempty"`
	Deny  string `json:"deny,omitempty"`
}

// CreateChannelRequest describes a guild text channel.
type CreateChannelRequest struct {
	Name                 string                `json:"name"`
	Type                 int                   `json:"type"`
	ParentID             string                `json:"parent_id,omitempty"`
	PermissionOverwrites []PermissionOverwrite `json:"permission_overwrites,omitempty"`
}

// Channel is a Discord channel.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// CreateChannel creates a channel in the configured guild.
func (c *Client) CreateChannel(ctx context.Context, req CreateChannelRequest) (*Channel, error) {
	var ch Channel
	path := fmt.Sprintf("/guilds/%s/channels", url.PathEscape(c.cfg.GuildID))
	if err := c.do(ctx, "guilds.channels", http.MethodPost, path, c.bot(), req, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// CreateDM opens a direct message channel with userID.
func (c *Client) CreateDM(ctx context.Context, userID string) (*Channel, error) {
	var ch Channel
	body := map[string]string{"recipient_id": userID}
	if err := c.do(ctx, "users.channels", http.MethodPost, "/users/@me/channels", c.bot(), body, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// AllowedMentions restricts who a message may ping.
type AllowedMentions struct {
	Parse []string `json:"parse"`
	Users []string `json:"users,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Message is an outbound channel or webhook message.
type Message struct {
	Content         string           `json:"content"`
	Username        string           `json:"username,omitempty"`
	AllowedMentions *AllowedMentions `json:"allowed_mentions,omitempty"`
}

// SendMessage posts msg to channelID.
func (c *Client) SendMessage(ctx context.Context, channelID string, msg Message) error {
	path := fmt.Sprintf("/channels/%s/messages", url.PathEscape(channelID))
	return c.do(ctx, "channels.messages", http.MethodPost, path, c.bot(), msg, nil)
}

// ExecuteWebhook posts msg to a webhook URL.
func (c *Client) ExecuteWebhook(ctx context.Context, webhookURL string, msg Message) error {
	if webhookURL == "" {
		return errors.New("webhook url is empty")
	}
	return c.doURL(ctx, "webhook", http.MethodPost, webhookURL, "", msg, nil)
}

func (c *Client) bot() string {
	return "Bot " + c.cfg.BotToken
}

func (c *Client) do(ctx context.Context, op, method, path, auth string, in, out any) error {
	return c.doURL(ctx, op, method, c.cfg.BaseURL+path, auth, in, out)
}

func (c *Client) doURL(ctx context.Context, op, method, endpoint, auth string, in, out any) (err error) {
	ctx, span := observability.StartClientSpan(ctx, "discord", op)
	start := time.Now()
	status := "error"
	defer func() {
		observability.ObserveDiscord(op, status, start)
		observability.EndSpan(span, err)
	}()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("discord %s: %w", op, err)
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrUnauthorized, op)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Operation: op, Status: resp.StatusCode, Body: string(b)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", op, err)
	}
	return nil
}
