// Package session keeps Discord login sessions in Redis. The browser cookie
// carries a signed token naming the session; the Discord access token never
// leaves the server and is sealed at rest.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// CookieName is the name of the session cookie.
	CookieName = "session"
	// DefaultTTL is the session lifetime.
	DefaultTTL = 7 * 24 * time.Hour

	issuer    = "divisionwebsite"
	keyPrefix = "session:"
)

var (
	// ErrNoSession is returned when the token names no live session.
	ErrNoSession = errors.New("session not found")
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid session token")
)

// Session is a logged-in Discord user.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	Avatar      string    `json:"avatar,omitempty"`
	AccessToken string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type record struct {
	Session
	SealedToken string `json:"sealedToken"`
}

type claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Store persists sessions.
type Store struct {
	rdb        *redis.Client
	signingKey []byte
	sealKey    [32]byte
	ttl        time.Duration
	now        func() time.Time
}

// NewStore derives signing and sealing keys from secret.
func NewStore(rdb *redis.Client, secret string, ttl time.Duration) (*Store, error) {
	if len(secret) < 16 {
		return nil, errors.New("session secret too short")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s := &Store{rdb: rdb, ttl: ttl, now: time.Now}
	s.signingKey = make([]byte, 32)
	if err := derive(secret, "session-signing", s.signingKey); err != nil {
		return nil, err
	}
	if err := derive(secret, "session-sealing", s.sealKey[:]); err != nil {
		return nil, err
	}
	return s, nil
}

func derive(secret, info string, out []byte) error {
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		return fmt.Errorf("derive %s key: %w", info, err)
	}
	return nil
}

// TTL returns the session lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create stores a new session and returns the cookie token.
func (s *Store) Create(ctx context.Context, userID, username, avatar, accessToken string) (string, *Session, error) {
	now := s.now()
	sess := Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		Username:    username,
		Avatar:      avatar,
		AccessToken: accessToken,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}

	sealed, err := s.seal(accessToken)
	if err != nil {
		return "", nil, err
	}
	data, err := json.Marshal(record{Session: sess, SealedToken: sealed})
	if err != nil {
		return "", nil, fmt.Errorf("marshal session: %w", err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+sess.ID, data, s.ttl).Err(); err != nil {
		return "", nil, fmt.Errorf("store session: %w", err)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		SessionID: sess.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}).SignedString(s.signingKey)
	if err != nil {
		return "", nil, fmt.Errorf("sign session: %w", err)
	}
	return token, &sess, nil
}

// Lookup resolves a cookie token to its live session.
func (s *Store) Lookup(ctx context.Context, token string) (*Session, error) {
	sid, sub, err := s.parse(token)
	if err != nil {
		return nil, err
	}

	data, err := s.rdb.Get(ctx, keyPrefix+sid).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if rec.UserID != sub || rec.ID != sid {
		return nil, ErrInvalidToken
	}
	accessToken, err := s.unseal(rec.SealedToken)
	if err != nil {
		return nil, err
	}
	sess := rec.Session
	sess.AccessToken = accessToken
	return &sess, nil
}

// Destroy deletes the session named by token. Unknown tokens are ignored.
func (s *Store) Destroy(ctx context.Context, token string) error {
	sid, _, err := s.parse(token)
	if err != nil {
		return nil
	}
	return s.rdb.Del(ctx, keyPrefix+sid).Err()
}

func (s *Store) parse(token string) (sid, sub string, err error) {
	if token == "" {
		return "", "", ErrNoSession
	}
	var c claims
	_, err = jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.SessionID == "" || c.Subject == "" {
		return "", "", ErrInvalidToken
	}
	return c.SessionID, c.Subject, nil
}

func (s *Store) seal(plain string) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("seal: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.sealKey)
	return base64.RawStdEncoding.EncodeToString(out), nil
}

func (s *Store) unseal(sealed string) (string, error) {
	raw, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < 24 {
		return "", ErrInvalidToken
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &s.sealKey)
	if !ok {
		return "", ErrInvalidToken
	}
	return string(plain), nil
}
