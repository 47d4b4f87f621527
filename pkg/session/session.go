// Package session holds the operator's authentication state. A single Holder is
// the only reader and writer of both places the token lives: the admin_token
// cookie slot used by requests and the route guard, and the display slot that
// mirrors the login response for presentation.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/illmade-knight/go-catalogadmin/pkg/cache"
	"github.com/rs/zerolog"
)

const (
	// DefaultCookieName is the cookie the backend token is stored under.
	DefaultCookieName = "admin_token"
	// DefaultLifetime applies when the token carries no exp claim.
	DefaultLifetime = 24 * time.Hour

	displaySlotKey = "user"
)

// ErrNoSession is returned by Profile when nobody is logged in.
var ErrNoSession = errors.New("no active session")

// Profile is the display slot content: the token plus the raw auth response.
type Profile struct {
	Token     string          `json:"token"`
	User      json.RawMessage `json:"user,omitempty"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Config controls the cookie slot.
type Config struct {
	CookieName string
	Lifetime   time.Duration
	Path       string
	Secure     bool
}

// Holder is the process-wide session holder.
type Holder struct {
	cookieName string
	lifetime   time.Duration
	path       string
	secure     bool
	display    cache.Store[string, Profile]
	logger     zerolog.Logger
	now        func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// NewHolder creates a Holder whose display slot is persisted in display.
func NewHolder(cfg Config, display cache.Store[string, Profile], logger zerolog.Logger) (*Holder, error) {
	if display == nil {
		return nil, errors.New("display store cannot be nil")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultLifetime
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return &Holder{
		cookieName: cfg.CookieName,
		lifetime:   cfg.Lifetime,
		path:       cfg.Path,
		secure:     cfg.Secure,
		display:    display,
		logger:     logger.With().Str("component", "SessionHolder").Logger(),
		now:        time.Now,
	}, nil
}

// Token returns the current bearer token, if any and not expired.
func (h *Holder) Token() (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.token == "" || !h.now().Before(h.expiresAt) {
		return "", false
	}
	return h.token, true
}

// Authenticated reports whether a usable token is held.
func (h *Holder) Authenticated() bool {
	_, ok := h.Token()
	return ok
}

// Set stores the token in the cookie slot and mirrors it, together with the raw
// auth response, into the display slot.
func (h *Holder) Set(ctx context.Context, token string, user json.RawMessage) error {
	if token == "" {
		return errors.New("token cannot be empty")
	}
	expiresAt := h.expiry(token)
	profile := Profile{Token: token, User: user, ExpiresAt: expiresAt}
	if err := h.display.Write(ctx, displaySlotKey, profile); err != nil {
		return fmt.Errorf("failed to write display slot: %w", err)
	}

	h.mu.Lock()
	h.token = token
	h.expiresAt = expiresAt
	h.mu.Unlock()

	h.logger.Info().Time("expires_at", expiresAt).Msg("Session established.")
	return nil
}

// Clear empties both slots.
func (h *Holder) Clear(ctx context.Context) error {
	h.mu.Lock()
	h.token = ""
	h.expiresAt = time.Time{}
	h.mu.Unlock()

	if err := h.display.Invalidate(ctx, displaySlotKey); err != nil {
		return fmt.Errorf("failed to clear display slot: %w", err)
	}
	h.logger.Info().Msg("Session cleared.")
	return nil
}

// Profile returns the display slot content.
func (h *Holder) Profile(ctx context.Context) (Profile, error) {
	if !h.Authenticated() {
		return Profile{}, ErrNoSession
	}
	p, err := h.display.Fetch(ctx, displaySlotKey)
	if err != nil {
		if cache.IsNotFound(err) {
			return Profile{}, ErrNoSession
		}
		return Profile{}, fmt.Errorf("failed to read display slot: %w", err)
	}
	return p, nil
}

// Restore reloads the cookie slot from a persisted display slot, e.g. after a
// restart with a Redis-backed store. Expired profiles are discarded.
func (h *Holder) Restore(ctx context.Context) error {
	p, err := h.display.Fetch(ctx, displaySlotKey)
	if err != nil {
		if cache.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to read display slot: %w", err)
	}
	if p.Token == "" || !h.now().Before(p.ExpiresAt) {
		return h.Clear(ctx)
	}
	h.mu.Lock()
	h.token = p.Token
	h.expiresAt = p.ExpiresAt
	h.mu.Unlock()
	h.logger.Info().Time("expires_at", p.ExpiresAt).Msg("Session restored from display slot.")
	return nil
}

// CookieName returns the name of the cookie slot.
func (h *Holder) CookieName() string {
	return h.cookieName
}

// Cookie returns the cookie to write on a response so the route guard sees the
// session. It returns nil when no session is held.
func (h *Holder) Cookie() *http.Cookie {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.token == "" {
		return nil
	}
	return &http.Cookie{
		Name:     h.cookieName,
		Value:    h.token,
		Path:     h.path,
		Expires:  h.expiresAt,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ExpiredCookie returns a cookie that removes the cookie slot from a browser.
func (h *Holder) ExpiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:   h.cookieName,
		Value:  "",
		Path:   h.path,
		MaxAge: -1,
		Secure: h.secure,
	}
}

// TokenFromRequest reads the cookie slot from an incoming request.
func (h *Holder) TokenFromRequest(r *http.Request) (string, bool) {
	c, err := r.Cookie(h.cookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// expiry uses the token's exp claim when it is a JWT. The signature is not
// verified: the backend remains the authority on validity.
func (h *Holder) expiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return h.now().Add(h.lifetime)
}
