// Package guard is the request-time route guard: it only checks whether the
// session cookie is present and redirects accordingly. Token validity is left
// to the backend.
package guard

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultExcludedPrefixes are passed through untouched.
var DefaultExcludedPrefixes = []string{"/api", "/_next/static", "/_next/image", "/favicon.ico", "/healthz"}

// Config holds configuration for the guard.
type Config struct {
	ProtectedPrefix string
	LoginPath       string
	HomePath        string
	// AuthPaths are the pages an authenticated operator is sent away from.
	AuthPaths        []string
	ExcludedPrefixes []string
}

// NewConfigDefaults returns the guard configuration of the admin console.
func NewConfigDefaults() Config {
	return Config{
		ProtectedPrefix:  "/dashboard",
		LoginPath:        "/login",
		HomePath:         "/dashboard",
		AuthPaths:        []string{"/login", "/register"},
		ExcludedPrefixes: DefaultExcludedPrefixes,
	}
}

// TokenReader reads the session token carried by a request. It is satisfied
// by *session.Holder, which owns the cookie slot.
type TokenReader interface {
	TokenFromRequest(r *http.Request) (string, bool)
}

// Guard redirects requests based on the presence of the session cookie.
type Guard struct {
	cfg    Config
	tokens TokenReader
	logger zerolog.Logger
}

// New creates a Guard. Empty fields of cfg take their defaults.
func New(cfg Config, tokens TokenReader, logger zerolog.Logger) (*Guard, error) {
	if tokens == nil {
		return nil, errors.New("token reader cannot be nil")
	}
	defaults := NewConfigDefaults()
	if cfg.ProtectedPrefix == "" {
		cfg.ProtectedPrefix = defaults.ProtectedPrefix
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = defaults.LoginPath
	}
	if cfg.HomePath == "" {
		cfg.HomePath = defaults.HomePath
	}
	if cfg.AuthPaths == nil {
		cfg.AuthPaths = defaults.AuthPaths
	}
	if cfg.ExcludedPrefixes == nil {
		cfg.ExcludedPrefixes = defaults.ExcludedPrefixes
	}
	return &Guard{
		cfg:    cfg,
		tokens: tokens,
		logger: logger.With().Str("component", "RouteGuard").Logger(),
	}, nil
}

// Decision is the outcome of checking one request.
type Decision struct {
	Redirect bool
	Location string
}

// Check decides what to do with a request for path, given whether the session
// cookie is present.
func (g *Guard) Check(path string, hasToken bool) Decision {
	for _, prefix := range g.cfg.ExcludedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return Decision{}
		}
	}
	if !hasToken && strings.HasPrefix(path, g.cfg.ProtectedPrefix) {
		return Decision{Redirect: true, Location: g.cfg.LoginPath}
	}
	if hasToken {
		for _, p := range g.cfg.AuthPaths {
			if path == p {
				return Decision{Redirect: true, Location: g.cfg.HomePath}
			}
		}
	}
	return Decision{}
}

// Middleware wraps next with the guard. Redirects use 307 so the method is kept.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasToken := g.tokens.TokenFromRequest(r)
		d := g.Check(r.URL.Path, hasToken)
		if d.Redirect {
			g.logger.Debug().
				Str("path", r.URL.Path).
				Bool("has_token", hasToken).
				Str("location", d.Location).
				Msg("Redirecting request.")
			http.Redirect(w, r, d.Location, http.StatusTemporaryRedirect)
			return
		}
		next.ServeHTTP(w, r)
	})
}
