// Package auth logs the operator in and out against the catalog backend. Every
// successful login or registration is written through the session holder.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/illmade-knight/go-catalogadmin/pkg/apiclient"
	"github.com/rs/zerolog"
)

const (
	loginPath    = "/auth/login"
	registerPath = "/admin/auth/register"

	msgInvalidCredentials = "Invalid credentials"
	msgRegistrationFailed = "Registration failed"
	msgUnreachable        = "Unable to connect to the server."
	msgPasswordMismatch   = "Passwords do not match"
)

// Doer is the part of *apiclient.Client auth needs.
type Doer interface {
	DoJSON(ctx context.Context, r apiclient.Request, out any) error
}

// SessionWriter is the part of *session.Holder auth writes through.
type SessionWriter interface {
	Set(ctx context.Context, token string, user json.RawMessage) error
	Clear(ctx context.Context) error
}

// Credentials are the login form.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the register form. ConfirmPassword never leaves the process.
type Registration struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"-"`
}

// Result is the backend's auth response. Raw keeps the full body for the
// session display slot.
type Result struct {
	Token string          `json:"token"`
	Raw   json.RawMessage `json:"-"`
}

// UnmarshalJSON reads the token and keeps the whole body in Raw.
func (r *Result) UnmarshalJSON(data []byte) error {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}
	r.Token = body.Token
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Service performs the auth calls.
type Service struct {
	client  Doer
	session SessionWriter
	logger  zerolog.Logger
}

// NewService creates a Service.
func NewService(client Doer, session SessionWriter, logger zerolog.Logger) (*Service, error) {
	if client == nil {
		return nil, errors.New("api client cannot be nil")
	}
	if session == nil {
		return nil, errors.New("session writer cannot be nil")
	}
	return &Service{
		client:  client,
		session: session,
		logger:  logger.With().Str("component", "AuthService").Logger(),
	}, nil
}

// Login posts the credentials and stores the returned token.
func (s *Service) Login(ctx context.Context, c Credentials) (*Result, error) {
	c.Email = strings.TrimSpace(c.Email)
	if c.Email == "" || c.Password == "" {
		return nil, apiclient.NewValidationError("Email and password are required")
	}
	res, err := s.authenticate(ctx, loginPath, c, msgInvalidCredentials)
	if err != nil {
		s.logger.Warn().Err(err).Str("email", c.Email).Msg("Login failed.")
		return nil, err
	}
	s.logger.Info().Str("email", c.Email).Msg("Operator logged in.")
	return res, nil
}

// Register checks that both passwords match, without any network call when
// they do not, then creates the account and stores the returned token.
func (s *Service) Register(ctx context.Context, r Registration) (*Result, error) {
	if r.Password != r.ConfirmPassword {
		return nil, apiclient.NewValidationError(msgPasswordMismatch)
	}
	r.Email = strings.TrimSpace(r.Email)
	r.Username = strings.TrimSpace(r.Username)
	if r.Email == "" || r.Password == "" {
		return nil, apiclient.NewValidationError("Email and password are required")
	}
	res, err := s.authenticate(ctx, registerPath, r, msgRegistrationFailed)
	if err != nil {
		s.logger.Warn().Err(err).Str("email", r.Email).Msg("Registration failed.")
		return nil, err
	}
	s.logger.Info().Str("email", r.Email).Str("username", r.Username).Msg("Operator registered.")
	return res, nil
}

// Logout clears the session.
func (s *Service) Logout(ctx context.Context) error {
	return s.session.Clear(ctx)
}

func (s *Service) authenticate(ctx context.Context, path string, body any, fallback string) (*Result, error) {
	var res Result
	if err := s.client.DoJSON(ctx, apiclient.Request{Method: http.MethodPost, Path: path, Body: body}, &res); err != nil {
		return nil, withMessage(err, fallback)
	}
	if res.Token == "" {
		return nil, &apiclient.Error{Kind: apiclient.KindDecode, Message: fallback, Err: errors.New("response carries no token")}
	}
	if err := s.session.Set(ctx, res.Token, res.Raw); err != nil {
		return nil, err
	}
	return &res, nil
}

// withMessage fills in the user-facing message the backend did not send.
func withMessage(err error, fallback string) error {
	ae, ok := apiclient.AsError(err)
	if !ok || ae.Message != "" {
		return err
	}
	out := *ae
	if out.Kind == apiclient.KindNetwork {
		out.Message = msgUnreachable
	} else {
		out.Message = fallback
	}
	return &out
}
