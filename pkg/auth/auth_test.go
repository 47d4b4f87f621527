package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/illmade-knight/go-catalogadmin/pkg/apiclient"
	"github.com/illmade-knight/go-catalogadmin/pkg/auth"
	"github.com/illmade-knight/go-catalogadmin/pkg/cache"
	"github.com/illmade-knight/go-catalogadmin/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, handler http.HandlerFunc) (*auth.Service, *session.Holder, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	holder, err := session.NewHolder(session.Config{}, cache.NewInMemoryCache[string, session.Profile](), zerolog.Nop())
	require.NoError(t, err)
	client, err := apiclient.New(apiclient.Config{BaseURL: srv.URL + "/api"}, holder, zerolog.Nop())
	require.NoError(t, err)
	svc, err := auth.NewService(client, holder, zerolog.Nop())
	require.NoError(t, err)
	return svc, holder, &calls
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("Success stores the token in both slots", func(t *testing.T) {
		var got auth.Credentials
		var path string
		svc, holder, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			_ = json.NewDecoder(r.Body).Decode(&got)
			_, _ = w.Write([]byte(`{"token":"tok-9","email":"ops@shop.test","role":"admin"}`))
		})

		res, err := svc.Login(ctx, auth.Credentials{Email: " ops@shop.test ", Password: "pw"})

		require.NoError(t, err)
		assert.Equal(t, "/api/auth/login", path)
		assert.Equal(t, "ops@shop.test", got.Email)
		assert.Equal(t, "tok-9", res.Token)
		token, ok := holder.Token()
		assert.True(t, ok)
		assert.Equal(t, "tok-9", token)
		profile, err := holder.Profile(ctx)
		require.NoError(t, err)
		assert.JSONEq(t, `{"token":"tok-9","email":"ops@shop.test","role":"admin"}`, string(profile.User))
	})

	t.Run("Server message is surfaced", func(t *testing.T) {
		svc, holder, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"Wrong password"}`))
		})

		_, err := svc.Login(ctx, auth.Credentials{Email: "a@b.c", Password: "x"})

		require.Error(t, err)
		assert.Equal(t, "Wrong password", apiclient.Message(err, ""))
		assert.Equal(t, http.StatusUnauthorized, apiclient.StatusCode(err))
		assert.False(t, holder.Authenticated())
	})

	t.Run("Fallback message without a server message", func(t *testing.T) {
		svc, _, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		_, err := svc.Login(ctx, auth.Credentials{Email: "a@b.c", Password: "x"})

		assert.Equal(t, "Invalid credentials", apiclient.Message(err, ""))
	})

	t.Run("Missing token is an error", func(t *testing.T) {
		svc, holder, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"ok":true}`))
		})

		_, err := svc.Login(ctx, auth.Credentials{Email: "a@b.c", Password: "x"})

		assert.True(t, apiclient.IsKind(err, apiclient.KindDecode))
		assert.False(t, holder.Authenticated())
	})

	t.Run("Token of the wrong type is a decode error", func(t *testing.T) {
		svc, holder, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"token":42}`))
		})

		_, err := svc.Login(ctx, auth.Credentials{Email: "a@b.c", Password: "x"})

		assert.True(t, apiclient.IsKind(err, apiclient.KindDecode))
		assert.Equal(t, "Invalid credentials", apiclient.Message(err, ""))
		assert.False(t, holder.Authenticated())
	})

	t.Run("Empty fields never reach the network", func(t *testing.T) {
		svc, _, calls := setup(t, func(w http.ResponseWriter, r *http.Request) {})

		_, err := svc.Login(ctx, auth.Credentials{Email: " "})

		assert.True(t, apiclient.IsKind(err, apiclient.KindValidation))
		assert.Zero(t, calls.Load())
	})
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("Password mismatch never reaches the network", func(t *testing.T) {
		svc, holder, calls := setup(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"token":"t"}`))
		})

		_, err := svc.Register(ctx, auth.Registration{Username: "ops", Email: "a@b.c", Password: "one", ConfirmPassword: "two"})

		require.Error(t, err)
		assert.True(t, apiclient.IsKind(err, apiclient.KindValidation))
		assert.Equal(t, "Passwords do not match", apiclient.Message(err, ""))
		assert.Zero(t, calls.Load())
		assert.False(t, holder.Authenticated())
	})

	t.Run("Success posts username, email and password only", func(t *testing.T) {
		var body map[string]any
		var path string
		svc, holder, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			_ = json.NewDecoder(r.Body).Decode(&body)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"token":"new-token"}`))
		})

		_, err := svc.Register(ctx, auth.Registration{Username: "ops", Email: "a@b.c", Password: "pw", ConfirmPassword: "pw"})

		require.NoError(t, err)
		assert.Equal(t, "/api/admin/auth/register", path)
		assert.Equal(t, map[string]any{"username": "ops", "email": "a@b.c", "password": "pw"}, body)
		assert.True(t, holder.Authenticated())
	})

	t.Run("Fallback message", func(t *testing.T) {
		svc, _, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{}`))
		})

		_, err := svc.Register(ctx, auth.Registration{Email: "a@b.c", Password: "pw", ConfirmPassword: "pw"})

		assert.Equal(t, "Registration failed", apiclient.Message(err, ""))
	})
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	svc, holder, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"tok"}`))
	})
	_, err := svc.Login(ctx, auth.Credentials{Email: "a@b.c", Password: "pw"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx))

	assert.False(t, holder.Authenticated())
	_, err = holder.Profile(ctx)
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestUnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	holder, err := session.NewHolder(session.Config{}, cache.NewInMemoryCache[string, session.Profile](), zerolog.Nop())
	require.NoError(t, err)
	client, err := apiclient.New(apiclient.Config{BaseURL: srv.URL + "/api"}, holder, zerolog.Nop())
	require.NoError(t, err)
	svc, err := auth.NewService(client, holder, zerolog.Nop())
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), auth.Credentials{Email: "a@b.c", Password: "pw"})

	assert.Equal(t, "Unable to connect to the server.", apiclient.Message(err, ""))
	assert.Equal(t, http.StatusBadGateway, apiclient.StatusCode(err))
}
