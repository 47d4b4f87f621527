package apiclient_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/illmade-knight/go-catalogadmin/pkg/apiclient"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token() (string, bool) { return string(s), s != "" }

func newClient(t *testing.T, srv *httptest.Server, tokens apiclient.TokenSource) *apiclient.Client {
	t.Helper()
	c, err := apiclient.New(apiclient.Config{BaseURL: srv.URL + "/api"}, tokens, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestClient_Do(t *testing.T) {
	ctx := context.Background()

	t.Run("Bearer header attached when a token exists", func(t *testing.T) {
		var gotAuth, gotPath, gotQuery string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotPath = r.URL.Path
			gotQuery = r.URL.RawQuery
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		t.Cleanup(srv.Close)

		c := newClient(t, srv, staticToken("tok-1"))
		raw, err := c.Do(ctx, apiclient.Request{Path: "/admin/products", Params: map[string][]string{"page": {"2"}}})

		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(raw))
		assert.Equal(t, "Bearer tok-1", gotAuth)
		assert.Equal(t, "/api/admin/products", gotPath)
		assert.Equal(t, "page=2", gotQuery)
	})

	t.Run("No header without a token", func(t *testing.T) {
		var sawAuth bool
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, sawAuth = r.Header["Authorization"]
			w.WriteHeader(http.StatusNoContent)
		}))
		t.Cleanup(srv.Close)

		c := newClient(t, srv, staticToken(""))
		raw, err := c.Do(ctx, apiclient.Request{Method: http.MethodDelete, Path: "admin/products/1"})

		require.NoError(t, err)
		assert.Nil(t, raw)
		assert.False(t, sawAuth)
	})

	t.Run("JSON body", func(t *testing.T) {
		var got map[string]string
		var contentType string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			contentType = r.Header.Get("Content-Type")
			_ = json.NewDecoder(r.Body).Decode(&got)
			_, _ = w.Write([]byte(`{}`))
		}))
		t.Cleanup(srv.Close)

		c := newClient(t, srv, nil)
		_, err := c.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: "/auth/login", Body: map[string]string{"email": "a@b.c"}})

		require.NoError(t, err)
		assert.Equal(t, "application/json", contentType)
		assert.Equal(t, "a@b.c", got["email"])
	})

	t.Run("Non-2xx becomes an http error with the server message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"Product already exists"}`))
		}))
		t.Cleanup(srv.Close)

		c := newClient(t, srv, nil)
		_, err := c.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: "/admin/products"})

		require.Error(t, err)
		ae, ok := apiclient.AsError(err)
		require.True(t, ok)
		assert.Equal(t, apiclient.KindHTTP, ae.Kind)
		assert.Equal(t, http.StatusConflict, ae.Status)
		assert.Equal(t, "Product already exists", ae.Message)
		assert.Equal(t, http.StatusConflict, apiclient.StatusCode(err))
	})

	t.Run("Error field is used when message is absent", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid token"}`))
		}))
		t.Cleanup(srv.Close)

		c := newClient(t, srv, nil)
		_, err := c.Do(ctx, apiclient.Request{Path: "/admin/products"})

		assert.Equal(t, "invalid token", apiclient.Message(err, "fallback"))
	})

	t.Run("Non-JSON error body keeps the status only", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		t.Cleanup(srv.Close)

		c := newClient(t, srv, nil)
		_, err := c.Do(ctx, apiclient.Request{Path: "/admin/products"})

		ae, ok := apiclient.AsError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusInternalServerError, ae.Status)
		assert.Empty(t, ae.Message)
		assert.Nil(t, ae.Data)
	})

	t.Run("Unreachable backend is a network error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		c := newClient(t, srv, nil)
		srv.Close()

		_, err := c.Do(ctx, apiclient.Request{Path: "/admin/products"})

		assert.True(t, apiclient.IsKind(err, apiclient.KindNetwork))
		assert.Equal(t, http.StatusBadGateway, apiclient.StatusCode(err))
	})

	t.Run("Invalid JSON success body is a decode error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}))
		t.Cleanup(srv.Close)

		c := newClient(t, srv, nil)
		_, err := c.Do(ctx, apiclient.Request{Path: "/admin/products"})

		assert.True(t, apiclient.IsKind(err, apiclient.KindDecode))
	})
}

func TestClient_Multipart(t *testing.T) {
	ctx := context.Background()

	var fields map[string][]string
	var fileName, fileType string
	var fileData []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		fields = r.MultipartForm.Value
		fh := r.MultipartForm.File["mediaFiles"][0]
		fileName = fh.Filename
		fileType = fh.Header.Get("Content-Type")
		f, err := fh.Open()
		require.NoError(t, err)
		fileData, _ = io.ReadAll(f)
		_, _ = w.Write([]byte(`{"_id":"p1"}`))
	}))
	t.Cleanup(srv.Close)

	body := &apiclient.Multipart{}
	body.Add("name", "Desk Lamp")
	body.Add("specifications", `[{"key":"Color","value":"Black"}]`)
	body.AddFile("mediaFiles", "lamp.png", "image/png", []byte("png-bytes"))

	c := newClient(t, srv, nil)
	raw, err := c.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: "/admin/products", Body: body})

	require.NoError(t, err)
	assert.JSONEq(t, `{"_id":"p1"}`, string(raw))
	assert.Equal(t, []string{"Desk Lamp"}, fields["name"])
	assert.Equal(t, []string{`[{"key":"Color","value":"Black"}]`}, fields["specifications"])
	assert.Equal(t, "lamp.png", fileName)
	assert.Equal(t, "image/png", fileType)
	assert.Equal(t, []byte("png-bytes"), fileData)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := apiclient.New(apiclient.Config{}, nil, zerolog.Nop())
	assert.Error(t, err)
}
