package microservice_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/illmade-knight/go-catalogadmin/pkg/microservice"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseServer_StartAndShutdown(t *testing.T) {
	server := microservice.NewBaseServer(zerolog.Nop(), "127.0.0.1:0")
	require.NoError(t, server.Start())

	resp, err := http.Get("http://" + server.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
	assert.NotEmpty(t, resp.Header.Get(microservice.RequestIDHeader))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, server.Shutdown(ctx))
}

func TestBaseServer_MiddlewareOrderAndRequestID(t *testing.T) {
	var order []string
	mark := func(name string) microservice.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	var buf bytes.Buffer
	server := microservice.NewBaseServer(zerolog.New(&buf), ":0", mark("first"), mark("second"))

	var seenID string
	server.Mux().HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		seenID = microservice.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set(microservice.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, "req-42", seenID)
	assert.Equal(t, "req-42", rec.Header().Get(microservice.RequestIDHeader))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"request_id":"req-42"`)
}
