package main

import (
	"context"
	"net/http"
	"testing"

	"github.com/illmade-knight/go-catalogadmin/pkg/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApp_MemoryWiring(t *testing.T) {
	ctx := context.Background()

	// Arrange
	cfg := config.NewDefaults()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MediaRoot = t.TempDir()

	// Act
	a, err := newApp(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, a.start(ctx))
	t.Cleanup(func() { a.shutdown(context.Background()) })

	// Assert
	base := "http://" + a.server.Addr()
	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err = client.Get(base + "/dashboard/products")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode, "guard sits in front of the console routes")
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestApp_UnknownStores(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"Result store", func(c *config.Config) { c.ResultStore = "etcd" }},
		{"Session store", func(c *config.Config) { c.SessionStore = "etcd" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.NewDefaults()
			tc.mutate(&cfg)

			_, err := newApp(context.Background(), cfg, zerolog.Nop())

			assert.ErrorContains(t, err, "etcd")
		})
	}
}
