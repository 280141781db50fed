package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/accountbroker/internal/config"
	"github.com/teemow/accountbroker/internal/tokenstore"
)

func checkConfig() config.Config {
	return config.Config{
		Frontend:       config.FrontendToolProtocol,
		Transport:      config.TransportStdio,
		Store:          config.StoreConfig{Backend: tokenstore.BackendMemory},
		ExpiryMargin:   time.Minute,
		RefreshTimeout: 30 * time.Second,
		StateTTL:       10 * time.Minute,
		LogLevel:       "info",
		Google: config.GoogleConfig{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURL:  "http://localhost:8080/oauth/callback",
		},
	}
}

func TestRunCheck_OK(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runCheck(context.Background(), &out, checkConfig()))

	assert.Contains(t, out.String(), "ok    configuration")
	assert.Contains(t, out.String(), "ok    google oauth client")
	assert.Contains(t, out.String(), "ok    credential store memory")
	assert.Contains(t, out.String(), "accounts: 0 (0 authenticated)")
	assert.NotContains(t, out.String(), "client-secret")
}

func TestRunCheck_Failures(t *testing.T) {
	t.Run("missing google client", func(t *testing.T) {
		cfg := checkConfig()
		cfg.Google.ClientSecret = ""

		var out bytes.Buffer
		err := runCheck(context.Background(), &out, cfg)
		require.Error(t, err)
		assert.Contains(t, out.String(), "FAIL  google oauth client")
		assert.Contains(t, out.String(), "ok    credential store memory", "the store is probed even without a client")
	})

	t.Run("invalid configuration stops before the store", func(t *testing.T) {
		cfg := checkConfig()
		cfg.Store.Backend = "floppy"

		var out bytes.Buffer
		err := runCheck(context.Background(), &out, cfg)
		require.Error(t, err)
		assert.Contains(t, out.String(), "FAIL  configuration")
		assert.NotContains(t, out.String(), "credential store")
	})

	t.Run("redirect path", func(t *testing.T) {
		cfg := checkConfig()
		cfg.Google.RedirectURL = "http://localhost:8080/callback"

		var out bytes.Buffer
		require.Error(t, runCheck(context.Background(), &out, cfg))
		assert.Contains(t, out.String(), "FAIL  redirect URL")
	})
}
