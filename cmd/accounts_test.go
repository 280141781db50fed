package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/accountbroker/internal/credentials"
)

func TestCallbackListenAddr(t *testing.T) {
	tests := []struct {
		name     string
		redirect string
		want     string
		wantErr  bool
	}{
		{"localhost with port", "http://localhost:8080/oauth/callback", "localhost:8080", false},
		{"default http port", "http://127.0.0.1/oauth/callback", "127.0.0.1:80", false},
		{"default https port", "https://broker.example.com/oauth/callback", "broker.example.com:443", false},
		{"ipv6", "http://[::1]:9000/oauth/callback", "[::1]:9000", false},
		{"wrong path", "http://localhost:8080/callback", "", true},
		{"no host", "/oauth/callback", "", true},
		{"unsupported scheme", "ftp://localhost/oauth/callback", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := callbackListenAddr(tt.redirect)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteAccountsTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeAccountsTable(&buf, nil))
	assert.Equal(t, "No accounts.\n", buf.String())

	buf.Reset()
	expiry := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, writeAccountsTable(&buf, []credentials.AccountStatus{
		{Account: "a@example.com", Authenticated: true, Expiry: expiry},
		{Account: "b@example.com"},
	}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "EMAIL"))
	assert.Contains(t, lines[1], "a@example.com")
	assert.Contains(t, lines[1], "true")
	assert.Contains(t, lines[2], "b@example.com")
	assert.True(t, strings.HasSuffix(lines[2], "-"))
}

func TestWriteAccountsJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeAccountsJSON(&buf, []credentials.AccountStatus{
		{Account: "a@example.com", Authenticated: true, Scopes: []string{"openid"}},
	}))

	var got struct {
		Accounts []struct {
			Email         string   `json:"email"`
			Authenticated bool     `json:"authenticated"`
			Scopes        []string `json:"scopes"`
		} `json:"accounts"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 1, got.Total)
	require.Len(t, got.Accounts, 1)
	assert.Equal(t, "a@example.com", got.Accounts[0].Email)
	assert.True(t, got.Accounts[0].Authenticated)
	assert.Equal(t, []string{"openid"}, got.Accounts[0].Scopes)
}
