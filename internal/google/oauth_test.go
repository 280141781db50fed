package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/accountbroker/internal/credentials"
)

// fakeGoogle serves the token, userinfo and gmail endpoints.
type fakeGoogle struct {
	*httptest.Server

	tokenCalls atomic.Int32
	lastForm   atomic.Pointer[url.Values]

	rejectRefresh atomic.Bool
	failRefresh   atomic.Bool
	rotate        atomic.Bool
	unverified    atomic.Bool
}

func newFakeGoogle(t *testing.T) *fakeGoogle {
	t.Helper()
	f := &fakeGoogle{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", f.token)
	mux.HandleFunc("GET /oauth2/v2/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-1" {
			http.Error(w, `{"error":{"code":401,"message":"invalid credentials"}}`, http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"email": "Jane@Example.com", "verified_email": !f.unverified.Load()})
	})
	mux.HandleFunc("GET /gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-1" {
			http.Error(w, `{"error":{"code":401,"message":"invalid credentials"}}`, http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{
			"emailAddress":  "jane@example.com",
			"messagesTotal": 42,
			"threadsTotal":  7,
			"historyId":     "12345",
		})
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeGoogle) token(w http.ResponseWriter, r *http.Request) {
	f.tokenCalls.Add(1)
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	form := r.PostForm
	f.lastForm.Store(&form)

	switch form.Get("grant_type") {
	case "authorization_code":
		if form.Get("code") != "good-code" || form.Get("code_verifier") == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		writeJSON(w, map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"scope":         "openid https://www.googleapis.com/auth/userinfo.email",
		})
	case "refresh_token":
		switch {
		case f.failRefresh.Load():
			http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
			return
		case f.rejectRefresh.Load():
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
			return
		}
		body := map[string]any{"access_token": "access-2", "token_type": "Bearer", "expires_in": 3599}
		if f.rotate.Load() {
			body["refresh_token"] = "refresh-2"
		}
		writeJSON(w, body)
	default:
		http.Error(w, "unsupported grant", http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestProvider(t *testing.T, f *fakeGoogle) *Provider {
	t.Helper()
	p, err := NewProvider(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:   f.URL + "/auth",
			TokenURL:  f.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		APIEndpoint: f.URL + "/",
		HTTPClient:  f.Client(),
	})
	require.NoError(t, err)
	return p
}

func TestNewProvider_Validation(t *testing.T) {
	_, err := NewProvider(Config{ClientSecret: "s"})
	assert.Error(t, err)
	_, err = NewProvider(Config{ClientID: "c"})
	assert.Error(t, err)

	p, err := NewProvider(Config{ClientID: "c", ClientSecret: "s"})
	require.NoError(t, err)
	assert.Equal(t, DefaultRedirectURL, p.RedirectURL())
	assert.Equal(t, DefaultOAuthScopes, p.Scopes())
}

func TestProvider_AuthCodeURL(t *testing.T) {
	p, err := NewProvider(Config{ClientID: "client-id", ClientSecret: "s"})
	require.NoError(t, err)

	raw := p.AuthCodeURL("state-123", oauth2.GenerateVerifier(), "jane@example.com")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "accounts.google.com", u.Host)
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, DefaultRedirectURL, q.Get("redirect_uri"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "true", q.Get("include_granted_scopes"))
	assert.Equal(t, "jane@example.com", q.Get("login_hint"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Contains(t, q.Get("scope"), "openid")

	raw = p.AuthCodeURL("s", oauth2.GenerateVerifier(), "")
	assert.NotContains(t, raw, "login_hint")
}

func TestProvider_Exchange(t *testing.T) {
	f := newFakeGoogle(t)
	p := newTestProvider(t, f)
	verifier := oauth2.GenerateVerifier()

	resp, err := p.Exchange(context.Background(), "good-code", verifier)
	require.NoError(t, err)
	assert.Equal(t, "access-1", resp.AccessToken)
	assert.Equal(t, "refresh-1", resp.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), resp.Expiry, time.Minute)
	assert.Contains(t, resp.Scopes, "openid")
	assert.Equal(t, verifier, (*f.lastForm.Load()).Get("code_verifier"))

	_, err = p.Exchange(context.Background(), "bad-code", verifier)
	require.Error(t, err)
	var re *oauth2.RetrieveError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "invalid_grant", re.ErrorCode)
}

func TestProvider_Refresh(t *testing.T) {
	f := newFakeGoogle(t)
	p := newTestProvider(t, f)

	resp, err := p.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", resp.AccessToken)
	assert.Empty(t, resp.RefreshToken, "absent refresh token must not be reported as rotated")
	assert.Equal(t, "refresh-1", (*f.lastForm.Load()).Get("refresh_token"))

	f.rotate.Store(true)
	resp, err = p.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", resp.RefreshToken)
}

func TestProvider_RefreshThroughManager(t *testing.T) {
	f := newFakeGoogle(t)
	p := newTestProvider(t, f)
	ctx := context.Background()

	m, err := credentials.NewManager(credentials.Config{
		Store:     newMemStore(),
		Refresher: p,
	})
	require.NoError(t, err)

	_, err = m.Store(ctx, "jane@example.com", &credentials.TokenResponse{
		AccessToken:  "access-0",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	rec, err := m.Credential(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, "access-2", rec.AccessToken.Reveal())
	assert.Equal(t, "refresh-1", rec.RefreshToken.Reveal())

	// Transient endpoint failure keeps the account.
	f.failRefresh.Store(true)
	_, err = m.Store(ctx, "jane@example.com", &credentials.TokenResponse{AccessToken: "access-0", Expiry: time.Now().Add(-time.Minute)})
	require.NoError(t, err)
	_, err = m.Credential(ctx, "jane@example.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, credentials.ErrNotAuthenticated)

	// invalid_grant purges it.
	f.failRefresh.Store(false)
	f.rejectRefresh.Store(true)
	_, err = m.Credential(ctx, "jane@example.com")
	require.ErrorIs(t, err, credentials.ErrProviderRejected)
	assert.ErrorIs(t, err, credentials.ErrNotAuthenticated)
	assert.NotContains(t, err.Error(), "refresh-1")

	_, err = m.Credential(ctx, "jane@example.com")
	assert.ErrorIs(t, err, credentials.ErrNotAuthenticated)
}

func TestProvider_Identity(t *testing.T) {
	f := newFakeGoogle(t)
	p := newTestProvider(t, f)

	email, err := p.Identity(context.Background(), "access-1")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", email)

	_, err = p.Identity(context.Background(), "wrong")
	assert.Error(t, err)

	f.unverified.Store(true)
	_, err = p.Identity(context.Background(), "access-1")
	assert.ErrorIs(t, err, ErrUnverifiedEmail)
}

type staticTokens struct {
	token *oauth2.Token
	err   error
}

func (s staticTokens) TokenSource(context.Context, string) oauth2.TokenSource {
	return s
}

func (s staticTokens) Token() (*oauth2.Token, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func TestProfileClient(t *testing.T) {
	f := newFakeGoogle(t)
	p := newTestProvider(t, f)

	client := NewProfileClient(p, staticTokens{token: &oauth2.Token{AccessToken: "access-1", TokenType: "Bearer"}})
	profile, err := client.Profile(context.Background(), "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", profile.Email)
	assert.Equal(t, int64(42), profile.MessagesTotal)
	assert.Equal(t, uint64(12345), profile.HistoryID)

	notAuth := &credentials.AccountError{Op: "get credential", Account: "jane@example.com", Err: credentials.ErrNotAuthenticated}
	client = NewProfileClient(p, staticTokens{err: notAuth})
	_, err = client.Profile(context.Background(), "jane@example.com")
	assert.ErrorIs(t, err, credentials.ErrNotAuthenticated)
}

type memStore struct {
	records map[string]*credentials.Record
}

func newMemStore() *memStore { return &memStore{records: map[string]*credentials.Record{}} }

func (s *memStore) Read(_ context.Context, account string) (*credentials.Record, error) {
	rec, ok := s.records[account]
	if !ok {
		return nil, credentials.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *memStore) Write(_ context.Context, account string, rec *credentials.Record) error {
	s.records[account] = rec.Clone()
	return nil
}

func (s *memStore) Delete(_ context.Context, account string) error {
	delete(s.records, account)
	return nil
}

func (s *memStore) List(context.Context) ([]string, error) {
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	return keys, nil
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "jane@example.com", normalizeEmail(" Jane@Example.COM "))
}
