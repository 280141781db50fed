package server

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teemow/accountbroker/internal/authflow"
	"github.com/teemow/accountbroker/internal/credentials"
	"github.com/teemow/accountbroker/internal/google"
	"github.com/teemow/accountbroker/internal/tokenstore"
)

type fakeProvider struct {
	identity string
}

func (p *fakeProvider) AuthCodeURL(state, _, loginHint string) string {
	q := url.Values{"state": {state}}
	if loginHint != "" {
		q.Set("login_hint", loginHint)
	}
	return "https://accounts.example.com/o/oauth2/auth?" + q.Encode()
}

func (p *fakeProvider) Exchange(_ context.Context, code, _ string) (*credentials.TokenResponse, error) {
	return &credentials.TokenResponse{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		ExpiresIn:    3600,
	}, nil
}

func (p *fakeProvider) Identity(context.Context, string) (string, error) {
	return p.identity, nil
}

// fakeProfiles serves a canned profile for every account holding a usable
// credential.
type fakeProfiles struct {
	manager *credentials.Manager
}

func (f *fakeProfiles) Profile(ctx context.Context, account string) (*google.Profile, error) {
	if _, err := f.manager.Credential(ctx, account); err != nil {
		return nil, err
	}
	return &google.Profile{Email: account, MessagesTotal: 42, ThreadsTotal: 7, HistoryID: 1001}, nil
}

// brokenStore fails every call, as an unreachable database would.
type brokenStore struct{}

var errStoreDown = errors.New("connection refused")

func (brokenStore) Read(context.Context, string) (*credentials.Record, error) {
	return nil, errStoreDown
}
func (brokenStore) Write(context.Context, string, *credentials.Record) error { return errStoreDown }
func (brokenStore) Delete(context.Context, string) error                     { return errStoreDown }
func (brokenStore) List(context.Context) ([]string, error)                   { return nil, errStoreDown }

type fixture struct {
	sc       *ServerContext
	provider *fakeProvider
	manager  *credentials.Manager
}

func newFixture(t *testing.T, store credentials.Store) *fixture {
	t.Helper()
	if store == nil {
		store = tokenstore.NewMemoryStore()
	}

	manager, err := credentials.NewManager(credentials.Config{
		Store: store,
		Refresher: credentials.RefresherFunc(func(context.Context, string) (*credentials.TokenResponse, error) {
			return nil, errors.New("unexpected refresh")
		}),
	})
	require.NoError(t, err)

	provider := &fakeProvider{identity: "jane@example.com"}
	flows, err := authflow.New(authflow.Config{Provider: provider, Credentials: manager})
	require.NoError(t, err)

	sc, err := NewServerContext(context.Background(), Options{
		Credentials: manager,
		Flows:       flows,
		Profiles:    &fakeProfiles{manager: manager},
		Store:       store,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Shutdown() })

	return &fixture{sc: sc, provider: provider, manager: manager}
}

func (f *fixture) server(t *testing.T, cfg HTTPConfig) *HTTPServer {
	t.Helper()
	s, err := NewHTTPServer(f.sc, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.limiter.Stop() })
	return s
}
