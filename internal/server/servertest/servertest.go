// Package servertest builds ServerContexts backed by in-memory components
// for tests of packages that sit on top of the server.
package servertest

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/teemow/accountbroker/internal/authflow"
	"github.com/teemow/accountbroker/internal/credentials"
	"github.com/teemow/accountbroker/internal/google"
	"github.com/teemow/accountbroker/internal/instrumentation"
	"github.com/teemow/accountbroker/internal/server"
	"github.com/teemow/accountbroker/internal/tokenstore"
)

// Provider is an authflow.Provider that accepts every code. Exchanged tokens
// are derived from the code; Identity reports whatever account was last
// assigned to it.
type Provider struct {
	mu       sync.Mutex
	identity string
}

// SetIdentity sets the account Identity reports.
func (p *Provider) SetIdentity(account string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identity = account
}

func (p *Provider) AuthCodeURL(state, _, loginHint string) string {
	q := url.Values{"state": {state}}
	if loginHint != "" {
		q.Set("login_hint", loginHint)
	}
	return "https://accounts.example.com/o/oauth2/auth?" + q.Encode()
}

func (p *Provider) Exchange(_ context.Context, code, _ string) (*credentials.TokenResponse, error) {
	return &credentials.TokenResponse{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		ExpiresIn:    3600,
	}, nil
}

func (p *Provider) Identity(context.Context, string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.identity == "" {
		return "", errors.New("no identity configured")
	}
	return p.identity, nil
}

// Profiles serves a fixed profile for every account with a usable
// credential.
type Profiles struct {
	Manager *credentials.Manager
}

func (p *Profiles) Profile(ctx context.Context, account string) (*google.Profile, error) {
	if _, err := p.Manager.Credential(ctx, account); err != nil {
		return nil, err
	}
	return &google.Profile{Email: account, MessagesTotal: 42, ThreadsTotal: 7, HistoryID: 1001}, nil
}

// Config customizes New. The zero value is usable.
type Config struct {
	Store   credentials.Store
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
}

// Env is a wired ServerContext and its parts.
type Env struct {
	Context  *server.ServerContext
	Manager  *credentials.Manager
	Flows    *authflow.Controller
	Provider *Provider
}

// New wires a ServerContext on a memory store (unless cfg.Store is set) and
// shuts it down when the test ends.
func New(t testing.TB, cfg Config) *Env {
	t.Helper()

	store := cfg.Store
	if store == nil {
		store = tokenstore.NewMemoryStore()
	}

	manager, err := credentials.NewManager(credentials.Config{
		Store: store,
		Refresher: credentials.RefresherFunc(func(context.Context, string) (*credentials.TokenResponse, error) {
			return nil, errors.New("refresh not supported in tests")
		}),
		Metrics: cfg.Metrics,
		Audit:   cfg.Audit,
	})
	if err != nil {
		t.Fatalf("create credential manager: %v", err)
	}

	provider := &Provider{}
	flows, err := authflow.New(authflow.Config{
		Provider:    provider,
		Credentials: manager,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		t.Fatalf("create flow controller: %v", err)
	}

	sc, err := server.NewServerContext(context.Background(), server.Options{
		Credentials: manager,
		Flows:       flows,
		Profiles:    &Profiles{Manager: manager},
		Store:       store,
		Metrics:     cfg.Metrics,
		Audit:       cfg.Audit,
	})
	if err != nil {
		t.Fatalf("create server context: %v", err)
	}
	t.Cleanup(func() { _ = sc.Shutdown() })

	return &Env{Context: sc, Manager: manager, Flows: flows, Provider: provider}
}

// Authenticate runs a complete authorization for account.
func (e *Env) Authenticate(t testing.TB, account string) {
	t.Helper()
	e.Provider.SetIdentity(account)

	ctx := context.Background()
	auth, err := e.Flows.Begin(ctx, account)
	if err != nil {
		t.Fatalf("begin authorization: %v", err)
	}
	if _, err := e.Flows.Complete(ctx, auth.State, "code-"+account); err != nil {
		t.Fatalf("complete authorization: %v", err)
	}
}
