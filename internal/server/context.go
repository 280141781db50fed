package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/teemow/accountbroker/internal/authflow"
	"github.com/teemow/accountbroker/internal/credentials"
	"github.com/teemow/accountbroker/internal/google"
	"github.com/teemow/accountbroker/internal/instrumentation"
)

// ProfileFetcher reads the provider profile of a managed account.
// *google.ProfileClient implements it.
type ProfileFetcher interface {
	Profile(ctx context.Context, account string) (*google.Profile, error)
}

// Options configures a ServerContext.
type Options struct {
	Credentials *credentials.Manager
	Flows       *authflow.Controller
	// Profiles is optional; without it profile lookups report an error.
	Profiles ProfileFetcher
	// Store is probed by the readiness check when set.
	Store credentials.Store

	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
	Logger  *slog.Logger
}

// ServerContext holds the components shared by the HTTP handlers and the
// MCP tools.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	credentials *credentials.Manager
	flows       *authflow.Controller
	profiles    ProfileFetcher
	store       credentials.Store

	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger
	logger  *slog.Logger

	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a new server context
func NewServerContext(ctx context.Context, opts Options) (*ServerContext, error) {
	if opts.Credentials == nil {
		return nil, errors.New("credential manager is required")
	}
	if opts.Flows == nil {
		return nil, errors.New("authorization flow controller is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	shutdownCtx, cancel := context.WithCancel(ctx)

	return &ServerContext{
		ctx:         shutdownCtx,
		cancel:      cancel,
		credentials: opts.Credentials,
		flows:       opts.Flows,
		profiles:    opts.Profiles,
		store:       opts.Store,
		metrics:     opts.Metrics,
		audit:       opts.Audit,
		logger:      opts.Logger,
	}, nil
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Credentials returns the credential manager.
func (sc *ServerContext) Credentials() *credentials.Manager {
	return sc.credentials
}

// Flows returns the authorization flow controller.
func (sc *ServerContext) Flows() *authflow.Controller {
	return sc.flows
}

// Profiles returns the profile fetcher, or nil when none is configured.
func (sc *ServerContext) Profiles() ProfileFetcher {
	return sc.profiles
}

// Metrics returns the metrics recorder. The result may be nil; all of its
// methods are nil-safe.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.metrics
}

// AuditLogger returns the audit logger, which may be nil.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	return sc.audit
}

// Logger returns the base logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// checkStore probes the credential store with a List call.
func (sc *ServerContext) checkStore(ctx context.Context) error {
	if sc.store == nil {
		return nil
	}
	_, err := sc.store.List(ctx)
	return err
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown cancels the server context and stops the flow controller's
// cleanup loop. It is safe to call more than once.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	if sc.shutdown {
		sc.mu.Unlock()
		return nil
	}
	sc.shutdown = true
	sc.mu.Unlock()

	sc.cancel()
	sc.flows.Stop()
	return nil
}
