package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/teemow/accountbroker/internal/authflow"
	"github.com/teemow/accountbroker/internal/config"
	"github.com/teemow/accountbroker/internal/credentials"
	"github.com/teemow/accountbroker/internal/google"
	"github.com/teemow/accountbroker/internal/instrumentation"
	"github.com/teemow/accountbroker/internal/logging"
	"github.com/teemow/accountbroker/internal/server"
	"github.com/teemow/accountbroker/internal/tokenstore"
)

var errNoGoogleClient = errors.New("google oauth client is not configured: set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET")

// broker owns the long-lived components of one process.
type broker struct {
	cfg    config.Config
	logger *slog.Logger

	instr *instrumentation.Provider
	audit *instrumentation.AuditLogger
	store tokenstore.Store

	google *google.Provider
	creds  *credentials.Manager
	flows  *authflow.Controller
	sc     *server.ServerContext
}

// newBroker opens the credential store and builds the credential manager.
// When online is set it also builds the Google provider, the authorization
// flow controller and the server context. Offline brokers can list and
// remove accounts but every refresh fails with errNoGoogleClient.
func newBroker(ctx context.Context, cfg config.Config, logger *slog.Logger, online bool) (_ *broker, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if online {
		if err := cfg.ValidateGoogle(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	b := &broker{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			b.close(context.WithoutCancel(ctx))
		}
	}()

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	b.instr, err = instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	b.audit = instrumentation.NewAuditLogger(logger, instrConfig.AuditLogging)
	metrics := b.instr.Metrics()

	b.store, err = tokenstore.Open(ctx, cfg.TokenStore(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	var refresher credentials.Refresher = credentials.RefresherFunc(
		func(context.Context, string) (*credentials.TokenResponse, error) {
			return nil, errNoGoogleClient
		})
	if online {
		gcfg := cfg.GoogleProvider()
		gcfg.Metrics = metrics
		b.google, err = google.NewProvider(gcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create google provider: %w", err)
		}
		refresher = b.google
	}

	b.creds, err = credentials.NewManager(credentials.Config{
		Store:          b.store,
		Refresher:      refresher,
		ExpiryMargin:   cfg.ExpiryMargin,
		RefreshTimeout: cfg.RefreshTimeout,
		Logger:         logger,
		Metrics:        metrics,
		Audit:          b.audit,
	})
	if err != nil {
		return nil, err
	}

	if !online {
		return b, nil
	}

	b.flows, err = authflow.New(authflow.Config{
		Provider:              b.google,
		Credentials:           b.creds,
		StateTTL:              cfg.StateTTL,
		TrustRequestedAccount: cfg.TrustRequestedAccount,
		Logger:                logger,
		Metrics:               metrics,
	})
	if err != nil {
		return nil, err
	}

	b.sc, err = server.NewServerContext(ctx, server.Options{
		Credentials: b.creds,
		Flows:       b.flows,
		Profiles:    google.NewProfileClient(b.google, b.creds),
		Store:       b.store,
		Metrics:     metrics,
		Audit:       b.audit,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create server context: %w", err)
	}
	return b, nil
}

// close releases everything newBroker acquired, in reverse order.
func (b *broker) close(ctx context.Context) {
	switch {
	case b.sc != nil:
		if err := b.sc.Shutdown(); err != nil {
			b.logger.Warn("server context shutdown failed", logging.Err(err))
		}
	case b.flows != nil:
		b.flows.Stop()
	}
	if b.store != nil {
		if err := b.store.Close(); err != nil {
			b.logger.Warn("credential store close failed", logging.Err(err))
		}
	}
	if b.instr != nil {
		if err := b.instr.Shutdown(ctx); err != nil {
			b.logger.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}
}
