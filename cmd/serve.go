package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/teemow/accountbroker/internal/config"
	"github.com/teemow/accountbroker/internal/logging"
	"github.com/teemow/accountbroker/internal/server"
	"github.com/teemow/accountbroker/internal/tools/account_tools"
)

// serveFlags are the serve options that can override the environment.
type serveFlags struct {
	frontend     string
	transport    string
	httpAddr     string
	callbackAddr string
	tokenStore   string
	scopes       string

	trustRequestedAccount bool

	metricsEnabled bool
	metricsAddr    string

	rateLimit  int
	rateBurst  int
	trustProxy bool
}

func newServeCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the credential broker",
		Long: `Run the credential broker with one of its front ends.

Front ends:
  interactive-api: HTTP API under /api/accounts plus the OAuth callback
  tool-protocol:   MCP server exposing the account tools (default)

The tool-protocol front end supports the stdio and streamable-http
transports. With stdio, --callback-addr starts a separate listener for the
OAuth redirect; without it, authorizations are finished with the
complete_workspace_authentication tool.

Every flag overrides the matching environment variable only when set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyServeFlags(cmd, &flags, &cfg)
			return runServe(cfg, flags)
		},
	}

	bindServeFlags(cmd, &flags)

	return cmd
}

func bindServeFlags(cmd *cobra.Command, flags *serveFlags) {
	cmd.Flags().StringVar(&flags.frontend, "frontend", config.FrontendToolProtocol, "Front end: interactive-api or tool-protocol. Can also use FRONTEND env var.")
	cmd.Flags().StringVar(&flags.transport, "transport", config.TransportStdio, "MCP transport of the tool-protocol front end: stdio or streamable-http. Can also use MCP_TRANSPORT env var.")
	cmd.Flags().StringVar(&flags.httpAddr, "http-addr", ":8080", "HTTP listen address for the interactive API and streamable-http. Can also use HTTP_ADDR env var.")
	cmd.Flags().StringVar(&flags.callbackAddr, "callback-addr", "", "Listen address of a standalone OAuth callback receiver in stdio mode. Can also use CALLBACK_ADDR env var.")
	cmd.Flags().StringVar(&flags.tokenStore, "token-store", "file", "Credential store backend: file, sqlite, valkey or memory. Can also use TOKEN_STORE env var.")
	cmd.Flags().StringVar(&flags.scopes, "scopes", "", "Comma-separated OAuth scopes to request. Can also use GOOGLE_SCOPES env var.")
	cmd.Flags().BoolVar(&flags.trustRequestedAccount, "trust-requested-account", false, "Skip the identity check when an authorization names its account. Can also use AUTH_TRUST_REQUESTED_ACCOUNT env var.")

	cmd.Flags().BoolVar(&flags.metricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	cmd.Flags().IntVar(&flags.rateLimit, "rate-limit", server.DefaultRateLimit, "Requests per second per client IP on the authorization endpoints. Negative disables the limit.")
	cmd.Flags().IntVar(&flags.rateBurst, "rate-burst", server.DefaultRateBurst, "Burst size of the per-IP rate limit.")
	cmd.Flags().BoolVar(&flags.trustProxy, "trust-proxy", false, "Use X-Forwarded-For and X-Real-IP for the rate limit client IP. Only enable behind a trusted proxy.")
}

// applyServeFlags copies explicitly set flags over the environment
// configuration.
func applyServeFlags(cmd *cobra.Command, flags *serveFlags, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("frontend") {
		cfg.Frontend = flags.frontend
	}
	if changed("transport") {
		cfg.Transport = flags.transport
	}
	if changed("http-addr") {
		cfg.HTTPAddr = flags.httpAddr
	}
	if changed("callback-addr") {
		cfg.CallbackAddr = flags.callbackAddr
	}
	if changed("token-store") {
		cfg.Store.Backend = flags.tokenStore
	}
	if changed("scopes") {
		cfg.Google.Scopes = parseCommaSeparatedList(flags.scopes)
	}
	if changed("trust-requested-account") {
		cfg.TrustRequestedAccount = flags.trustRequestedAccount
	}
	if changed("metrics-enabled") {
		cfg.Metrics.Enabled = flags.metricsEnabled
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = flags.metricsAddr
	}
}

func runServe(cfg config.Config, flags serveFlags) error {
	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// stdout carries the protocol in stdio mode, so logs always go to stderr.
	logger, err := newLogger(os.Stderr, cfg)
	if err != nil {
		return err
	}

	b, err := newBroker(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer b.close(context.WithoutCancel(ctx))

	stdio := cfg.Frontend == config.FrontendToolProtocol && cfg.Transport == config.TransportStdio

	if !stdio && cfg.Metrics.Enabled && b.instr.Enabled() {
		metricsServer, err := startMetricsServer(ctx, b, logger)
		if err != nil {
			return err
		}
		defer shutdownServer(ctx, "metrics server", metricsServer, logger)
	}

	httpCfg := server.HTTPConfig{
		Addr:       cfg.HTTPAddr,
		RateLimit:  flags.rateLimit,
		RateBurst:  flags.rateBurst,
		TrustProxy: flags.trustProxy,
	}

	switch cfg.Frontend {
	case config.FrontendInteractiveAPI:
		httpCfg.API = true
		httpCfg.Callback = true
		logger.Info("starting accountbroker",
			slog.String("frontend", cfg.Frontend),
			slog.String("addr", cfg.HTTPAddr),
			slog.String("store", cfg.Store.Backend))
		return runHTTPServer(ctx, b.sc, httpCfg, logger)

	case config.FrontendToolProtocol:
		mcpSrv := mcpserver.NewMCPServer("accountbroker", version,
			mcpserver.WithToolCapabilities(true),
		)
		if err := registerAllTools(mcpSrv, b.sc); err != nil {
			return err
		}

		switch cfg.Transport {
		case config.TransportStdio:
			return runStdioServer(ctx, mcpSrv, b.sc, cfg, httpCfg, logger)
		case config.TransportStreamableHTTP:
			httpCfg.MCP = mcpSrv
			httpCfg.Callback = true
			logger.Info("starting accountbroker",
				slog.String("frontend", cfg.Frontend),
				slog.String("transport", cfg.Transport),
				slog.String("addr", cfg.HTTPAddr),
				slog.String("store", cfg.Store.Backend))
			return runHTTPServer(ctx, b.sc, httpCfg, logger)
		}
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, streamable-http)", cfg.Transport)
	}
	return fmt.Errorf("unsupported frontend: %s (supported: interactive-api, tool-protocol)", cfg.Frontend)
}

// runStdioServer serves MCP on stdin/stdout until ctx is cancelled or the
// client closes the stream. A standalone callback receiver runs alongside
// when CallbackAddr is set.
func runStdioServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, sc *server.ServerContext, cfg config.Config, httpCfg server.HTTPConfig, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	callbackDone := make(chan error, 1)
	if cfg.CallbackAddr != "" {
		httpCfg.Addr = cfg.CallbackAddr
		httpCfg.Callback = true
		go func() {
			callbackDone <- runHTTPServer(ctx, sc, httpCfg, logger)
			cancel()
		}()
	} else {
		close(callbackDone)
		logger.Info("no callback receiver configured; finish authorizations with complete_workspace_authentication")
	}

	stdioSrv := mcpserver.NewStdioServer(mcpSrv)
	err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout)
	cancel()

	if cbErr := <-callbackDone; cbErr != nil {
		return cbErr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

// runHTTPServer binds cfg.Addr and serves until ctx is cancelled.
func runHTTPServer(ctx context.Context, sc *server.ServerContext, cfg server.HTTPConfig, logger *slog.Logger) error {
	srv, err := server.NewHTTPServer(sc, cfg)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	ln, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", srv.Addr(), err)
	}
	logger.Debug("HTTP routes", slog.String("routes", describeRoutes(cfg)))

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ln)
	}()

	select {
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownServer(ctx, "HTTP server", srv, logger)
		return <-serverDone
	}
}

func startMetricsServer(ctx context.Context, b *broker, logger *slog.Logger) (*server.MetricsServer, error) {
	metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:                    b.cfg.Metrics.Addr,
		Enabled:                 true,
		InstrumentationProvider: b.instr,
		Logger:                  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}

	ln, err := net.Listen("tcp", metricsServer.Addr())
	if err != nil {
		return nil, fmt.Errorf("metrics server failed to start: %w", err)
	}
	go func() {
		if err := metricsServer.Serve(ln); err != nil {
			logger.Error("metrics server stopped", logging.Err(err))
		}
	}()
	logger.Info("metrics server started", slog.String("addr", ln.Addr().String()))
	return metricsServer, nil
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

func shutdownServer(ctx context.Context, name string, s shutdowner, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), server.DefaultShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		logger.Warn("error during "+name+" shutdown", logging.Err(err))
	}
}

func describeRoutes(cfg server.HTTPConfig) string {
	var routes []string
	if cfg.API {
		routes = append(routes, "/api/accounts")
	}
	if cfg.Callback {
		routes = append(routes, server.CallbackPath)
	}
	if cfg.MCP != nil {
		routes = append(routes, server.MCPPath)
	}
	return strings.Join(routes, ",")
}

// registerAllTools registers all MCP tools. generate-docs uses the same list.
func registerAllTools(mcpSrv *mcpserver.MCPServer, sc *server.ServerContext) error {
	type toolRegistration struct {
		name     string
		register func() error
	}

	registrations := []toolRegistration{
		{
			name: "Workspace account tools",
			register: func() error {
				return account_tools.RegisterAccountTools(mcpSrv, sc)
			},
		},
	}

	for _, reg := range registrations {
		if err := reg.register(); err != nil {
			return fmt.Errorf("failed to register %s: %w", reg.name, err)
		}
	}
	return nil
}

// parseCommaSeparatedList parses a comma-separated string into a slice,
// trimming whitespace from each element and filtering out empty strings.
// Returns nil if the input is empty or contains only whitespace/commas.
func parseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
