package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/teemow/accountbroker/internal/logging"
)

const (
	// CallbackPath is where the provider redirects after consent.
	CallbackPath = "/oauth/callback"

	// MCPPath serves the MCP streamable HTTP transport.
	MCPPath = "/mcp"

	// DefaultHTTPWriteTimeout leaves room for a credential refresh
	// (bounded by the manager's refresh timeout) inside one request.
	DefaultHTTPWriteTimeout = 45 * time.Second

	defaultHTTPReadHeaderTimeout = 10 * time.Second
	defaultHTTPIdleTimeout       = 120 * time.Second

	maxRequestBodyBytes = 1 << 20
)

// HTTPConfig selects what an HTTPServer mounts.
type HTTPConfig struct {
	Addr string

	// API mounts the interactive account API under /api/accounts.
	API bool
	// Callback mounts the OAuth redirect receiver at CallbackPath.
	Callback bool
	// MCP, when set, is served with the streamable HTTP transport at MCPPath.
	MCP *mcpserver.MCPServer

	// RateLimit and RateBurst bound requests per client IP to the
	// authorization entry points. Zero selects the defaults; a negative
	// RateLimit disables rate limiting.
	RateLimit  int
	RateBurst  int
	TrustProxy bool
}

// HTTPServer serves the broker's HTTP front ends.
type HTTPServer struct {
	sc         *ServerContext
	logger     *slog.Logger
	health     *HealthChecker
	limiter    *RateLimiter
	httpServer *http.Server
	addr       string
}

// NewHTTPServer builds the routes selected by cfg. At least one of API,
// Callback or MCP must be enabled.
func NewHTTPServer(sc *ServerContext, cfg HTTPConfig) (*HTTPServer, error) {
	if sc == nil {
		return nil, errors.New("server context is required")
	}
	if !cfg.API && !cfg.Callback && cfg.MCP == nil {
		return nil, errors.New("no HTTP front end enabled")
	}

	s := &HTTPServer{
		sc:     sc,
		logger: logging.WithComponent(sc.Logger(), "http"),
		health: NewHealthChecker(sc),
		addr:   cfg.Addr,
	}

	if cfg.RateLimit >= 0 {
		rate, burst := cfg.RateLimit, cfg.RateBurst
		if rate == 0 {
			rate = DefaultRateLimit
		}
		if burst <= 0 {
			burst = DefaultRateBurst
		}
		s.limiter = NewRateLimiter(rate, burst, cfg.TrustProxy)
	}

	mux := http.NewServeMux()
	s.health.RegisterHealthEndpoints(mux)

	if cfg.API {
		s.route(mux, "GET /api/accounts", s.handleListAccounts)
		s.route(mux, "POST /api/accounts/authenticate", s.limiter.Middleware(http.HandlerFunc(s.handleAuthenticate)).ServeHTTP)
		s.route(mux, "DELETE /api/accounts/{email}", s.handleRemoveAccount)
		s.route(mux, "GET /api/accounts/{email}/profile", s.handleProfile)
		s.route(mux, "GET /{$}", s.handleIndex)
	}
	if cfg.Callback {
		s.route(mux, "GET "+CallbackPath, s.limiter.Middleware(http.HandlerFunc(s.handleCallback)).ServeHTTP)
	}
	if cfg.MCP != nil {
		streamable := mcpserver.NewStreamableHTTPServer(cfg.MCP,
			mcpserver.WithEndpointPath(MCPPath),
		)
		s.route(mux, MCPPath, streamable.ServeHTTP)
	}

	handler := requestIDMiddleware(securityHeadersMiddleware(mux))

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           otelhttp.NewHandler(handler, "accountbroker.http"),
		ReadHeaderTimeout: defaultHTTPReadHeaderTimeout,
		WriteTimeout:      DefaultHTTPWriteTimeout,
		IdleTimeout:       defaultHTTPIdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return sc.Context() },
	}
	return s, nil
}

func (s *HTTPServer) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, instrumentationMiddleware(s.sc.Metrics(), s.logger, pattern, h))
}

// Handler returns the server's root handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Health returns the health checker backing the probe endpoints.
func (s *HTTPServer) Health() *HealthChecker {
	return s.health
}

// Addr returns the configured listen address.
func (s *HTTPServer) Addr() string {
	return s.addr
}

// Start listens on the configured address and serves until Shutdown.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln. It returns nil after a graceful Shutdown.
func (s *HTTPServer) Serve(ln net.Listener) error {
	s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown marks the server as not ready and drains in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}
