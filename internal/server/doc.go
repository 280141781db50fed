// Package server hosts the broker's HTTP surfaces.
//
// ServerContext bundles the credential manager, the authorization flow
// controller and the ambient observability components that every front end
// needs. HTTPServer mounts, depending on the selected front end:
//
//   - the interactive account API under /api/accounts
//   - the OAuth redirect receiver at /oauth/callback
//   - the MCP streamable HTTP transport at /mcp
//   - health probes at /healthz, /readyz and /healthz/detailed
//
// MetricsServer exposes Prometheus metrics on a dedicated port so that
// operational data stays off the application listener.
//
// # Security
//
// Every response carries restrictive security headers. The authorization
// entry points (starting a flow and the redirect receiver) are rate limited
// per client IP. Credentials never leave the process through these handlers:
// the API reports account status only, and the callback page shows the
// authenticated account, never the authorization code.
package server
