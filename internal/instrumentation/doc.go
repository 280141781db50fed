// Package instrumentation provides OpenTelemetry metrics and tracing for the
// account broker.
//
// # Metrics
//
// Credential metrics:
//   - credential_lookups_total: credential requests by result (hit, miss)
//   - credential_refresh_total: refresh attempts by result
//   - credential_refresh_duration_seconds: refresh latency against the token endpoint
//
// Authorization metrics:
//   - authorization_flows_total: authorization attempts by result
//   - pending_authorizations: authorization attempts issued but not yet consumed
//
// Provider metrics:
//   - provider_api_operations_total / provider_api_operation_duration_seconds
//
// Front-end metrics:
//   - http_requests_total / http_request_duration_seconds
//   - mcp_tool_invocations_total / mcp_tool_duration_seconds
//
// # Tracing
//
// Spans are created for credential refreshes (credential.refresh), authorization
// code exchanges (authflow.complete), provider calls (provider.<service>.<operation>)
// and MCP tool invocations (tool.<name>).
//
// # Configuration
//
// Configuration is read from the environment (see Config):
//   - INSTRUMENTATION_ENABLED (default: true)
//   - METRICS_EXPORTER: prometheus, otlp, stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout, none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_INSECURE
//   - OTEL_TRACES_SAMPLER_ARG (default: 0.1)
//   - OTEL_SERVICE_NAME (default: accountbroker)
//
// # Example Usage
//
//	cfg, err := instrumentation.LoadConfig()
//	if err != nil {
//		return err
//	}
//	provider, err := instrumentation.NewProvider(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	provider.Metrics().RecordCredentialLookup(ctx, instrumentation.LookupHit)
package instrumentation
