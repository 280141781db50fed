package instrumentation

import (
	"strings"
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServiceName != "accountbroker" {
		t.Errorf("ServiceName = %q, want accountbroker", cfg.ServiceName)
	}
	if !cfg.Enabled {
		t.Error("expected instrumentation enabled by default")
	}
	if cfg.MetricsExporter != ExporterPrometheus {
		t.Errorf("MetricsExporter = %q, want prometheus", cfg.MetricsExporter)
	}
	if !cfg.AuditLogging.Enabled || cfg.AuditLogging.IncludePII {
		t.Errorf("unexpected audit defaults: %+v", cfg.AuditLogging)
	}
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("METRICS_EXPORTER", "otlp")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.5")
	t.Setenv("AUDIT_LOGGING_INCLUDE_PII", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MetricsExporter != ExporterOTLP || cfg.OTLPEndpoint != "collector:4318" {
		t.Errorf("unexpected exporter config: %+v", cfg)
	}
	if cfg.TraceSamplingRate != 0.5 {
		t.Errorf("TraceSamplingRate = %v, want 0.5", cfg.TraceSamplingRate)
	}
	if !cfg.AuditLogging.IncludePII {
		t.Error("expected IncludePII from environment")
	}
}

func TestLoadConfig_InvalidEnv(t *testing.T) {
	t.Setenv("INSTRUMENTATION_ENABLED", "maybe")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected parse error")
	}
	if cfg := DefaultConfig(); cfg.ServiceName != "accountbroker" {
		t.Errorf("DefaultConfig fallback ServiceName = %q", cfg.ServiceName)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"valid", Config{MetricsExporter: ExporterPrometheus, TracingExporter: ExporterNone, TraceSamplingRate: 0.1}, ""},
		{"sampling too high", Config{TraceSamplingRate: 1.5}, "sampling rate"},
		{"bad metrics exporter", Config{MetricsExporter: "statsd"}, "invalid metrics exporter"},
		{"bad tracing exporter", Config{TracingExporter: "zipkin"}, "invalid tracing exporter"},
		{"otlp without endpoint", Config{TracingExporter: ExporterOTLP}, "OTLP endpoint is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
