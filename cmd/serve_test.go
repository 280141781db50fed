package cmd

import (
	"testing"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/teemow/accountbroker/internal/config"
	"github.com/teemow/accountbroker/internal/server"
)

func TestParseCommaSeparatedList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
		{
			name:     "single value",
			input:    "muster-client",
			expected: []string{"muster-client"},
		},
		{
			name:     "multiple values",
			input:    "muster-client,other-client",
			expected: []string{"muster-client", "other-client"},
		},
		{
			name:     "values with spaces around comma",
			input:    "muster-client, other-client",
			expected: []string{"muster-client", "other-client"},
		},
		{
			name:     "values with leading/trailing spaces",
			input:    "  muster-client  ,  other-client  ",
			expected: []string{"muster-client", "other-client"},
		},
		{
			name:     "trailing comma",
			input:    "muster-client,other-client,",
			expected: []string{"muster-client", "other-client"},
		},
		{
			name:     "leading comma",
			input:    ",muster-client,other-client",
			expected: []string{"muster-client", "other-client"},
		},
		{
			name:     "multiple consecutive commas",
			input:    "muster-client,,other-client",
			expected: []string{"muster-client", "other-client"},
		},
		{
			name:     "only commas and spaces",
			input:    ",  , , ",
			expected: []string{},
		},
		{
			name:     "single value with surrounding whitespace",
			input:    "  muster-client  ",
			expected: []string{"muster-client"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseCommaSeparatedList(tt.input)

			// Handle nil vs empty slice comparison
			if tt.expected == nil {
				if result != nil {
					t.Errorf("parseCommaSeparatedList(%q) = %v, want nil", tt.input, result)
				}
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("parseCommaSeparatedList(%q) = %v (len %d), want %v (len %d)",
					tt.input, result, len(result), tt.expected, len(tt.expected))
				return
			}

			for i, v := range result {
				if v != tt.expected[i] {
					t.Errorf("parseCommaSeparatedList(%q)[%d] = %q, want %q",
						tt.input, i, v, tt.expected[i])
				}
			}
		})
	}
}

func TestApplyServeFlags(t *testing.T) {
	var flags serveFlags
	cmd := &cobra.Command{Use: "serve"}
	bindServeFlags(cmd, &flags)

	for name, value := range map[string]string{
		"frontend":        config.FrontendInteractiveAPI,
		"scopes":          "openid, email,,",
		"metrics-enabled": "false",
	} {
		if err := cmd.Flags().Set(name, value); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}

	cfg := config.Config{
		Frontend:  config.FrontendToolProtocol,
		Transport: config.TransportStreamableHTTP,
		HTTPAddr:  ":9999",
		Metrics:   config.MetricsConfig{Enabled: true, Addr: ":9191"},
	}
	applyServeFlags(cmd, &flags, &cfg)

	if cfg.Frontend != config.FrontendInteractiveAPI {
		t.Errorf("Frontend = %q, want %q", cfg.Frontend, config.FrontendInteractiveAPI)
	}
	if got := cfg.Google.Scopes; len(got) != 2 || got[0] != "openid" || got[1] != "email" {
		t.Errorf("Scopes = %v, want [openid email]", got)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should be overridden to false")
	}

	// Flags left at their defaults must not clobber the environment.
	if cfg.Transport != config.TransportStreamableHTTP {
		t.Errorf("Transport = %q, want the environment value", cfg.Transport)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want the environment value", cfg.HTTPAddr)
	}
	if cfg.Metrics.Addr != ":9191" {
		t.Errorf("Metrics.Addr = %q, want the environment value", cfg.Metrics.Addr)
	}
}

func TestDescribeRoutes(t *testing.T) {
	tests := []struct {
		name string
		cfg  server.HTTPConfig
		want string
	}{
		{"api", server.HTTPConfig{API: true, Callback: true}, "/api/accounts," + server.CallbackPath},
		{"callback only", server.HTTPConfig{Callback: true}, server.CallbackPath},
		{"mcp", server.HTTPConfig{Callback: true, MCP: mcpserver.NewMCPServer("test", "1")}, server.CallbackPath + "," + server.MCPPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeRoutes(tt.cfg); got != tt.want {
				t.Errorf("describeRoutes() = %q, want %q", got, tt.want)
			}
		})
	}
}
