package cmd

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

func TestGenerateToolsMarkdown(t *testing.T) {
	sc, err := newDocsServerContext(context.Background())
	if err != nil {
		t.Fatalf("newDocsServerContext() error = %v", err)
	}
	defer func() { _ = sc.Shutdown() }()

	mcpSrv := mcpserver.NewMCPServer("accountbroker", "test", mcpserver.WithToolCapabilities(true))
	if err := registerAllTools(mcpSrv, sc); err != nil {
		t.Fatalf("registerAllTools() error = %v", err)
	}

	tools := make([]mcp.Tool, 0)
	for _, st := range mcpSrv.ListTools() {
		tools = append(tools, st.Tool)
	}
	markdown := generateToolsMarkdown(tools)

	for _, want := range []string{
		"## Account Tools",
		"## Authorization Tools",
		"### list_workspace_accounts",
		"### authenticate_workspace_account",
		"### complete_workspace_authentication",
		"### await_workspace_authentication",
		"### remove_workspace_account",
		"### get_workspace_profile",
		"- `email` (required)",
	} {
		if !strings.Contains(markdown, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
	if strings.Contains(markdown, "## Other") {
		t.Error("every tool should belong to a named category")
	}
}

func TestGetCategoryFromToolName(t *testing.T) {
	tests := map[string]string{
		"list_workspace_accounts":           "Account Tools",
		"remove_workspace_account":          "Account Tools",
		"get_workspace_profile":             "Account Tools",
		"authenticate_workspace_account":    "Authorization Tools",
		"complete_workspace_authentication": "Authorization Tools",
		"await_workspace_authentication":    "Authorization Tools",
		"something_else":                    "Other",
	}
	for name, want := range tests {
		if got := getCategoryFromToolName(name); got != want {
			t.Errorf("getCategoryFromToolName(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestToolHints(t *testing.T) {
	yes, no := true, false

	tests := []struct {
		name string
		a    mcp.ToolAnnotation
		want string
	}{
		{"read-only wins", mcp.ToolAnnotation{ReadOnlyHint: &yes, DestructiveHint: &yes}, "read-only"},
		{"destructive", mcp.ToolAnnotation{ReadOnlyHint: &no, DestructiveHint: &yes}, "destructive"},
		{"neither", mcp.ToolAnnotation{ReadOnlyHint: &no, DestructiveHint: &no}, ""},
		{"unset", mcp.ToolAnnotation{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toolHints(tt.a); got != tt.want {
				t.Errorf("toolHints() = %q, want %q", got, tt.want)
			}
		})
	}
}
