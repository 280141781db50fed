package cmd

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/accountbroker/internal/authflow"
	"github.com/teemow/accountbroker/internal/credentials"
	"github.com/teemow/accountbroker/internal/google"
	"github.com/teemow/accountbroker/internal/server"
	"github.com/teemow/accountbroker/internal/tokenstore"
)

func newGenerateDocsCmd() *cobra.Command {
	var (
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "generate-docs",
		Short: "Generate MCP tool documentation",
		Long: `Generate markdown documentation for all available MCP tools.
This command introspects the registered tools and outputs their documentation
in markdown format, ensuring the documentation is always accurate and in sync
with the actual tool implementations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateDocs(outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

func runGenerateDocs(outputFile string) error {
	ctx := context.Background()
	serverContext, err := newDocsServerContext(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = serverContext.Shutdown()
	}()

	mcpSrv := mcpserver.NewMCPServer("accountbroker", version,
		mcpserver.WithToolCapabilities(true),
	)
	if err := registerAllTools(mcpSrv, serverContext); err != nil {
		return err
	}

	// Get the list of tools
	serverTools := mcpSrv.ListTools()

	// Extract mcp.Tool from each ServerTool
	tools := make([]mcp.Tool, 0, len(serverTools))
	for _, serverTool := range serverTools {
		tools = append(tools, serverTool.Tool)
	}

	// Generate markdown documentation
	markdown := generateToolsMarkdown(tools)

	// Write to output
	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(markdown), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Documentation written to: %s\n", outputFile)
	} else {
		fmt.Print(markdown)
	}

	return nil
}

func generateToolsMarkdown(tools []mcp.Tool) string {
	var sb strings.Builder

	sb.WriteString("# MCP Tools Reference\n\n")
	sb.WriteString("Tools exposed by accountbroker with the tool-protocol front end.\n\n")
	sb.WriteString("**Note:** This documentation is automatically generated from the tool definitions.\n\n")

	byCategory := groupToolsByCategory(tools)
	categories := slices.Sorted(maps.Keys(byCategory))

	sb.WriteString("## Table of Contents\n\n")
	for _, category := range categories {
		anchor := strings.ToLower(strings.ReplaceAll(category, " ", "-"))
		fmt.Fprintf(&sb, "- [%s](#%s)\n", category, anchor)
	}
	sb.WriteString("\n")

	sb.WriteString("## Account Selection\n\n")
	sb.WriteString("Tools acting on one account take an `email` argument:\n\n")
	sb.WriteString("- **Normalization:** Addresses are trimmed and lowercased before lookup\n")
	sb.WriteString("- **Unauthenticated accounts:** Tools return an error that names `authenticate_workspace_account` as the next step\n")
	sb.WriteString("- **Secrets:** No tool ever returns an access or refresh token\n\n")

	for _, category := range categories {
		categoryTools := byCategory[category]
		slices.SortFunc(categoryTools, func(a, b mcp.Tool) int { return strings.Compare(a.Name, b.Name) })

		fmt.Fprintf(&sb, "## %s\n\n", category)
		for _, tool := range categoryTools {
			sb.WriteString(generateToolMarkdown(tool))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func groupToolsByCategory(tools []mcp.Tool) map[string][]mcp.Tool {
	categories := make(map[string][]mcp.Tool)
	for _, tool := range tools {
		category := getCategoryFromToolName(tool.Name)
		categories[category] = append(categories[category], tool)
	}
	return categories
}

func getCategoryFromToolName(name string) string {
	switch {
	case strings.HasSuffix(name, "_workspace_authentication"), name == "authenticate_workspace_account":
		return "Authorization Tools"
	case strings.HasSuffix(name, "_workspace_accounts"), strings.HasSuffix(name, "_workspace_account"), strings.HasSuffix(name, "_workspace_profile"):
		return "Account Tools"
	default:
		return "Other"
	}
}

func generateToolMarkdown(tool mcp.Tool) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "### %s\n\n", tool.Name)
	if tool.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", tool.Description)
	}
	if hints := toolHints(tool.Annotations); hints != "" {
		fmt.Fprintf(&sb, "*%s*\n\n", hints)
	}

	if len(tool.InputSchema.Properties) == 0 {
		sb.WriteString("No arguments.\n")
		return sb.String()
	}

	sb.WriteString("**Arguments:**\n")
	for _, name := range slices.Sorted(maps.Keys(tool.InputSchema.Properties)) {
		prop, ok := tool.InputSchema.Properties[name].(map[string]any)
		if !ok {
			continue
		}

		requirement := "optional"
		if slices.Contains(tool.InputSchema.Required, name) {
			requirement = "required"
		}

		desc, _ := prop["description"].(string)
		if desc == "" {
			desc = getPropertyType(prop) + " parameter"
		}
		fmt.Fprintf(&sb, "- `%s` (%s): %s\n", name, requirement, desc)
	}
	sb.WriteString("\n")

	return sb.String()
}

// toolHints renders the behavior annotation a client would show before
// invoking the tool. Read-only wins over the destructive default.
func toolHints(a mcp.ToolAnnotation) string {
	switch {
	case a.ReadOnlyHint != nil && *a.ReadOnlyHint:
		return "read-only"
	case a.DestructiveHint != nil && *a.DestructiveHint:
		return "destructive"
	}
	return ""
}

func getPropertyType(prop map[string]any) string {
	if t, ok := prop["type"].(string); ok {
		return t
	}
	return "any"
}

// newDocsServerContext builds a server context that is never served. The
// tools are only introspected, so a memory store and a placeholder OAuth
// client suffice.
func newDocsServerContext(ctx context.Context) (*server.ServerContext, error) {
	provider, err := google.NewProvider(google.Config{ClientID: "generate-docs", ClientSecret: "generate-docs"})
	if err != nil {
		return nil, err
	}
	creds, err := credentials.NewManager(credentials.Config{
		Store:     tokenstore.NewMemoryStore(),
		Refresher: provider,
	})
	if err != nil {
		return nil, err
	}
	flows, err := authflow.New(authflow.Config{Provider: provider, Credentials: creds})
	if err != nil {
		return nil, err
	}
	sc, err := server.NewServerContext(ctx, server.Options{Credentials: creds, Flows: flows})
	if err != nil {
		flows.Stop()
		return nil, fmt.Errorf("failed to create server context: %w", err)
	}
	return sc, nil
}
