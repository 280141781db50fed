package account_tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/accountbroker/internal/authflow"
	"github.com/teemow/accountbroker/internal/credentials"
	"github.com/teemow/accountbroker/internal/server"
	"github.com/teemow/accountbroker/internal/tools/common"
)

const (
	// DefaultAwaitTimeout bounds await_workspace_authentication when the
	// caller gives no timeout.
	DefaultAwaitTimeout = 2 * time.Minute
	maxAwaitTimeout     = 10 * time.Minute
)

// RegisterAccountTools registers the account tools with the MCP server.
func RegisterAccountTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	if s == nil || sc == nil {
		return errors.New("mcp server and server context are required")
	}

	listTool := mcp.NewTool("list_workspace_accounts",
		mcp.WithDescription("List the Google Workspace accounts known to the broker and whether each one is authenticated"),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(listTool, common.InstrumentedToolHandler("list_workspace_accounts", sc, listAccounts(sc)))

	authenticateTool := mcp.NewTool("authenticate_workspace_account",
		mcp.WithDescription("Start authorizing a Google Workspace account. Returns a URL the user must open and a state token. "+
			"When the broker runs a callback receiver the account is saved automatically after consent; otherwise pass the state "+
			"and the returned code to complete_workspace_authentication."),
		mcp.WithString(common.AccountArg,
			mcp.Description("Email address of the account to authorize. Optional; when omitted the account is taken from the signed-in Google identity."),
		),
		mcp.WithDestructiveHintAnnotation(false),
	)
	s.AddTool(authenticateTool, common.InstrumentedToolHandler("authenticate_workspace_account", sc, authenticate(sc)))

	completeTool := mcp.NewTool("complete_workspace_authentication",
		mcp.WithDescription("Complete an authorization started with authenticate_workspace_account"),
		mcp.WithString("state",
			mcp.Required(),
			mcp.Description("State token returned by authenticate_workspace_account"),
		),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("Authorization code returned by Google after consent"),
		),
		mcp.WithDestructiveHintAnnotation(false),
	)
	s.AddTool(completeTool, common.InstrumentedToolHandler("complete_workspace_authentication", sc, complete(sc)))

	awaitTool := mcp.NewTool("await_workspace_authentication",
		mcp.WithDescription("Wait until an authorization started with authenticate_workspace_account is completed through the callback receiver"),
		mcp.WithString("state",
			mcp.Required(),
			mcp.Description("State token returned by authenticate_workspace_account"),
		),
		mcp.WithNumber("timeout_seconds",
			mcp.Description(fmt.Sprintf("How long to wait (default %d, max %d)", int(DefaultAwaitTimeout.Seconds()), int(maxAwaitTimeout.Seconds()))),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(awaitTool, common.InstrumentedToolHandler("await_workspace_authentication", sc, await(sc)))

	removeTool := mcp.NewTool("remove_workspace_account",
		mcp.WithDescription("Remove a Google Workspace account and its stored credential"),
		mcp.WithString(common.AccountArg,
			mcp.Required(),
			mcp.Description("Email address of the account to remove"),
		),
		mcp.WithDestructiveHintAnnotation(true),
	)
	s.AddTool(removeTool, common.InstrumentedToolHandler("remove_workspace_account", sc, remove(sc)))

	profileTool := mcp.NewTool("get_workspace_profile",
		mcp.WithDescription("Get the Gmail profile (address, message and thread totals) of an authenticated account"),
		mcp.WithString(common.AccountArg,
			mcp.Required(),
			mcp.Description("Email address of the account"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(profileTool, common.InstrumentedToolHandler("get_workspace_profile", sc, profile(sc)))

	return nil
}

type accountsResult struct {
	Accounts []credentials.AccountStatus `json:"accounts"`
	Total    int                         `json:"total"`
}

func listAccounts(sc *server.ServerContext) common.ToolHandler {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		accounts, err := sc.Credentials().Accounts(ctx)
		if err != nil {
			return toolError("Failed to list accounts", err), nil
		}
		return jsonResult(accountsResult{Accounts: accounts, Total: len(accounts)})
	}
}

type authorizationResult struct {
	AuthURL      string    `json:"authUrl"`
	State        string    `json:"state"`
	Email        string    `json:"email,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Instructions string    `json:"instructions"`
}

func authenticate(sc *server.ServerContext) common.ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		account := common.AccountFromArgs(request.GetArguments())

		auth, err := sc.Flows().Begin(ctx, account)
		if err != nil {
			return toolError("Failed to start authorization", err), nil
		}

		return jsonResult(authorizationResult{
			AuthURL:   auth.URL,
			State:     auth.State,
			Email:     auth.Account,
			ExpiresAt: auth.ExpiresAt,
			Instructions: "Ask the user to open authUrl, sign in and grant access before expiresAt. " +
				"Then call await_workspace_authentication with the state, or complete_workspace_authentication " +
				"with the state and the code Google returned.",
		})
	}
}

func complete(sc *server.ServerContext) common.ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		state := common.StringArg(args, "state")
		code := common.StringArg(args, "code")
		if state == "" || code == "" {
			return mcp.NewToolResultError("state and code are required"), nil
		}

		account, err := sc.Flows().Complete(ctx, state, code)
		if err != nil {
			return toolError("Authorization failed", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Account %s is authenticated.", account)), nil
	}
}

func await(sc *server.ServerContext) common.ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		state := common.StringArg(args, "state")
		if state == "" {
			return mcp.NewToolResultError("state is required"), nil
		}

		timeout := DefaultAwaitTimeout
		if secs, ok := args["timeout_seconds"].(float64); ok && secs > 0 {
			timeout = min(time.Duration(secs*float64(time.Second)), maxAwaitTimeout)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		account, err := sc.Flows().Await(ctx, state)
		if errors.Is(err, context.DeadlineExceeded) {
			return mcp.NewToolResultError("Authorization is still pending. Call await_workspace_authentication again or complete it with the code."), nil
		}
		if err != nil {
			return toolError("Authorization failed", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Account %s is authenticated.", account)), nil
	}
}

func remove(sc *server.ServerContext) common.ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		account := common.AccountFromArgs(request.GetArguments())
		if account == "" {
			return mcp.NewToolResultError("email is required"), nil
		}

		if err := sc.Credentials().Remove(ctx, account); err != nil {
			return toolError("Failed to remove account", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Successfully removed account: %s", account)), nil
	}
}

func profile(sc *server.ServerContext) common.ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		account := common.AccountFromArgs(request.GetArguments())
		if account == "" {
			return mcp.NewToolResultError("email is required"), nil
		}

		profiles := sc.Profiles()
		if profiles == nil {
			return mcp.NewToolResultError("profile lookups are not configured"), nil
		}

		p, err := profiles.Profile(ctx, account)
		if err != nil {
			return toolError("Failed to get profile", err), nil
		}
		return jsonResult(p)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}

// toolError renders err with guidance on how to recover.
func toolError(prefix string, err error) *mcp.CallToolResult {
	msg := fmt.Sprintf("%s: %v", prefix, err)
	switch {
	case errors.Is(err, credentials.ErrStoreUnavailable):
		msg += "\n\nThe credential store is temporarily unavailable. Retry later."
	case errors.Is(err, credentials.ErrNotAuthenticated):
		msg += "\n\nThe account needs to be (re)authorized. Call authenticate_workspace_account with its email address."
	case errors.Is(err, authflow.ErrInvalidState):
		msg += "\n\nThe authorization attempt is unknown, expired or already used. Start a new one with authenticate_workspace_account."
	}
	return mcp.NewToolResultError(msg)
}
