package account_tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/accountbroker/internal/server/servertest"
)

func call(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	result, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func text(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	tc, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	return tc.Text
}

func TestRegisterAccountTools(t *testing.T) {
	env := servertest.New(t, servertest.Config{})
	s := mcpserver.NewMCPServer("test", "0.0.0", mcpserver.WithToolCapabilities(true))

	require.NoError(t, RegisterAccountTools(s, env.Context))
	assert.Error(t, RegisterAccountTools(nil, env.Context))

	resp := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	out, err := json.Marshal(resp)
	require.NoError(t, err)

	for _, name := range []string{
		"list_workspace_accounts",
		"authenticate_workspace_account",
		"complete_workspace_authentication",
		"await_workspace_authentication",
		"remove_workspace_account",
		"get_workspace_profile",
	} {
		assert.Contains(t, string(out), `"`+name+`"`)
	}
}

func TestAccountToolsLifecycle(t *testing.T) {
	env := servertest.New(t, servertest.Config{})
	sc := env.Context
	env.Provider.SetIdentity("jane@example.com")

	var listed accountsResult
	require.NoError(t, json.Unmarshal([]byte(text(t, call(t, listAccounts(sc), nil))), &listed))
	assert.Equal(t, 0, listed.Total)

	result := call(t, authenticate(sc), map[string]any{"email": "Jane@Example.com"})
	require.False(t, result.IsError, text(t, result))
	var auth authorizationResult
	require.NoError(t, json.Unmarshal([]byte(text(t, result)), &auth))
	assert.Equal(t, "jane@example.com", auth.Email)
	assert.Contains(t, auth.AuthURL, "login_hint=jane%40example.com")
	assert.NotEmpty(t, auth.Instructions)

	result = call(t, complete(sc), map[string]any{"state": auth.State, "code": "abc"})
	require.False(t, result.IsError, text(t, result))
	assert.Contains(t, text(t, result), "jane@example.com")

	result = call(t, complete(sc), map[string]any{"state": auth.State, "code": "abc"})
	assert.True(t, result.IsError, "a state token completes once")
	assert.Contains(t, text(t, result), "authenticate_workspace_account")

	listText := text(t, call(t, listAccounts(sc), nil))
	assert.NotContains(t, listText, "access-abc")
	require.NoError(t, json.Unmarshal([]byte(listText), &listed))
	require.Equal(t, 1, listed.Total)
	assert.True(t, listed.Accounts[0].Authenticated)

	result = call(t, profile(sc), map[string]any{"email": "jane@example.com"})
	require.False(t, result.IsError, text(t, result))
	assert.Contains(t, text(t, result), `"messagesTotal": 42`)

	result = call(t, remove(sc), map[string]any{"email": "jane@example.com"})
	require.False(t, result.IsError)

	result = call(t, profile(sc), map[string]any{"email": "jane@example.com"})
	assert.True(t, result.IsError)
	assert.Contains(t, text(t, result), "authenticate_workspace_account")
}

func TestAccountTools_Validation(t *testing.T) {
	sc := servertest.New(t, servertest.Config{}).Context

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]any
	}{
		{"complete without code", complete(sc), map[string]any{"state": "s"}},
		{"complete without state", complete(sc), map[string]any{"code": "c"}},
		{"complete with unknown state", complete(sc), map[string]any{"state": "nope", "code": "c"}},
		{"await without state", await(sc), nil},
		{"remove without email", remove(sc), nil},
		{"profile without email", profile(sc), map[string]any{"email": "  "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, call(t, tt.handler, tt.args).IsError)
		})
	}
}

func TestAwaitWorkspaceAuthentication(t *testing.T) {
	env := servertest.New(t, servertest.Config{})
	env.Provider.SetIdentity("jane@example.com")

	auth, err := env.Flows.Begin(context.Background(), "")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = env.Flows.Complete(context.Background(), auth.State, "abc")
	}()

	result := call(t, await(env.Context), map[string]any{"state": auth.State, "timeout_seconds": float64(5)})
	require.False(t, result.IsError, text(t, result))
	assert.Contains(t, text(t, result), "jane@example.com")
}

func TestAwaitWorkspaceAuthentication_StillPending(t *testing.T) {
	env := servertest.New(t, servertest.Config{})

	auth, err := env.Flows.Begin(context.Background(), "")
	require.NoError(t, err)

	result := call(t, await(env.Context), map[string]any{"state": auth.State, "timeout_seconds": 0.05})
	assert.True(t, result.IsError)
	assert.Contains(t, text(t, result), "still pending")

	env.Provider.SetIdentity("jane@example.com")
	account, err := env.Flows.Complete(context.Background(), auth.State, "abc")
	require.NoError(t, err, "a timed out wait leaves the attempt valid")
	assert.Equal(t, "jane@example.com", account)
}
