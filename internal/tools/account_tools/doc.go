// Package account_tools exposes the account broker as MCP tools.
//
// Tools:
//   - list_workspace_accounts: list known accounts and whether each holds a
//     usable credential
//   - authenticate_workspace_account: start authorization and return the
//     consent URL and state token
//   - complete_workspace_authentication: finish authorization with the state
//     token and the code the provider returned
//   - await_workspace_authentication: wait for an attempt completed through
//     the callback receiver
//   - remove_workspace_account: forget an account
//   - get_workspace_profile: fetch the Gmail profile using the managed
//     credential
//
// No tool ever returns token material.
package account_tools
