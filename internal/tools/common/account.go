package common

import (
	"strings"

	"github.com/teemow/accountbroker/internal/credentials"
)

// AccountArg is the tool argument naming a Google Workspace account.
const AccountArg = "email"

// AccountFromArgs returns the normalized account identifier from the tool
// arguments, or "" when none was given.
func AccountFromArgs(args map[string]any) string {
	account, _ := args[AccountArg].(string)
	return credentials.NormalizeAccount(account)
}

// StringArg returns a trimmed string argument, or "" when absent or not a
// string.
func StringArg(args map[string]any, name string) string {
	v, _ := args[name].(string)
	return strings.TrimSpace(v)
}
