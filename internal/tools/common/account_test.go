package common

import (
	"testing"
)

func TestAccountFromArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     map[string]any
		expected string
	}{
		{
			name:     "no account specified",
			args:     map[string]any{},
			expected: "",
		},
		{
			name:     "account is normalized",
			args:     map[string]any{"email": " Jane@Example.COM "},
			expected: "jane@example.com",
		},
		{
			name:     "account with other params",
			args:     map[string]any{"email": "bob@example.com", "other": "value"},
			expected: "bob@example.com",
		},
		{
			name:     "nil args",
			args:     nil,
			expected: "",
		},
		{
			name:     "non-string account type",
			args:     map[string]any{"email": 123},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AccountFromArgs(tt.args); got != tt.expected {
				t.Errorf("AccountFromArgs() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestStringArg(t *testing.T) {
	args := map[string]any{"state": "  abc  ", "n": 5}

	if got := StringArg(args, "state"); got != "abc" {
		t.Errorf("StringArg(state) = %q, want %q", got, "abc")
	}
	if got := StringArg(args, "n"); got != "" {
		t.Errorf("StringArg(n) = %q, want empty", got)
	}
	if got := StringArg(args, "missing"); got != "" {
		t.Errorf("StringArg(missing) = %q, want empty", got)
	}
}
