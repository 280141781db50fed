// Package cmd implements the command-line interface for accountbroker.
//
// This package provides the following commands:
//   - serve: Run the broker with the interactive API or the tool-protocol front end
//   - accounts: List, log in, remove and clear accounts from the terminal
//   - check: Validate the configuration and probe the credential store
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for all MCP tools
//
// Configuration comes from the environment (see internal/config); flags
// override the matching variables only when set explicitly.
package cmd
