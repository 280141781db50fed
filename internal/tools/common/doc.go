// Package common provides shared helpers for the MCP tool packages:
// argument extraction and the instrumentation wrapper every tool handler is
// registered through.
package common
