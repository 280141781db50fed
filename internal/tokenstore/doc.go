// Package tokenstore provides durable credentials.Store backends.
//
// Backends:
//   - file: one JSON document per account under a directory (default)
//   - sqlite: a single SQLite database (modernc.org/sqlite, no cgo)
//   - valkey: a shared Valkey/Redis instance, for multiple replicas
//   - memory: process-local, for tests and development
//
// Token fields are sealed with AES-256-GCM when an encryption key is
// configured. Account identifiers and expiry stay in the clear so stores can
// be listed without the key.
package tokenstore
