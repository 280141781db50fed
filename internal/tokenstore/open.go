package tokenstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/teemow/accountbroker/internal/credentials"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendValkey = "valkey"
	BackendMemory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	// Dir is the directory of the file backend.
	Dir string
	// SQLitePath is the database path of the sqlite backend.
	SQLitePath string
	Valkey     ValkeyConfig
	// EncryptionKey is a base64 AES-256 key. Empty disables encryption.
	EncryptionKey string
}

// Store is a credentials.Store that owns resources to release.
type Store interface {
	credentials.Store
	io.Closer
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	key, err := KeyFromBase64(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}

	var store Store
	switch cfg.Backend {
	case BackendFile, "":
		store, err = NewFileStore(cfg.Dir, c, logger)
	case BackendSQLite:
		store, err = OpenSQLite(ctx, cfg.SQLitePath, c)
	case BackendValkey:
		store, err = NewValkeyStore(cfg.Valkey, c)
	case BackendMemory:
		logger.Warn("memory token store enabled - credentials are lost on restart")
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported token store %q, must be one of: file, sqlite, valkey, memory", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s token store: %w", cfg.Backend, err)
	}

	logger.Info("token store ready",
		slog.String("backend", backendName(cfg.Backend)),
		slog.Bool("encrypted", c.Enabled()))
	return store, nil
}

func backendName(b string) string {
	if b == "" {
		return BackendFile
	}
	return b
}
