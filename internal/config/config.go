// Package config loads the broker configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/teemow/accountbroker/internal/google"
	"github.com/teemow/accountbroker/internal/tokenstore"
)

// Front ends.
const (
	FrontendInteractiveAPI = "interactive-api"
	FrontendToolProtocol   = "tool-protocol"
)

// MCP transports.
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"
)

// Config is the complete broker configuration.
type Config struct {
	Google GoogleConfig

	// Frontend selects the surface exposed by serve.
	Frontend string `env:"FRONTEND" envDefault:"tool-protocol"`
	// Transport is the MCP transport of the tool-protocol front end.
	Transport string `env:"MCP_TRANSPORT" envDefault:"stdio"`
	// HTTPAddr is the listen address of the interactive API and of the
	// streamable-http transport.
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	// CallbackAddr runs a standalone OAuth callback receiver next to the
	// tool-protocol front end. Empty disables it.
	CallbackAddr string `env:"CALLBACK_ADDR"`

	Store StoreConfig

	ExpiryMargin   time.Duration `env:"TOKEN_EXPIRY_MARGIN" envDefault:"60s"`
	RefreshTimeout time.Duration `env:"REFRESH_TIMEOUT" envDefault:"30s"`
	StateTTL       time.Duration `env:"AUTH_STATE_TTL" envDefault:"10m"`
	// TrustRequestedAccount skips the identity check when an authorization
	// was started for a known account.
	TrustRequestedAccount bool `env:"AUTH_TRUST_REQUESTED_ACCOUNT" envDefault:"false"`

	Metrics MetricsConfig

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// GoogleConfig holds the OAuth client registration.
type GoogleConfig struct {
	ClientID     string   `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string   `env:"GOOGLE_CLIENT_SECRET"`
	RedirectURL  string   `env:"GOOGLE_REDIRECT_URI" envDefault:"http://localhost:8080/oauth/callback"`
	Scopes       []string `env:"GOOGLE_SCOPES" envSeparator:","`
}

// StoreConfig selects the credential store backend.
type StoreConfig struct {
	Backend    string `env:"TOKEN_STORE" envDefault:"file"`
	Dir        string `env:"TOKEN_DIR"`
	SQLitePath string `env:"TOKEN_DB_PATH"`
	// EncryptionKey is a base64 AES-256 key. Generate with:
	// openssl rand -base64 32
	EncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`

	Valkey ValkeyConfig
}

// ValkeyConfig holds the Valkey backend connection settings.
type ValkeyConfig struct {
	Address    string `env:"VALKEY_ADDR"`
	Password   string `env:"VALKEY_PASSWORD"`
	DB         int    `env:"VALKEY_DB" envDefault:"0"`
	TLSEnabled bool   `env:"VALKEY_TLS_ENABLED" envDefault:"false"`
	TLSCAFile  string `env:"VALKEY_TLS_CA_FILE"`
	KeyPrefix  string `env:"VALKEY_KEY_PREFIX" envDefault:"accountbroker:"`
}

// MetricsConfig holds configuration for the metrics server.
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server.
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	// Addr is the address for the metrics server (e.g., ":9090").
	Addr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// Load parses the environment and fills in directory defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config from environment: %w", err)
	}

	base, err := DataDir()
	if err != nil {
		return Config{}, err
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = filepath.Join(base, "tokens")
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = filepath.Join(base, "credentials.db")
	}
	return cfg, nil
}

// DataDir returns the default directory for broker state.
func DataDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config directory: %w", err)
	}
	return filepath.Join(dir, "accountbroker"), nil
}

// Validate checks the settings that do not depend on the selected command.
func (c *Config) Validate() error {
	var errs []error

	switch c.Frontend {
	case FrontendInteractiveAPI, FrontendToolProtocol:
	default:
		errs = append(errs, fmt.Errorf("invalid frontend %q, must be one of: %s, %s", c.Frontend, FrontendInteractiveAPI, FrontendToolProtocol))
	}

	switch c.Transport {
	case TransportStdio, TransportStreamableHTTP:
	default:
		errs = append(errs, fmt.Errorf("invalid transport %q, must be one of: %s, %s", c.Transport, TransportStdio, TransportStreamableHTTP))
	}

	switch c.Store.Backend {
	case tokenstore.BackendFile, tokenstore.BackendSQLite, tokenstore.BackendMemory:
	case tokenstore.BackendValkey:
		if c.Store.Valkey.Address == "" {
			errs = append(errs, errors.New("VALKEY_ADDR is required for the valkey token store"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid token store %q, must be one of: file, sqlite, valkey, memory", c.Store.Backend))
	}

	if _, err := tokenstore.KeyFromBase64(c.Store.EncryptionKey); err != nil {
		errs = append(errs, fmt.Errorf("invalid TOKEN_ENCRYPTION_KEY: %w", err))
	}

	if c.ExpiryMargin < 0 {
		errs = append(errs, errors.New("token expiry margin must not be negative"))
	}
	if c.RefreshTimeout <= 0 {
		errs = append(errs, errors.New("refresh timeout must be positive"))
	}
	if c.StateTTL <= 0 {
		errs = append(errs, errors.New("authorization state TTL must be positive"))
	}

	return errors.Join(errs...)
}

// ValidateGoogle checks the OAuth client registration, which only commands
// talking to the provider need.
func (c *Config) ValidateGoogle() error {
	var errs []error
	if c.Google.ClientID == "" {
		errs = append(errs, errors.New("GOOGLE_CLIENT_ID is required"))
	}
	if c.Google.ClientSecret == "" {
		errs = append(errs, errors.New("GOOGLE_CLIENT_SECRET is required"))
	}
	if c.Google.RedirectURL == "" {
		errs = append(errs, errors.New("GOOGLE_REDIRECT_URI is required"))
	}
	return errors.Join(errs...)
}

// TokenStore returns the tokenstore configuration.
func (c *Config) TokenStore() tokenstore.Config {
	return tokenstore.Config{
		Backend:       c.Store.Backend,
		Dir:           c.Store.Dir,
		SQLitePath:    c.Store.SQLitePath,
		EncryptionKey: c.Store.EncryptionKey,
		Valkey: tokenstore.ValkeyConfig{
			Address:    c.Store.Valkey.Address,
			Password:   c.Store.Valkey.Password,
			DB:         c.Store.Valkey.DB,
			TLSEnabled: c.Store.Valkey.TLSEnabled,
			TLSCAFile:  c.Store.Valkey.TLSCAFile,
			KeyPrefix:  c.Store.Valkey.KeyPrefix,
		},
	}
}

// GoogleProvider returns the provider configuration.
func (c *Config) GoogleProvider() google.Config {
	return google.Config{
		ClientID:     c.Google.ClientID,
		ClientSecret: c.Google.ClientSecret,
		RedirectURL:  c.Google.RedirectURL,
		Scopes:       c.Google.Scopes,
	}
}
