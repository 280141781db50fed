package tokenstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/teemow/accountbroker/internal/credentials"
)

// SQLiteStore keeps records in a single SQLite table. Each Write is a
// single-row upsert.
type SQLiteStore struct {
	db    *sql.DB
	codec codec
}

// OpenSQLite opens (or creates) the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string, c *Cipher) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), dirPerm); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	dsn := "file:" + cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, codec: codec{cipher: c}}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Read(ctx context.Context, account string) (*credentials.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		access, refresh, tokenType, scopesRaw string
		expiresAt                             sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, token_type, scopes, expires_at
		 FROM credentials WHERE account = ?`, account,
	).Scan(&access, &refresh, &tokenType, &scopesRaw, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credentials.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}

	accessSecret, refreshSecret, err := s.codec.openTokens(access, refresh)
	if err != nil {
		return nil, err
	}
	scopes, err := decodeScopes(scopesRaw)
	if err != nil {
		return nil, err
	}

	rec := &credentials.Record{
		AccessToken:  accessSecret,
		RefreshToken: refreshSecret,
		TokenType:    tokenType,
		Scopes:       scopes,
	}
	if expiresAt.Valid {
		rec.Expiry = fromMillis(expiresAt.Int64)
	}
	return rec, nil
}

func (s *SQLiteStore) Write(ctx context.Context, account string, rec *credentials.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	access, refresh, err := s.codec.sealTokens(rec)
	if err != nil {
		return err
	}
	scopes, err := encodeScopes(rec.Scopes)
	if err != nil {
		return err
	}
	var expiresAt sql.NullInt64
	if !rec.Expiry.IsZero() {
		expiresAt = sql.NullInt64{Int64: toMillis(rec.Expiry), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO credentials (account, access_token, refresh_token, token_type, scopes, expires_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(account) DO UPDATE SET
    access_token = excluded.access_token,
    refresh_token = excluded.refresh_token,
    token_type = excluded.token_type,
    scopes = excluded.scopes,
    expires_at = excluded.expires_at,
    updated_at = excluded.updated_at`,
		account, access, refresh, rec.TokenType, scopes, expiresAt, toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, account string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE account = ?`, account); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT account FROM credentials ORDER BY account`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			return nil, fmt.Errorf("scan credential row: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credential rows: %w", err)
	}
	return accounts, nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func encodeScopes(scopes []string) (string, error) {
	if len(scopes) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal(scopes)
	if err != nil {
		return "", fmt.Errorf("marshal scopes: %w", err)
	}
	return string(encoded), nil
}

func decodeScopes(value string) ([]string, error) {
	value = strings.TrimSpace(value)
	if value == "" || value == "[]" {
		return nil, nil
	}
	var scopes []string
	if err := json.Unmarshal([]byte(value), &scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}
	return scopes, nil
}
