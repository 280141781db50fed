package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/teemow/accountbroker/internal/credentials"
	"github.com/teemow/accountbroker/internal/logging"
)

const (
	fileExt  = ".json"
	dirPerm  = 0o700
	filePerm = 0o600
)

// FileStore keeps one JSON document per account in a directory.
//
// Writes go to a temporary file that is renamed over the target, so a
// concurrent Read sees either the old or the new document, never a partial
// one.
type FileStore struct {
	dir    string
	codec  codec
	logger *slog.Logger
}

// NewFileStore creates the directory if needed and returns a FileStore.
func NewFileStore(dir string, c *Cipher, logger *slog.Logger) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("token directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create token directory: %w", err)
	}
	return &FileStore{
		dir:    dir,
		codec:  codec{cipher: c},
		logger: logging.WithComponent(logger, "tokenstore.file"),
	}, nil
}

// Dir returns the directory holding the documents.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(account string) (string, error) {
	name := url.PathEscape(account) + fileExt
	if account == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid account identifier for file store")
	}
	return filepath.Join(s.dir, name), nil
}

func (s *FileStore) Read(ctx context.Context, account string) (*credentials.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(account)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, credentials.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	_, rec, err := s.codec.unmarshal(data)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *FileStore) Write(ctx context.Context, account string, rec *credentials.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(account)
	if err != nil {
		return err
	}

	data, err := s.codec.marshal(account, rec, time.Now())
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename credential file: %w", err)
	}

	s.logger.Debug("credential file written", logging.UserHash(account))
	return nil
}

func (s *FileStore) Delete(ctx context.Context, account string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(account)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete credential file: %w", err)
	}
	return nil
}

// List returns the account identifiers recorded inside the documents.
// Unreadable documents are skipped and logged.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read token directory: %w", err)
	}

	var accounts []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		account, err := s.accountOf(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Warn("skipping unreadable credential file", slog.String("file", name), logging.Err(err))
			continue
		}
		accounts = append(accounts, account)
	}
	slices.Sort(accounts)
	return accounts, nil
}

func (s *FileStore) accountOf(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	// Listing must work without the encryption key, so only the plaintext
	// account field is decoded.
	var doc struct {
		Account string `json:"account"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", err
	}
	if doc.Account != "" {
		return doc.Account, nil
	}
	return url.PathUnescape(strings.TrimSuffix(filepath.Base(path), fileExt))
}

// Close implements io.Closer.
func (s *FileStore) Close() error { return nil }
