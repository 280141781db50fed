package tokenstore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/teemow/accountbroker/internal/credentials"
)

// DefaultValkeyKeyPrefix is prepended to every key written by ValkeyStore.
const DefaultValkeyKeyPrefix = "accountbroker:"

// ValkeyConfig configures a ValkeyStore.
type ValkeyConfig struct {
	// Address is the Valkey server address (e.g. "valkey.namespace.svc:6379")
	Address  string
	Password string
	DB       int

	TLSEnabled bool
	// TLSCAFile is an optional PEM bundle for servers using a private CA.
	TLSCAFile string

	// KeyPrefix defaults to DefaultValkeyKeyPrefix.
	KeyPrefix string
}

// ValkeyStore keeps one JSON document per account under
// <prefix>credential:<account>, plus a set <prefix>accounts indexing the
// stored account identifiers. Several broker replicas can share it.
type ValkeyStore struct {
	client valkey.Client
	prefix string
	codec  codec
}

// NewValkeyStore connects to Valkey.
func NewValkeyStore(cfg ValkeyConfig, c *Cipher) (*ValkeyStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("valkey address is required")
	}

	opt := valkey.ClientOption{
		InitAddress: []string{cfg.Address},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	}
	if cfg.TLSEnabled {
		tlsCfg, err := valkeyTLSConfig(cfg.TLSCAFile)
		if err != nil {
			return nil, err
		}
		opt.TLSConfig = tlsCfg
	}

	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("connect to valkey: %w", err)
	}
	return newValkeyStore(client, cfg.KeyPrefix, c), nil
}

func newValkeyStore(client valkey.Client, prefix string, c *Cipher) *ValkeyStore {
	if prefix == "" {
		prefix = DefaultValkeyKeyPrefix
	}
	return &ValkeyStore{client: client, prefix: prefix, codec: codec{cipher: c}}
}

func valkeyTLSConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read valkey CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("valkey CA file contains no certificates")
	}
	cfg.RootCAs = pool
	return cfg, nil
}

func (s *ValkeyStore) key(account string) string {
	return s.prefix + "credential:" + account
}

func (s *ValkeyStore) indexKey() string {
	return s.prefix + "accounts"
}

func (s *ValkeyStore) Read(ctx context.Context, account string) (*credentials.Record, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.key(account)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, credentials.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("valkey get: %w", err)
	}
	_, rec, err := s.codec.unmarshal(data)
	return rec, err
}

// Write stores the document with a single SET, so readers never observe a
// partial record, and adds the account to the index set in the same
// transaction.
func (s *ValkeyStore) Write(ctx context.Context, account string, rec *credentials.Record) error {
	data, err := s.codec.marshal(account, rec, time.Now())
	if err != nil {
		return err
	}

	if err := s.transaction(ctx,
		s.client.B().Set().Key(s.key(account)).Value(valkey.BinaryString(data)).Build(),
		s.client.B().Sadd().Key(s.indexKey()).Member(account).Build(),
	); err != nil {
		return fmt.Errorf("valkey write: %w", err)
	}
	return nil
}

func (s *ValkeyStore) Delete(ctx context.Context, account string) error {
	if err := s.transaction(ctx,
		s.client.B().Del().Key(s.key(account)).Build(),
		s.client.B().Srem().Key(s.indexKey()).Member(account).Build(),
	); err != nil {
		return fmt.Errorf("valkey delete: %w", err)
	}
	return nil
}

// transaction runs cmds between MULTI and EXEC. Errors raised while queueing
// abort the whole transaction; errors of individual commands are reported
// from the EXEC reply.
func (s *ValkeyStore) transaction(ctx context.Context, cmds ...valkey.Completed) error {
	multi := make([]valkey.Completed, 0, len(cmds)+2)
	multi = append(multi, s.client.B().Multi().Build())
	multi = append(multi, cmds...)
	multi = append(multi, s.client.B().Exec().Build())

	results := s.client.DoMulti(ctx, multi...)
	for _, r := range results {
		if err := r.Error(); err != nil {
			return err
		}
	}

	replies, err := results[len(results)-1].ToArray()
	if err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	if len(replies) != len(cmds) {
		return fmt.Errorf("exec: got %d replies for %d commands", len(replies), len(cmds))
	}
	for _, reply := range replies {
		if err := reply.Error(); err != nil {
			return err
		}
	}
	return nil
}

func (s *ValkeyStore) List(ctx context.Context) ([]string, error) {
	accounts, err := s.client.Do(ctx, s.client.B().Smembers().Key(s.indexKey()).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("valkey list: %w", err)
	}
	slices.Sort(accounts)
	return accounts, nil
}

// Close closes the client.
func (s *ValkeyStore) Close() error {
	s.client.Close()
	return nil
}
