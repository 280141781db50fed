package tokenstore

import (
	"context"
	"slices"
	"sync"

	"github.com/teemow/accountbroker/internal/credentials"
)

// MemoryStore keeps records in process memory. Records do not survive a
// restart; use it for tests and local development only.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*credentials.Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*credentials.Record)}
}

func (s *MemoryStore) Read(ctx context.Context, account string) (*credentials.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[account]
	if !ok {
		return nil, credentials.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Write(ctx context.Context, account string, rec *credentials.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[account] = rec.Clone()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, account string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, account)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

// Close implements io.Closer.
func (s *MemoryStore) Close() error { return nil }
