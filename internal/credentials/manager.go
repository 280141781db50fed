package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/teemow/accountbroker/internal/instrumentation"
	"github.com/teemow/accountbroker/internal/logging"
)

const (
	// DefaultExpiryMargin is how long before its literal expiry an access token
	// stops being served.
	DefaultExpiryMargin = 60 * time.Second

	// DefaultRefreshTimeout bounds a single refresh, including the store write.
	DefaultRefreshTimeout = 30 * time.Second
)

const (
	opGet     = "get credential"
	opStore   = "store credential"
	opRefresh = "refresh credential"
	opRemove  = "remove account"
)

// Config configures a Manager.
type Config struct {
	Store     Store
	Refresher Refresher

	// ExpiryMargin defaults to DefaultExpiryMargin.
	ExpiryMargin time.Duration
	// RefreshTimeout defaults to DefaultRefreshTimeout.
	RefreshTimeout time.Duration

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
	Clock   Clock
}

// entry is the per-account cache slot.
//
// rec is read without locking. mu serializes every commit (store write
// followed by cache publish) for the account, and gen is bumped on each
// commit so that a refresh started before a Store or Remove cannot overwrite
// the newer state.
type entry struct {
	rec      atomic.Pointer[Record]
	rejected atomic.Bool
	gen      atomic.Uint64

	mu sync.Mutex
}

// Manager creates, persists, refreshes and serves per-account credentials.
type Manager struct {
	store     Store
	refresher Refresher
	margin    time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *instrumentation.Metrics
	audit     *instrumentation.AuditLogger
	now       Clock

	entries sync.Map // account -> *entry
	flights singleflight.Group
}

// NewManager creates a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("credentials: store is required")
	}
	if cfg.Refresher == nil {
		return nil, errors.New("credentials: refresher is required")
	}

	m := &Manager{
		store:     cfg.Store,
		refresher: cfg.Refresher,
		margin:    cfg.ExpiryMargin,
		timeout:   cfg.RefreshTimeout,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		audit:     cfg.Audit,
		now:       cfg.Clock,
	}
	if m.margin <= 0 {
		m.margin = DefaultExpiryMargin
	}
	if m.timeout <= 0 {
		m.timeout = DefaultRefreshTimeout
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = logging.WithComponent(m.logger, "credentials")
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

func (m *Manager) entry(account string) *entry {
	if e, ok := m.entries.Load(account); ok {
		return e.(*entry)
	}
	e, _ := m.entries.LoadOrStore(account, &entry{})
	return e.(*entry)
}

// Credential returns a usable credential for account.
//
// A usable cached credential is returned without I/O. Otherwise the record is
// loaded from the store and, if expired, refreshed. Concurrent callers for the
// same account share one load/refresh; a caller whose ctx ends stops waiting
// but does not cancel the shared refresh.
//
// It fails with ErrNotAuthenticated when the account has no usable or
// refreshable credential, and with ErrProviderRejected (which also matches
// ErrNotAuthenticated) when the provider refused the refresh token. If the
// refused credential could not be deleted from the store, that error also
// matches ErrStoreUnavailable and the credential is kept.
func (m *Manager) Credential(ctx context.Context, account string) (*Record, error) {
	account = NormalizeAccount(account)
	if account == "" {
		return nil, ErrInvalidAccount
	}

	e := m.entry(account)
	if rec := e.rec.Load(); rec.State(m.now(), m.margin) == StateUsable {
		m.metrics.RecordCredentialLookup(ctx, instrumentation.LookupHit)
		return rec.Clone(), nil
	}
	m.metrics.RecordCredentialLookup(ctx, instrumentation.LookupMiss)

	ch := m.flights.DoChan(account, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		return m.resolve(fctx, account, e)
	})

	select {
	case <-ctx.Done():
		return nil, accountErr(opGet, account, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Record).Clone(), nil
	}
}

// resolve is the slow path of Credential. It runs at most once concurrently
// per account.
func (m *Manager) resolve(ctx context.Context, account string, e *entry) (*Record, error) {
	gen := e.gen.Load()
	rec := e.rec.Load()

	if rec == nil {
		loaded, err := m.store.Read(ctx, account)
		switch {
		case errors.Is(err, ErrNotFound):
			return nil, accountErr(opGet, account, ErrNotAuthenticated)
		case err != nil:
			return nil, accountErr(opGet, account, storeErr("read", err))
		}
		m.publishLoaded(e, gen, loaded)
		rec = loaded
	}

	switch rec.State(m.now(), m.margin) {
	case StateUsable:
		return rec, nil
	case StateDead:
		return nil, accountErr(opGet, account, ErrNotAuthenticated)
	}

	return m.refresh(ctx, account, e, gen, rec)
}

// publishLoaded caches a record read from the store unless the entry changed
// since gen was observed.
func (m *Manager) publishLoaded(e *entry, gen uint64, rec *Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen.Load() == gen && e.rec.Load() == nil {
		e.rec.Store(rec)
	}
}

func (m *Manager) refresh(ctx context.Context, account string, e *entry, gen uint64, prev *Record) (rec *Record, err error) {
	attrs := instrumentation.NewSpanAttributeBuilder().
		WithAccount(logging.AnonymizeEmail(account), logging.ExtractDomain(account)).
		WithCredentialState(StateRefreshable.String()).
		Build()
	ctx, span := instrumentation.StartSpan(ctx, "credential.refresh", attrs...)
	defer func() { instrumentation.EndSpan(span, err) }()

	logger := m.logger.With(logging.UserHash(account), logging.Operation("refresh"))
	start := time.Now()

	resp, err := m.refresher.Refresh(ctx, prev.RefreshToken.Reveal())
	if err != nil {
		if code, rejected := Rejection(err); rejected {
			m.metrics.RecordCredentialRefresh(ctx, instrumentation.RefreshRejected, time.Since(start))
			logger.Warn("provider rejected refresh token, purging credential", slog.String("reason", code))
			if err := m.purge(ctx, account, e, gen, code); err != nil {
				logger.Error("failed to delete rejected credential from store", logging.Err(err))
				return nil, accountErr(opRefresh, account, fmt.Errorf("%w: %s: %w", ErrProviderRejected, code, err))
			}
			return nil, accountErr(opRefresh, account, fmt.Errorf("%w: %s", ErrProviderRejected, code))
		}
		m.metrics.RecordCredentialRefresh(ctx, instrumentation.RefreshFailure, time.Since(start))
		logger.Error("credential refresh failed", logging.Err(err))
		return nil, accountErr(opRefresh, account, err)
	}

	next, err := newRecord(resp, m.now())
	if err != nil {
		m.metrics.RecordCredentialRefresh(ctx, instrumentation.RefreshFailure, time.Since(start))
		return nil, accountErr(opRefresh, account, err)
	}
	if next.RefreshToken == "" {
		next.RefreshToken = prev.RefreshToken
	}
	if len(next.Scopes) == 0 {
		next.Scopes = slices.Clone(prev.Scopes)
	}

	cur, committed, err := m.commit(ctx, account, e, gen, next)
	if err != nil {
		m.metrics.RecordCredentialRefresh(ctx, instrumentation.RefreshFailure, time.Since(start))
		logger.Error("failed to persist refreshed credential", logging.Err(err))
		return nil, accountErr(opRefresh, account, err)
	}
	if !committed {
		m.metrics.RecordCredentialRefresh(ctx, instrumentation.RefreshStale, time.Since(start))
		logger.Debug("refresh result superseded by a newer credential change")
		if cur == nil {
			return nil, accountErr(opGet, account, ErrNotAuthenticated)
		}
		return cur, nil
	}

	m.metrics.RecordCredentialRefresh(ctx, instrumentation.RefreshSuccess, time.Since(start))
	m.audit.LogCredentialEvent(ctx, instrumentation.CredentialEvent{Action: "refreshed", Account: account})
	logger.Info("credential refreshed",
		slog.Time("expiry", next.Expiry),
		slog.Bool("refresh_token_rotated", resp.RefreshToken != ""))
	return next, nil
}

// commit persists next and publishes it, unless the entry moved past gen. In
// that case the current record is returned with committed=false.
func (m *Manager) commit(ctx context.Context, account string, e *entry, gen uint64, next *Record) (*Record, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gen.Load() != gen {
		return e.rec.Load(), false, nil
	}
	if err := m.store.Write(ctx, account, next); err != nil {
		return nil, false, storeErr("write", err)
	}
	m.publish(e, next)
	return next, true, nil
}

// publish must be called with e.mu held.
func (m *Manager) publish(e *entry, rec *Record) {
	e.rec.Store(rec)
	e.rejected.Store(false)
	e.gen.Add(1)
}

// purge drops a credential the provider rejected. The account stays listed as
// unauthenticated until it is removed or re-authorized. If the store delete
// fails the entry is left as it was, so a later call sees the stored record
// again instead of a cache that disagrees with the store.
func (m *Manager) purge(ctx context.Context, account string, e *entry, gen uint64, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gen.Load() != gen {
		return nil
	}
	if err := m.store.Delete(ctx, account); err != nil {
		return storeErr("delete", err)
	}
	e.rec.Store(nil)
	e.rejected.Store(true)
	e.gen.Add(1)

	m.audit.LogCredentialEvent(ctx, instrumentation.CredentialEvent{Action: "purged", Account: account, Reason: reason})
	return nil
}

// Store records the result of an authorization code exchange (or an
// externally performed refresh) for account, overwriting any prior record.
//
// The response must carry an access token and an expiry. When it carries no
// refresh token, the refresh token of the prior record is kept. The record is
// written to the store before it becomes visible in the cache.
func (m *Manager) Store(ctx context.Context, account string, resp *TokenResponse) (*Record, error) {
	account = NormalizeAccount(account)
	if account == "" {
		return nil, ErrInvalidAccount
	}

	next, err := newRecord(resp, m.now())
	if err != nil {
		return nil, accountErr(opStore, account, err)
	}

	e := m.entry(account)
	e.mu.Lock()
	defer e.mu.Unlock()

	if next.RefreshToken == "" {
		prev := e.rec.Load()
		if prev == nil {
			stored, err := m.store.Read(ctx, account)
			switch {
			case err == nil:
				prev = stored
			case !errors.Is(err, ErrNotFound):
				return nil, accountErr(opStore, account, storeErr("read", err))
			}
		}
		if prev != nil {
			next.RefreshToken = prev.RefreshToken
		}
	}

	if err := m.store.Write(ctx, account, next); err != nil {
		return nil, accountErr(opStore, account, storeErr("write", err))
	}
	m.publish(e, next)

	m.audit.LogCredentialEvent(ctx, instrumentation.CredentialEvent{Action: "stored", Account: account})
	m.logger.Info("credential stored",
		logging.UserHash(account),
		slog.Time("expiry", next.Expiry),
		slog.Int("scopes", len(next.Scopes)),
		slog.Bool("has_refresh_token", next.RefreshToken != ""))

	return next.Clone(), nil
}

// Remove deletes the account's credential from the store and the cache.
// Removing an unknown account is not an error.
func (m *Manager) Remove(ctx context.Context, account string) error {
	account = NormalizeAccount(account)
	if account == "" {
		return ErrInvalidAccount
	}

	e := m.entry(account)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.store.Delete(ctx, account); err != nil {
		return accountErr(opRemove, account, storeErr("delete", err))
	}
	e.rec.Store(nil)
	e.rejected.Store(false)
	e.gen.Add(1)
	m.flights.Forget(account)

	m.audit.LogCredentialEvent(ctx, instrumentation.CredentialEvent{Action: "removed", Account: account})
	m.logger.Info("account removed", logging.UserHash(account))
	return nil
}

// Accounts lists every known account, sorted by identifier: all stored
// accounts, all cached accounts, and accounts whose credential was purged
// after a provider rejection.
func (m *Manager) Accounts(ctx context.Context) ([]AccountStatus, error) {
	keys, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", storeErr("list", err))
	}

	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k = NormalizeAccount(k); k != "" {
			seen[k] = struct{}{}
		}
	}
	m.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		if e.rec.Load() != nil || e.rejected.Load() {
			seen[k.(string)] = struct{}{}
		}
		return true
	})

	now := m.now()
	out := make([]AccountStatus, 0, len(seen))
	for account := range seen {
		e := m.entry(account)
		rec := e.rec.Load()
		if rec == nil && !e.rejected.Load() {
			gen := e.gen.Load()
			loaded, err := m.store.Read(ctx, account)
			switch {
			case errors.Is(err, ErrNotFound):
			case err != nil:
				return nil, accountErr("list accounts", account, storeErr("read", err))
			default:
				m.publishLoaded(e, gen, loaded)
				rec = loaded
			}
		}

		state := rec.State(now, m.margin)
		status := AccountStatus{
			Account:       account,
			Authenticated: state != StateDead,
			State:         state,
		}
		if rec != nil {
			status.Expiry = rec.Expiry
			status.Scopes = slices.Clone(rec.Scopes)
		}
		out = append(out, status)
	}

	slices.SortFunc(out, func(a, b AccountStatus) int { return strings.Compare(a.Account, b.Account) })
	return out, nil
}

// Clear removes every known account and returns how many were removed.
func (m *Manager) Clear(ctx context.Context) (int, error) {
	accounts, err := m.Accounts(ctx)
	if err != nil {
		return 0, err
	}
	for i, a := range accounts {
		if err := m.Remove(ctx, a.Account); err != nil {
			return i, err
		}
	}
	return len(accounts), nil
}

// TokenSource returns an oauth2.TokenSource that serves the account's
// managed credential. Provider clients built on it never refresh on their
// own; every refresh goes through the Manager.
func (m *Manager) TokenSource(ctx context.Context, account string) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, m: m, account: account}
}

// rejectionCodes are the token endpoint error codes that mean the grant
// itself is dead. Other error responses, such as invalid_client or a 429,
// leave the credential in place.
var rejectionCodes = map[string]bool{
	"invalid_grant":       true,
	"unauthorized_client": true,
}

// Rejection reports whether err is the provider refusing the grant, along
// with a short reason safe to log. Only invalid_grant and unauthorized_client
// responses count. Everything else from the token endpoint is transient.
func Rejection(err error) (string, bool) {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && re.Response.StatusCode >= http.StatusInternalServerError {
			return "", false
		}
		if rejectionCodes[re.ErrorCode] {
			return re.ErrorCode, true
		}
		return "", false
	}
	if errors.Is(err, ErrProviderRejected) {
		return "rejected", true
	}
	return "", false
}
