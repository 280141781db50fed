package authflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/accountbroker/internal/credentials"
	"github.com/teemow/accountbroker/internal/instrumentation"
	"github.com/teemow/accountbroker/internal/logging"
)

const (
	// DefaultStateTTL bounds how long an issued state token stays valid.
	DefaultStateTTL = 10 * time.Minute

	// DefaultCleanupInterval is how often expired attempts are swept.
	DefaultCleanupInterval = time.Minute
)

// Provider is the OAuth provider the controller drives.
// *google.Provider implements it.
type Provider interface {
	AuthCodeURL(state, verifier, loginHint string) string
	Exchange(ctx context.Context, code, verifier string) (*credentials.TokenResponse, error)
	Identity(ctx context.Context, accessToken string) (string, error)
}

// CredentialStore receives the initial token response of a completed
// attempt. *credentials.Manager implements it.
type CredentialStore interface {
	Store(ctx context.Context, account string, resp *credentials.TokenResponse) (*credentials.Record, error)
}

// Config configures a Controller.
type Config struct {
	Provider    Provider
	Credentials CredentialStore

	// StateTTL defaults to DefaultStateTTL.
	StateTTL time.Duration
	// CleanupInterval defaults to DefaultCleanupInterval.
	CleanupInterval time.Duration

	// TrustRequestedAccount skips the identity lookup when the attempt was
	// issued for a known account. By default the authenticated identity must
	// match the requested account.
	TrustRequestedAccount bool

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
	Clock   func() time.Time
}

// Authorization is an issued attempt.
type Authorization struct {
	URL       string
	State     string
	Account   string
	ExpiresAt time.Time
}

// Controller issues and completes authorization attempts.
type Controller struct {
	provider    Provider
	credentials CredentialStore
	ttl         time.Duration
	trust       bool
	logger      *slog.Logger
	metrics     *instrumentation.Metrics
	now         func() time.Time

	attempts *attempts

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Controller and starts its cleanup goroutine. Call Stop to
// release it.
func New(cfg Config) (*Controller, error) {
	if cfg.Provider == nil {
		return nil, errors.New("authflow: provider is required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("authflow: credential store is required")
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	c := &Controller{
		provider:    cfg.Provider,
		credentials: cfg.Credentials,
		ttl:         cfg.StateTTL,
		trust:       cfg.TrustRequestedAccount,
		logger:      logging.WithComponent(cfg.Logger, "authflow"),
		metrics:     cfg.Metrics,
		now:         cfg.Clock,
		attempts:    newAttempts(),
		stop:        make(chan struct{}),
	}

	c.wg.Add(1)
	go c.cleanup(cfg.CleanupInterval)

	return c, nil
}

// Stop terminates the cleanup goroutine. Pending attempts stay valid until
// their expiry but are no longer swept.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}

// Begin issues a new attempt. account is optional; when empty the attempt
// is account-agnostic and the account is resolved from the provider's
// identity lookup at completion.
func (c *Controller) Begin(ctx context.Context, account string) (*Authorization, error) {
	account = credentials.NormalizeAccount(account)

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("generate state token: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	now := c.now()
	a := &attempt{
		state:     state,
		requested: account,
		verifier:  verifier,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
		done:      make(chan struct{}),
	}
	c.attempts.add(a)

	c.metrics.RecordAuthorization(ctx, instrumentation.AuthStarted)
	c.metrics.AddPendingAuthorizations(ctx, 1)

	attrs := []any{logging.State(a), slog.Time("expires_at", a.expiresAt)}
	if account != "" {
		attrs = append(attrs, logging.UserHash(account))
	}
	c.logger.Info("authorization issued", attrs...)

	return &Authorization{
		URL:       c.provider.AuthCodeURL(state, verifier, account),
		State:     state,
		Account:   account,
		ExpiresAt: a.expiresAt,
	}, nil
}

// String identifies an attempt in logs by a prefix of its state token.
func (a *attempt) String() string {
	return stateToken(a.state).String()
}

// Complete consumes state and exchanges code. It returns the resolved
// account identifier. Unknown, expired and already consumed states fail
// with ErrInvalidState.
func (c *Controller) Complete(ctx context.Context, state, code string) (string, error) {
	if code == "" {
		return "", errors.New("authorization code is required")
	}

	a, err := c.take(ctx, state)
	if err != nil {
		return "", err
	}

	account, err := c.complete(ctx, a, code)
	if err != nil {
		c.fail(ctx, a, err)
		return "", fmt.Errorf("complete authorization: %w", err)
	}

	a.finish(account, nil)
	c.metrics.RecordAuthorization(ctx, instrumentation.AuthSuccess)
	c.metrics.AddPendingAuthorizations(ctx, -1)
	c.logger.Info("authorization completed", logging.State(a), logging.UserHash(account), logging.Domain(account))
	return account, nil
}

// Fail consumes state as a failure, for provider redirects that carry an
// error instead of a code.
func (c *Controller) Fail(ctx context.Context, state, reason string) error {
	a, err := c.take(ctx, state)
	if err != nil {
		return err
	}
	failure := fmt.Errorf("%w: %s", ErrAuthorizationDenied, reason)
	c.fail(ctx, a, failure)
	return failure
}

func (c *Controller) take(ctx context.Context, state string) (*attempt, error) {
	a, expired := c.attempts.take(state, c.now())
	if a == nil {
		c.metrics.RecordAuthorization(ctx, instrumentation.AuthInvalidState)
		c.logger.Warn("authorization with unknown or consumed state", logging.State(stateToken(state)))
		return nil, ErrInvalidState
	}
	if expired {
		c.expire(ctx, a)
		return nil, ErrExpired
	}
	return a, nil
}

func (c *Controller) complete(ctx context.Context, a *attempt, code string) (string, error) {
	resp, err := c.provider.Exchange(ctx, code, a.verifier)
	if err != nil {
		if reason, rejected := credentials.Rejection(err); rejected {
			c.logger.Warn("authorization code rejected", logging.State(a), slog.String("reason", reason))
			return "", fmt.Errorf("%w: %s", credentials.ErrProviderRejected, reason)
		}
		return "", err
	}
	if resp == nil || resp.AccessToken == "" {
		return "", fmt.Errorf("%w: missing access token", credentials.ErrInvalidResponse)
	}

	account, err := c.resolveAccount(ctx, a, resp.AccessToken)
	if err != nil {
		return "", err
	}

	if _, err := c.credentials.Store(ctx, account, resp); err != nil {
		return "", err
	}
	return account, nil
}

func (c *Controller) resolveAccount(ctx context.Context, a *attempt, accessToken string) (string, error) {
	if a.requested != "" && c.trust {
		return a.requested, nil
	}

	identity, err := c.provider.Identity(ctx, accessToken)
	if err != nil {
		return "", fmt.Errorf("identity lookup: %w", err)
	}
	identity = credentials.NormalizeAccount(identity)
	if identity == "" {
		return "", fmt.Errorf("identity lookup: %w", credentials.ErrInvalidAccount)
	}
	if a.requested != "" && identity != a.requested {
		return "", ErrAccountMismatch
	}
	return identity, nil
}

func (c *Controller) fail(ctx context.Context, a *attempt, err error) {
	a.finish("", err)
	c.metrics.RecordAuthorization(ctx, instrumentation.AuthFailure)
	c.metrics.AddPendingAuthorizations(ctx, -1)
	c.logger.Warn("authorization failed", logging.State(a), logging.Err(err))
}

func (c *Controller) expire(ctx context.Context, a *attempt) {
	a.finish("", ErrExpired)
	c.metrics.RecordAuthorization(ctx, instrumentation.AuthExpired)
	c.metrics.AddPendingAuthorizations(ctx, -1)
	c.logger.Info("authorization expired", logging.State(a))
}

// Await blocks until the attempt identified by state is consumed or
// expires, and returns its outcome. It returns ErrInvalidState for states
// that are unknown or already swept.
func (c *Controller) Await(ctx context.Context, state string) (string, error) {
	a, ok := c.attempts.lookup(state)
	if !ok {
		return "", ErrInvalidState
	}

	timer := time.NewTimer(a.expiresAt.Sub(c.now()))
	defer timer.Stop()

	select {
	case <-a.done:
	case <-timer.C:
		// Expire now rather than waiting for the sweep.
		if taken, _ := c.attempts.take(state, a.expiresAt); taken != nil {
			c.expire(ctx, taken)
		}
		<-a.done
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return a.resolved, a.err
}

// Pending returns the number of issued attempts not yet consumed or expired.
func (c *Controller) Pending() int {
	return c.attempts.pending()
}

func (c *Controller) cleanup(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep(context.Background())
		case <-c.stop:
			return
		}
	}
}

func (c *Controller) sweep(ctx context.Context) int {
	expired, removed := c.attempts.sweep(c.now())
	for _, a := range expired {
		c.expire(ctx, a)
	}
	if removed > 0 {
		c.logger.Debug("swept authorization attempts",
			slog.Int("removed", removed),
			slog.Int("expired", len(expired)))
	}
	return removed
}

type stateToken string

func (s stateToken) String() string {
	if len(s) <= 8 {
		return logging.SanitizeToken(string(s))
	}
	return string(s[:8]) + "..."
}
