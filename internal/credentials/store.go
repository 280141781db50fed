package credentials

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

// Store is the durable mapping from account identifier to credential record.
//
// Implementations must make each Write atomic with respect to concurrent Reads
// of the same account. Only the Manager writes to a Store.
type Store interface {
	// Read returns the record for account, or ErrNotFound.
	Read(ctx context.Context, account string) (*Record, error)
	// Write creates or overwrites the record for account.
	Write(ctx context.Context, account string, rec *Record) error
	// Delete removes the record for account. Deleting a missing record is not
	// an error.
	Delete(ctx context.Context, account string) error
	// List returns the identifiers of all stored accounts.
	List(ctx context.Context) ([]string, error)
}

// Refresher exchanges a refresh token at the provider's token endpoint.
//
// Implementations report a provider rejection by returning an error that
// matches ErrProviderRejected or wraps an *oauth2.RetrieveError carrying
// invalid_grant or unauthorized_client. Any other error, including other
// token endpoint error responses, is treated as transient.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, refreshToken string) (*TokenResponse, error)

// Refresh calls f.
func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	return f(ctx, refreshToken)
}

// AccountStatus is one entry of Manager.Accounts.
type AccountStatus struct {
	Account string `json:"email"`
	// Authenticated is true when a usable or refreshable credential exists.
	Authenticated bool      `json:"authenticated"`
	State         State     `json:"-"`
	Expiry        time.Time `json:"expiresAt,omitzero"`
	Scopes        []string  `json:"scopes,omitempty"`
}

// Clock returns the current time.
type Clock func() time.Time

// tokenSource is an oauth2.TokenSource backed by the Manager.
type tokenSource struct {
	ctx     context.Context
	m       *Manager
	account string
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	rec, err := s.m.Credential(s.ctx, s.account)
	if err != nil {
		return nil, err
	}
	return rec.Token(), nil
}
