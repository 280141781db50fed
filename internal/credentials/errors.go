package credentials

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated means no usable or refreshable credential exists for
	// the account. The caller must start an authorization flow.
	ErrNotAuthenticated = errors.New("account not authenticated")

	// ErrProviderRejected means the token endpoint refused a refresh token or
	// authorization code. The credential has been purged unless the error
	// also matches ErrStoreUnavailable. It always matches ErrNotAuthenticated.
	ErrProviderRejected error = &rejectedError{}

	// ErrStoreUnavailable wraps persistence failures. It is retryable and the
	// in-memory cache is left unchanged.
	ErrStoreUnavailable = errors.New("credential store unavailable")

	// ErrInvalidResponse means a token response lacked required fields.
	ErrInvalidResponse = errors.New("invalid token response")

	// ErrInvalidAccount means the account identifier is empty.
	ErrInvalidAccount = errors.New("invalid account identifier")

	// ErrNotFound is returned by Store implementations when no record exists.
	ErrNotFound = errors.New("credential not found")
)

type rejectedError struct{}

func (*rejectedError) Error() string { return "credential rejected by provider" }

func (*rejectedError) Is(target error) bool { return target == ErrNotAuthenticated }

// AccountError attaches the account identifier and operation to an error.
// It never carries token material.
type AccountError struct {
	Op      string
	Account string
	Err     error
}

func (e *AccountError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Account, e.Err)
}

func (e *AccountError) Unwrap() error { return e.Err }

func accountErr(op, account string, err error) error {
	return &AccountError{Op: op, Account: account, Err: err}
}

func invalidResponse(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidResponse, reason)
}

// storeErr marks a Store failure as ErrStoreUnavailable while keeping the
// underlying cause in the chain.
func storeErr(action string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, action, err)
}
