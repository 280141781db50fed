package authflow

import "errors"

var (
	// ErrInvalidState is returned when a state token was never issued, has
	// expired or was already consumed. The caller must restart authorization.
	ErrInvalidState = errors.New("invalid or expired authorization state")

	// ErrExpired marks an attempt that expired before completion. It matches
	// ErrInvalidState.
	ErrExpired = &expiredError{}

	// ErrAccountMismatch is returned when the provider authenticated a
	// different account than the one the attempt was issued for.
	ErrAccountMismatch = errors.New("authenticated account does not match the requested account")

	// ErrAuthorizationDenied is returned when the provider redirected back
	// with an error instead of a code.
	ErrAuthorizationDenied = errors.New("authorization denied by provider")
)

type expiredError struct{}

func (*expiredError) Error() string { return "authorization attempt expired" }

func (*expiredError) Is(target error) bool { return target == ErrInvalidState }
