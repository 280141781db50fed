// Package authflow runs the two-phase OAuth authorization-code flow that
// enrolls an account with the broker.
//
// Begin issues a single-use anti-forgery state token and returns the consent
// URL. Complete consumes the state, exchanges the authorization code,
// resolves the account identity and hands the token response to the
// credential manager. Await lets a caller block until an issued attempt is
// consumed or expires.
//
// Each attempt moves Issued -> Consumed(success|failure) or Issued -> Expired
// and never leaves a terminal state, so a state token cannot be replayed.
// Attempt state is kept in memory only and is never persisted.
package authflow
