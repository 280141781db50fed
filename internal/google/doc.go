// Package google talks to the Google OAuth 2.0 and API endpoints on behalf of
// the account broker.
//
// Provider wraps golang.org/x/oauth2 for the authorization-code exchange
// (with PKCE) and refresh-token grants, and resolves the identity behind an
// access token with the oauth2/v2 userinfo API. ProfileClient performs a
// passthrough Gmail call using credentials managed by credentials.Manager,
// through the TokenProvider abstraction.
package google
