package credentials

import (
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const redacted = "[REDACTED]"

// Secret holds token material. Its formatting and marshaling methods never
// reveal the value; use Reveal to obtain it.
type Secret string

// Reveal returns the raw secret value.
func (s Secret) Reveal() string { return string(s) }

// String implements fmt.Stringer.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString implements fmt.GoStringer so %#v is redacted too.
func (s Secret) GoString() string { return s.String() }

// MarshalText implements encoding.TextMarshaler.
func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// State classifies a credential record.
type State int

const (
	// StateDead means neither a valid access token nor a refresh token is
	// available. A full authorization flow is required.
	StateDead State = iota
	// StateRefreshable means the access token expired but a refresh token exists.
	StateRefreshable
	// StateUsable means the access token can be used as-is.
	StateUsable
)

func (s State) String() string {
	switch s {
	case StateUsable:
		return "usable"
	case StateRefreshable:
		return "refreshable"
	default:
		return "dead"
	}
}

// Record is the credential stored for one account. Records are immutable once
// published by the Manager; callers receive copies.
type Record struct {
	AccessToken  Secret
	RefreshToken Secret
	// Expiry is the absolute time after which the access token must not be
	// used. The zero value means the token does not expire.
	Expiry    time.Time
	Scopes    []string
	TokenType string
}

// State classifies r at now. Tokens are treated as expired margin before their
// literal expiry.
func (r *Record) State(now time.Time, margin time.Duration) State {
	if r == nil {
		return StateDead
	}
	if r.AccessToken != "" && (r.Expiry.IsZero() || now.Add(margin).Before(r.Expiry)) {
		return StateUsable
	}
	if r.RefreshToken != "" {
		return StateRefreshable
	}
	return StateDead
}

// Token converts r into an oauth2.Token for use with provider clients.
func (r *Record) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  r.AccessToken.Reveal(),
		RefreshToken: r.RefreshToken.Reveal(),
		TokenType:    r.TokenType,
		Expiry:       r.Expiry,
	}
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Scopes = slices.Clone(r.Scopes)
	return &c
}

// TokenResponse is the token endpoint payload of an authorization code
// exchange or a refresh.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the lifetime in seconds as reported by the provider. It is
	// used when Expiry is zero.
	ExpiresIn int64
	// Expiry is the absolute expiry, when already computed at receipt time.
	Expiry    time.Time
	Scopes    []string
	TokenType string
}

// TokenResponseFromOAuth2 converts an oauth2.Token returned by an exchange or
// refresh. The granted scopes are read from the "scope" field of the raw
// response.
func TokenResponseFromOAuth2(tok *oauth2.Token) *TokenResponse {
	if tok == nil {
		return nil
	}
	resp := &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
		Expiry:       tok.Expiry,
		TokenType:    tok.TokenType,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scopes = strings.Fields(scope)
	}
	return resp
}

// newRecord validates resp and derives a Record, converting a relative
// lifetime into an absolute expiry at receipt time.
func newRecord(resp *TokenResponse, now time.Time) (*Record, error) {
	if resp == nil || resp.AccessToken == "" {
		return nil, invalidResponse("missing access token")
	}

	expiry := resp.Expiry
	if expiry.IsZero() {
		if resp.ExpiresIn <= 0 {
			return nil, invalidResponse("missing expiry")
		}
		expiry = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}

	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return &Record{
		AccessToken:  Secret(resp.AccessToken),
		RefreshToken: Secret(resp.RefreshToken),
		Expiry:       expiry,
		Scopes:       NormalizeScopes(resp.Scopes),
		TokenType:    tokenType,
	}, nil
}

// NormalizeScopes returns the scopes sorted and de-duplicated.
func NormalizeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return nil
	}
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// NormalizeAccount canonicalizes an account identifier.
func NormalizeAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}
