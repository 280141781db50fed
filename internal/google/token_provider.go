package google

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// TokenProvider supplies access tokens for an account.
// *credentials.Manager implements it; each Token call goes through the
// manager's cache and refresh coalescing.
type TokenProvider interface {
	TokenSource(ctx context.Context, account string) oauth2.TokenSource
}

// HTTPClient returns a client that authenticates requests as account.
func (p *Provider) HTTPClient(ctx context.Context, tp TokenProvider, account string) *http.Client {
	return p.authorizedClient(ctx, tp.TokenSource(ctx, account))
}
