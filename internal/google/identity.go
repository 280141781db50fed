package google

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/teemow/accountbroker/internal/instrumentation"
)

// ErrUnverifiedEmail is returned when the provider reports the account's
// email address as unverified.
var ErrUnverifiedEmail = errors.New("google account email is not verified")

// Identity returns the email address of the account that owns accessToken.
func (p *Provider) Identity(ctx context.Context, accessToken string) (email string, err error) {
	ctx, span := instrumentation.StartProviderSpan(ctx, instrumentation.ServiceUserinfo, "get")
	start := time.Now()
	defer func() {
		p.record(ctx, instrumentation.ServiceUserinfo, "get", start, err)
		instrumentation.EndSpan(span, err)
	}()

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	opts := []option.ClientOption{option.WithHTTPClient(p.authorizedClient(ctx, ts))}
	if p.apiEndpoint != "" {
		opts = append(opts, option.WithEndpoint(p.apiEndpoint))
	}

	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("create userinfo service: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get userinfo: %w", err)
	}
	if info.Email == "" {
		return "", errors.New("userinfo response has no email address")
	}
	if info.VerifiedEmail != nil && !*info.VerifiedEmail {
		return "", ErrUnverifiedEmail
	}
	return normalizeEmail(info.Email), nil
}
