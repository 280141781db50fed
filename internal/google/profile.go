package google

import (
	"context"
	"fmt"
	"time"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/teemow/accountbroker/internal/instrumentation"
)

// Profile is the Gmail mailbox profile of an account.
type Profile struct {
	Email         string `json:"email"`
	MessagesTotal int64  `json:"messagesTotal"`
	ThreadsTotal  int64  `json:"threadsTotal"`
	HistoryID     uint64 `json:"historyId,string"`
}

// ProfileClient fetches Gmail profiles with managed credentials.
type ProfileClient struct {
	provider *Provider
	tokens   TokenProvider
}

// NewProfileClient creates a ProfileClient.
func NewProfileClient(p *Provider, tokens TokenProvider) *ProfileClient {
	return &ProfileClient{provider: p, tokens: tokens}
}

// Profile returns the Gmail profile of account. Credential errors from the
// token provider (for example credentials.ErrNotAuthenticated) are preserved
// in the returned error chain.
func (c *ProfileClient) Profile(ctx context.Context, account string) (profile *Profile, err error) {
	ctx, span := instrumentation.StartProviderSpan(ctx, instrumentation.ServiceGmail, "get_profile")
	start := time.Now()
	defer func() {
		c.provider.record(ctx, instrumentation.ServiceGmail, "get_profile", start, err)
		instrumentation.EndSpan(span, err)
	}()

	// Resolve the credential first so credential errors surface unwrapped by
	// the HTTP transport.
	ts := c.tokens.TokenSource(ctx, account)
	if _, err := ts.Token(); err != nil {
		return nil, err
	}

	opts := []option.ClientOption{option.WithHTTPClient(c.provider.authorizedClient(ctx, ts))}
	if c.provider.apiEndpoint != "" {
		opts = append(opts, option.WithEndpoint(c.provider.apiEndpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	resp, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get gmail profile: %w", err)
	}
	return &Profile{
		Email:         resp.EmailAddress,
		MessagesTotal: resp.MessagesTotal,
		ThreadsTotal:  resp.ThreadsTotal,
		HistoryID:     resp.HistoryId,
	}, nil
}
