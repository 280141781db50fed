package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teemow/accountbroker/internal/credentials"
	"github.com/teemow/accountbroker/internal/instrumentation"
)

// DefaultRedirectURL is the callback address registered with the OAuth client.
const DefaultRedirectURL = "http://localhost:8080/oauth/callback"

// Config configures a Provider.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Scopes defaults to DefaultOAuthScopes.
	Scopes []string

	// Endpoint overrides google.Endpoint. Used by tests.
	Endpoint oauth2.Endpoint
	// APIEndpoint overrides the base URL of the Google REST APIs
	// (userinfo, gmail). Used by tests.
	APIEndpoint string

	// HTTPClient is used for all provider calls. Defaults to a client
	// forcing HTTP/1.1 with a 30s timeout.
	HTTPClient *http.Client

	Metrics *instrumentation.Metrics
}

// Provider performs the OAuth grants against Google.
type Provider struct {
	oauth       *oauth2.Config
	apiEndpoint string
	httpClient  *http.Client
	metrics     *instrumentation.Metrics
}

// NewProvider validates cfg and returns a Provider.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("google client id is required")
	}
	if cfg.ClientSecret == "" {
		return nil, errors.New("google client secret is required")
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = DefaultRedirectURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultOAuthScopes
	}
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = google.Endpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newHTTPClient()
	}

	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     cfg.Endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
		},
		apiEndpoint: cfg.APIEndpoint,
		httpClient:  cfg.HTTPClient,
		metrics:     cfg.Metrics,
	}, nil
}

// newHTTPClient forces HTTP/1.1 to avoid HTTP/2 stream errors seen against
// some Google endpoints.
func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ForceAttemptHTTP2 = false
	return &http.Client{Transport: transport, Timeout: 30 * time.Second}
}

// RedirectURL returns the configured callback address.
func (p *Provider) RedirectURL() string { return p.oauth.RedirectURL }

// Scopes returns the requested scopes.
func (p *Provider) Scopes() []string { return p.oauth.Scopes }

// AuthCodeURL builds the consent URL for an authorization attempt. It always
// asks for offline access with a forced consent prompt so a refresh token is
// issued, and pre-selects loginHint when it is known.
func (p *Provider) AuthCodeURL(state, verifier, loginHint string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
		oauth2.S256ChallengeOption(verifier),
	}
	if loginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", loginHint))
	}
	return p.oauth.AuthCodeURL(state, opts...)
}

// Exchange redeems an authorization code.
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (resp *credentials.TokenResponse, err error) {
	ctx, span := instrumentation.StartProviderSpan(ctx, instrumentation.ServiceOAuth, "exchange")
	start := time.Now()
	defer func() {
		p.record(ctx, instrumentation.ServiceOAuth, "exchange", start, err)
		instrumentation.EndSpan(span, err)
	}()

	tok, err := p.oauth.Exchange(p.clientContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return credentials.TokenResponseFromOAuth2(tok), nil
}

// Refresh redeems a refresh token. It implements credentials.Refresher.
//
// A token endpoint rejection is returned as a *oauth2.RetrieveError, which
// the credential manager classifies.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (resp *credentials.TokenResponse, err error) {
	ctx, span := instrumentation.StartProviderSpan(ctx, instrumentation.ServiceOAuth, "refresh")
	start := time.Now()
	defer func() {
		p.record(ctx, instrumentation.ServiceOAuth, "refresh", start, err)
		instrumentation.EndSpan(span, err)
	}()

	// An expired seed token makes the source go straight to the refresh grant.
	seed := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}
	tok, err := p.oauth.TokenSource(p.clientContext(ctx), seed).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh access token: %w", err)
	}

	resp = credentials.TokenResponseFromOAuth2(tok)
	// The oauth2 package copies the old refresh token into the result when
	// the endpoint omits one; report only what the provider returned.
	if resp.RefreshToken == refreshToken {
		resp.RefreshToken = ""
	}
	return resp, nil
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// authorizedClient returns an HTTP client that sends accessToken on every
// request.
func (p *Provider) authorizedClient(ctx context.Context, ts oauth2.TokenSource) *http.Client {
	return oauth2.NewClient(p.clientContext(ctx), ts)
}

func (p *Provider) record(ctx context.Context, service, operation string, start time.Time, err error) {
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	p.metrics.RecordProviderOperation(ctx, service, operation, status, time.Since(start))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
