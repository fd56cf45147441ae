package reddit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"reddit_archiver/internal/domain"
)

// tokenEarlyExpiry renews tokens ahead of the remote deadline so a request
// never departs with a credential about to lapse mid-flight.
const tokenEarlyExpiry = 30 * time.Second

// AuthConfig carries the application-only OAuth2 credentials.
type AuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	UserAgent    string
	Timeout      time.Duration
}

// Authenticator exchanges client credentials for bearer tokens and caches the
// current one until it nears expiry. A single instance is shared by all feeds;
// refreshes are serialized inside the token source, so concurrent callers
// trigger at most one exchange.
type Authenticator struct {
	src oauth2.TokenSource
}

func NewAuthenticator(cfg AuthConfig) *Authenticator {
	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	// The token endpoint rejects the default Go user agent, same as the
	// listing endpoints, so the exchange goes through our own transport.
	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &userAgentTransport{
			agent: cfg.UserAgent,
			base:  http.DefaultTransport,
		},
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)

	return &Authenticator{
		src: oauth2.ReuseTokenSourceWithExpiry(nil, creds.TokenSource(ctx), tokenEarlyExpiry),
	}
}

// Token returns a currently valid access token, performing the credential
// exchange if the cached token is missing or about to expire. The request
// lifecycle is owned by the configured HTTP client; ctx only gates entry.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tok, err := a.src.Token()
	if err != nil {
		return "", classifyTokenError(err)
	}
	return tok.AccessToken, nil
}

func classifyTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return &domain.TransientError{Err: fmt.Errorf("token exchange: %w", err)}
	}

	status := 0
	if retrieveErr.Response != nil {
		status = retrieveErr.Response.StatusCode
	}
	switch {
	case status == http.StatusTooManyRequests:
		return &domain.RateLimitedError{RetryAfter: defaultRetryAfter}
	case status >= http.StatusInternalServerError:
		return &domain.TransientError{Err: fmt.Errorf("token endpoint returned status %d", status)}
	default:
		return &domain.AuthError{Err: fmt.Errorf("credential exchange rejected with status %d: %w", status, err)}
	}
}

// userAgentTransport stamps every outgoing request with the configured
// user agent. Reddit throttles or refuses generic library agents.
type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(clone)
}
