package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"reddit_archiver/internal/domain"
)

const (
	// DefaultBaseURL is the OAuth2 listing host.
	DefaultBaseURL = "https://oauth.reddit.com"
	// DefaultTokenURL is the application-only token endpoint.
	DefaultTokenURL = "https://www.reddit.com/api/v1/access_token"

	// defaultRetryAfter is used when a rate-limit response carries no
	// usable Retry-After header.
	defaultRetryAfter = time.Minute

	// maxPageSize is the listing API ceiling for the limit parameter.
	maxPageSize = 100
)

// TokenProvider supplies a currently valid bearer token.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// ClientConfig holds listing API configuration.
type ClientConfig struct {
	BaseURL   string
	UserAgent string
	PageSize  int
	Timeout   time.Duration
}

// Client talks to the listing API. One instance is shared by all feeds; bind
// it to a feed with Feed to get the per-feed fetcher the engine consumes.
//
// The client never retries: failures come back classified so the caller can
// decide between backing off and giving up.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	pageSize   int
	tokens     TokenProvider
	logger     *slog.Logger
}

// NewClient creates a listing API client.
func NewClient(cfg ClientConfig, tokens TokenProvider, logger *slog.Logger) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		pageSize:  pageSize,
		tokens:    tokens,
		logger:    logger.With("component", "reddit"),
	}
}

// Feed binds the client to a single listing walk.
func (c *Client) Feed(feed domain.Feed) *FeedFetcher {
	return &FeedFetcher{client: c, feed: feed}
}

// FeedFetcher fetches consecutive pages of one feed.
type FeedFetcher struct {
	client *Client
	feed   domain.Feed
}

// Fetch returns the page at cursor; a nil cursor means the head of the feed.
func (f *FeedFetcher) Fetch(ctx context.Context, cursor *domain.Cursor) (*domain.Page, error) {
	return f.client.FetchPage(ctx, f.feed, cursor)
}

// FetchPage retrieves one listing page. Item order inside the page is the
// order the API returned. Errors are classified per the sync taxonomy:
// 429 becomes RateLimitedError with the advertised delay, 5xx and network
// failures become TransientError, 401 becomes AuthError, the remaining 4xx
// become PermanentError.
func (c *Client) FetchPage(ctx context.Context, feed domain.Feed, cursor *domain.Cursor) (*domain.Page, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.listingURL(feed, cursor), nil)
	if err != nil {
		return nil, &domain.PermanentError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.TransientError{Err: fmt.Errorf("execute request: %w", err)}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}

	var env listingEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		// Truncated or garbled bodies are usually a hiccup on the remote
		// side, retrying the same cursor is safe.
		return nil, &domain.TransientError{Err: fmt.Errorf("decode listing: %w", err)}
	}

	page := &domain.Page{
		Items: make([]domain.RawItem, 0, len(env.Data.Children)),
	}
	for _, child := range env.Data.Children {
		page.Items = append(page.Items, domain.RawItem{
			Kind: child.Kind,
			Data: child.Data,
		})
	}
	if env.Data.After != nil && *env.Data.After != "" {
		next := domain.Cursor(*env.Data.After)
		page.NextCursor = &next
	}

	c.logger.Debug("fetched page",
		"feed", feed.Key(),
		"items", len(page.Items),
		"drained", page.NextCursor == nil,
	)

	return page, nil
}

func (c *Client) listingURL(feed domain.Feed, cursor *domain.Cursor) string {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(c.pageSize))
	query.Set("raw_json", "1")
	if feed.Filtered() {
		query.Set("t", string(feed.TimeFilter))
	}
	if cursor != nil {
		query.Set("after", string(*cursor))
	}

	if feed.Redditor != "" {
		if feed.Listing == domain.ListingGilded {
			return fmt.Sprintf("%s/user/%s/gilded.json?%s", c.baseURL, feed.Redditor, query.Encode())
		}
		// Sorted redditor history is served by the overview listing with
		// the sort as a query parameter, not a path segment.
		query.Set("sort", string(feed.Listing))
		return fmt.Sprintf("%s/user/%s/overview.json?%s", c.baseURL, feed.Redditor, query.Encode())
	}

	return fmt.Sprintf("%s/r/%s/%s.json?%s", c.baseURL, feed.Subreddit, feed.Listing, query.Encode())
}

func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.RateLimitedError{RetryAfter: retryAfterFrom(resp)}
	case resp.StatusCode == http.StatusUnauthorized:
		return &domain.AuthError{Err: fmt.Errorf("bearer token rejected with status %d", resp.StatusCode)}
	case resp.StatusCode >= http.StatusInternalServerError:
		return &domain.TransientError{Err: fmt.Errorf("unexpected status: %d", resp.StatusCode)}
	default:
		// Includes 403: private and banned subreddits stay forbidden no
		// matter how often we retry.
		return &domain.PermanentError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status: %d", resp.StatusCode)}
	}
}

// retryAfterFrom extracts the server-advertised delay from a 429 response.
// Reddit sends Retry-After in whole seconds; the ratelimit reset header is
// the fallback for responses that omit it.
func retryAfterFrom(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}

	if v := resp.Header.Get("X-Ratelimit-Reset"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}

	return defaultRetryAfter
}
