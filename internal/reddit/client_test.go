package reddit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddit_archiver/internal/domain"
	"reddit_archiver/internal/reddit"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) Token(context.Context) (string, error) {
	return s.token, s.err
}

func newTestClient(baseURL string) *reddit.Client {
	return reddit.NewClient(reddit.ClientConfig{
		BaseURL:   baseURL,
		UserAgent: "test-agent/1.0",
		PageSize:  25,
		Timeout:   5 * time.Second,
	}, staticTokens{token: "test-token"}, testLogger())
}

const listingBody = `{
	"kind": "Listing",
	"data": {
		"children": [
			{"kind": "t3", "data": {"name": "t3_aaa", "title": "first"}},
			{"kind": "t3", "data": {"name": "t3_bbb", "title": "second"}},
			{"kind": "t1", "data": {"name": "t1_ccc", "body": "a comment"}}
		],
		"after": "t1_ccc",
		"before": null,
		"dist": 3
	}
}`

func TestClient_FetchPage_DecodesListing(t *testing.T) {
	t.Parallel()

	var gotReq *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(listingBody))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	feed := domain.Feed{Subreddit: "golang", Listing: domain.ListingNew}

	page, err := client.FetchPage(context.Background(), feed, nil)
	require.NoError(t, err)

	require.Len(t, page.Items, 3)
	assert.Equal(t, "t3", page.Items[0].Kind)
	assert.Equal(t, "t1", page.Items[2].Kind)
	assert.JSONEq(t, `{"name": "t3_aaa", "title": "first"}`, string(page.Items[0].Data))

	require.NotNil(t, page.NextCursor)
	assert.Equal(t, domain.Cursor("t1_ccc"), *page.NextCursor)

	require.NotNil(t, gotReq)
	assert.Equal(t, "/r/golang/new.json", gotReq.URL.Path)
	assert.Equal(t, "Bearer test-token", gotReq.Header.Get("Authorization"))
	assert.Equal(t, "test-agent/1.0", gotReq.Header.Get("User-Agent"))
	assert.Equal(t, "25", gotReq.URL.Query().Get("limit"))
	assert.Equal(t, "1", gotReq.URL.Query().Get("raw_json"))
	assert.Empty(t, gotReq.URL.Query().Get("after"))
}

func TestClient_FetchPage_PassesCursor(t *testing.T) {
	t.Parallel()

	var gotAfter string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAfter = r.URL.Query().Get("after")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kind": "Listing", "data": {"children": [], "after": null}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	feed := domain.Feed{Subreddit: "golang", Listing: domain.ListingNew}
	cursor := domain.Cursor("t3_resume")

	page, err := client.FetchPage(context.Background(), feed, &cursor)
	require.NoError(t, err)

	assert.Equal(t, "t3_resume", gotAfter)
	assert.Nil(t, page.NextCursor)
	assert.Empty(t, page.Items)
}

func TestClient_FetchPage_FilteredListing(t *testing.T) {
	t.Parallel()

	var gotReq *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kind": "Listing", "data": {"children": [], "after": null}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	feed := domain.Feed{Subreddit: "golang", Listing: domain.ListingTop, TimeFilter: domain.FilterAll}

	_, err := client.FetchPage(context.Background(), feed, nil)
	require.NoError(t, err)

	require.NotNil(t, gotReq)
	assert.Equal(t, "/r/golang/top.json", gotReq.URL.Path)
	assert.Equal(t, "all", gotReq.URL.Query().Get("t"))
}

func TestClient_FetchPage_RedditorListings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		feed       domain.Feed
		wantPath   string
		wantSort   string
		wantFilter string
	}{
		{
			name:       "sorted history rides the overview listing",
			feed:       domain.Feed{Redditor: "spez", Listing: domain.ListingTop, TimeFilter: domain.FilterYear},
			wantPath:   "/user/spez/overview.json",
			wantSort:   "top",
			wantFilter: "year",
		},
		{
			name:     "new history",
			feed:     domain.Feed{Redditor: "spez", Listing: domain.ListingNew},
			wantPath: "/user/spez/overview.json",
			wantSort: "new",
		},
		{
			name:     "gilded has its own path",
			feed:     domain.Feed{Redditor: "spez", Listing: domain.ListingGilded},
			wantPath: "/user/spez/gilded.json",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var gotReq *http.Request
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotReq = r.Clone(context.Background())
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"kind": "Listing", "data": {"children": [], "after": null}}`))
			}))
			defer server.Close()

			client := newTestClient(server.URL)
			_, err := client.FetchPage(context.Background(), tc.feed, nil)
			require.NoError(t, err)

			require.NotNil(t, gotReq)
			assert.Equal(t, tc.wantPath, gotReq.URL.Path)
			assert.Equal(t, tc.wantSort, gotReq.URL.Query().Get("sort"))
			assert.Equal(t, tc.wantFilter, gotReq.URL.Query().Get("t"))
		})
	}
}

func TestClient_FetchPage_ClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "rate limited with retry-after",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Retry-After", "7")
				w.WriteHeader(http.StatusTooManyRequests)
			},
			check: func(t *testing.T, err error) {
				var rl *domain.RateLimitedError
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, 7*time.Second, rl.RetryAfter)
			},
		},
		{
			name: "rate limited with ratelimit reset fallback",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("X-Ratelimit-Reset", "12.5")
				w.WriteHeader(http.StatusTooManyRequests)
			},
			check: func(t *testing.T, err error) {
				var rl *domain.RateLimitedError
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, 12500*time.Millisecond, rl.RetryAfter)
			},
		},
		{
			name: "rate limited without headers uses default",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			check: func(t *testing.T, err error) {
				var rl *domain.RateLimitedError
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, time.Minute, rl.RetryAfter)
			},
		},
		{
			name: "server error is transient",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			check: func(t *testing.T, err error) {
				var tr *domain.TransientError
				require.ErrorAs(t, err, &tr)
			},
		},
		{
			name: "unauthorized is an auth failure",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			check: func(t *testing.T, err error) {
				var auth *domain.AuthError
				require.ErrorAs(t, err, &auth)
			},
		},
		{
			name: "not found is permanent",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			check: func(t *testing.T, err error) {
				var perm *domain.PermanentError
				require.ErrorAs(t, err, &perm)
				assert.Equal(t, http.StatusNotFound, perm.StatusCode)
			},
		},
		{
			name: "forbidden subreddit is permanent",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			check: func(t *testing.T, err error) {
				var perm *domain.PermanentError
				require.ErrorAs(t, err, &perm)
			},
		},
		{
			name: "garbled body is transient",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"kind": "Listing", "data": {`))
			},
			check: func(t *testing.T, err error) {
				var tr *domain.TransientError
				require.ErrorAs(t, err, &tr)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(tc.handler)
			defer server.Close()

			client := newTestClient(server.URL)
			feed := domain.Feed{Subreddit: "golang", Listing: domain.ListingNew}

			_, err := client.FetchPage(context.Background(), feed, nil)
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestClient_FetchPage_TokenErrorPassesThrough(t *testing.T) {
	t.Parallel()

	tokenErr := &domain.AuthError{Err: assert.AnError}
	client := reddit.NewClient(reddit.ClientConfig{
		BaseURL:   "http://localhost:0",
		UserAgent: "test-agent/1.0",
	}, staticTokens{err: tokenErr}, testLogger())

	feed := domain.Feed{Subreddit: "golang", Listing: domain.ListingNew}
	_, err := client.FetchPage(context.Background(), feed, nil)

	var auth *domain.AuthError
	require.ErrorAs(t, err, &auth)
}

func TestFeedFetcher_BindsFeed(t *testing.T) {
	t.Parallel()

	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kind": "Listing", "data": {"children": [], "after": null}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	fetcher := client.Feed(domain.Feed{Subreddit: "programming", Listing: domain.ListingComments})

	_, err := fetcher.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "/r/programming/comments.json", gotPath)
}
