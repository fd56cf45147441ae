package normalize_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddit_archiver/internal/domain"
	"reddit_archiver/internal/normalize"
)

func rawPost(data string) domain.RawItem {
	return domain.RawItem{Kind: "t3", Data: json.RawMessage(data)}
}

func rawComment(data string) domain.RawItem {
	return domain.RawItem{Kind: "t1", Data: json.RawMessage(data)}
}

func TestNormalize_SelfPost(t *testing.T) {
	t.Parallel()

	item, err := normalize.New().Normalize(rawPost(`{
		"name": "t3_abc123",
		"title": "Show and tell",
		"author": "gopher",
		"subreddit": "golang",
		"score": 42,
		"selftext": "hello world",
		"is_self": true,
		"url": "https://reddit.com/r/golang/comments/abc123/show_and_tell/",
		"permalink": "/r/golang/comments/abc123/show_and_tell/",
		"num_comments": 7,
		"created_utc": 1715504400.0,
		"distinguished": null,
		"stickied": false,
		"removed_by_category": null,
		"edited": false
	}`))
	require.NoError(t, err)

	assert.Equal(t, "t3_abc123", item.ExternalID)
	assert.Equal(t, domain.KindPost, item.Kind)
	assert.Equal(t, time.Date(2024, 5, 12, 9, 0, 0, 0, time.UTC), item.CreatedAt)

	assert.Equal(t, "Show and tell", item.Payload.Title)
	require.NotNil(t, item.Payload.Body)
	assert.Equal(t, "hello world", *item.Payload.Body)
	assert.Empty(t, item.Payload.URL)
	require.NotNil(t, item.Payload.Author)
	assert.Equal(t, "gopher", *item.Payload.Author)
	assert.Equal(t, int64(42), item.Payload.Score)
	require.NotNil(t, item.Payload.NumComments)
	assert.Equal(t, int64(7), *item.Payload.NumComments)
	assert.False(t, item.Payload.Removed)
	assert.False(t, item.Payload.Edited)
	assert.NotEmpty(t, item.RevisionHash)
	assert.True(t, item.FetchedAt.IsZero())
}

func TestNormalize_LinkPost(t *testing.T) {
	t.Parallel()

	item, err := normalize.New().Normalize(rawPost(`{
		"name": "t3_link1",
		"title": "Interesting article",
		"author": "gopher",
		"subreddit": "golang",
		"is_self": false,
		"selftext": "",
		"url": "https://example.com/article",
		"created_utc": 1715504400
	}`))
	require.NoError(t, err)

	assert.Nil(t, item.Payload.Body)
	assert.Equal(t, "https://example.com/article", item.Payload.URL)
}

func TestNormalize_PostEdgeCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		data  string
		check func(t *testing.T, item *domain.ArchivedItem)
	}{
		{
			name: "deleted author stored as null",
			data: `{"name": "t3_a", "title": "x", "author": "[deleted]", "subreddit": "golang", "created_utc": 1715504400}`,
			check: func(t *testing.T, item *domain.ArchivedItem) {
				assert.Nil(t, item.Payload.Author)
			},
		},
		{
			name: "moderator removal sets removed",
			data: `{"name": "t3_a", "title": "x", "subreddit": "golang", "created_utc": 1715504400, "removed_by_category": "moderator"}`,
			check: func(t *testing.T, item *domain.ArchivedItem) {
				assert.True(t, item.Payload.Removed)
			},
		},
		{
			name: "edit timestamp sets edited",
			data: `{"name": "t3_a", "title": "x", "subreddit": "golang", "created_utc": 1715504400, "edited": 1715508000.0}`,
			check: func(t *testing.T, item *domain.ArchivedItem) {
				assert.True(t, item.Payload.Edited)
			},
		},
		{
			name: "distinguished flag collapses to bool",
			data: `{"name": "t3_a", "title": "x", "subreddit": "golang", "created_utc": 1715504400, "distinguished": "moderator"}`,
			check: func(t *testing.T, item *domain.ArchivedItem) {
				assert.True(t, item.Payload.Distinguished)
			},
		},
		{
			name: "fractional created_utc keeps sub-second precision",
			data: `{"name": "t3_a", "title": "x", "subreddit": "golang", "created_utc": 1715504400.5}`,
			check: func(t *testing.T, item *domain.ArchivedItem) {
				assert.Equal(t, time.Date(2024, 5, 12, 9, 0, 0, 500000000, time.UTC), item.CreatedAt)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			item, err := normalize.New().Normalize(rawPost(tc.data))
			require.NoError(t, err)
			tc.check(t, item)
		})
	}
}

func TestNormalize_Comment(t *testing.T) {
	t.Parallel()

	item, err := normalize.New().Normalize(rawComment(`{
		"name": "t1_xyz",
		"author": "commenter",
		"subreddit": "golang",
		"score": 3,
		"body": "nice writeup",
		"permalink": "/r/golang/comments/abc123/show_and_tell/xyz/",
		"link_id": "t3_abc123",
		"parent_id": "t1_parent9",
		"created_utc": 1715508000,
		"banned_by": null,
		"edited": false
	}`))
	require.NoError(t, err)

	assert.Equal(t, "t1_xyz", item.ExternalID)
	assert.Equal(t, domain.KindComment, item.Kind)
	require.NotNil(t, item.Payload.Body)
	assert.Equal(t, "nice writeup", *item.Payload.Body)
	require.NotNil(t, item.Payload.LinkID)
	assert.Equal(t, "t3_abc123", *item.Payload.LinkID)
	require.NotNil(t, item.Payload.ParentID)
	assert.Equal(t, "t1_parent9", *item.Payload.ParentID)
	assert.False(t, item.Payload.Removed)
}

func TestNormalize_CommentEdgeCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		data  string
		check func(t *testing.T, item *domain.ArchivedItem)
	}{
		{
			name: "top level comment has no parent",
			data: `{"name": "t1_a", "body": "x", "subreddit": "golang", "link_id": "t3_abc", "parent_id": "t3_abc", "created_utc": 1715508000}`,
			check: func(t *testing.T, item *domain.ArchivedItem) {
				assert.Nil(t, item.Payload.ParentID)
			},
		},
		{
			name: "banned comment is removed",
			data: `{"name": "t1_a", "body": "[removed]", "subreddit": "golang", "link_id": "t3_abc", "created_utc": 1715508000, "banned_by": "a-moderator"}`,
			check: func(t *testing.T, item *domain.ArchivedItem) {
				assert.True(t, item.Payload.Removed)
			},
		},
		{
			name: "banned_by false means visible",
			data: `{"name": "t1_a", "body": "x", "subreddit": "golang", "link_id": "t3_abc", "created_utc": 1715508000, "banned_by": false}`,
			check: func(t *testing.T, item *domain.ArchivedItem) {
				assert.False(t, item.Payload.Removed)
			},
		},
		{
			name: "missing body is removed",
			data: `{"name": "t1_a", "subreddit": "golang", "link_id": "t3_abc", "created_utc": 1715508000}`,
			check: func(t *testing.T, item *domain.ArchivedItem) {
				assert.Nil(t, item.Payload.Body)
				assert.True(t, item.Payload.Removed)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			item, err := normalize.New().Normalize(rawComment(tc.data))
			require.NoError(t, err)
			tc.check(t, item)
		})
	}
}

func TestNormalize_RejectsMalformedItems(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  domain.RawItem
	}{
		{
			name: "unsupported kind",
			raw:  domain.RawItem{Kind: "t5", Data: json.RawMessage(`{}`)},
		},
		{
			name: "invalid json",
			raw:  rawPost(`{"name": "t3_a", "title":`),
		},
		{
			name: "post missing fullname",
			raw:  rawPost(`{"title": "x", "subreddit": "golang", "created_utc": 1715504400}`),
		},
		{
			name: "post with comment fullname",
			raw:  rawPost(`{"name": "t1_a", "title": "x", "subreddit": "golang", "created_utc": 1715504400}`),
		},
		{
			name: "post missing title",
			raw:  rawPost(`{"name": "t3_a", "subreddit": "golang", "created_utc": 1715504400}`),
		},
		{
			name: "post missing created_utc",
			raw:  rawPost(`{"name": "t3_a", "title": "x", "subreddit": "golang"}`),
		},
		{
			name: "comment missing link_id",
			raw:  rawComment(`{"name": "t1_a", "body": "x", "subreddit": "golang", "created_utc": 1715508000}`),
		},
		{
			name: "comment with wrong type in field",
			raw:  rawComment(`{"name": "t1_a", "body": "x", "link_id": "t3_abc", "created_utc": "not-a-number"}`),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := normalize.New().Normalize(tc.raw)
			var malformed *domain.MalformedItemError
			require.ErrorAs(t, err, &malformed)
		})
	}
}

func TestRevisionHash_Deterministic(t *testing.T) {
	t.Parallel()

	raw := `{
		"name": "t3_abc123",
		"title": "Show and tell",
		"author": "gopher",
		"subreddit": "golang",
		"score": 42,
		"is_self": true,
		"selftext": "hello",
		"created_utc": 1715504400
	}`

	first, err := normalize.New().Normalize(rawPost(raw))
	require.NoError(t, err)
	second, err := normalize.New().Normalize(rawPost(raw))
	require.NoError(t, err)

	assert.Equal(t, first.RevisionHash, second.RevisionHash)
	assert.Len(t, first.RevisionHash, 64)
}

func TestRevisionHash_ChangesWithContent(t *testing.T) {
	t.Parallel()

	base := `{"name": "t3_a", "title": "x", "subreddit": "golang", "score": 1, "created_utc": 1715504400}`
	bumped := `{"name": "t3_a", "title": "x", "subreddit": "golang", "score": 2, "created_utc": 1715504400}`

	first, err := normalize.New().Normalize(rawPost(base))
	require.NoError(t, err)
	second, err := normalize.New().Normalize(rawPost(bumped))
	require.NoError(t, err)

	assert.NotEqual(t, first.RevisionHash, second.RevisionHash)
}
