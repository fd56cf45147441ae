// Package normalize turns raw listing entries into archived items.
//
// Normalization is pure: no I/O, no clock. Items that cannot be decoded or
// that miss required fields come back as MalformedItemError so the engine can
// skip them without aborting the page.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"reddit_archiver/internal/domain"
)

const deletedAuthor = "[deleted]"

// Normalizer maps raw t1/t3 things onto the archive schema.
type Normalizer struct{}

func New() *Normalizer {
	return &Normalizer{}
}

// Normalize validates and converts a single raw item. The returned item has
// no FetchedAt: ingestion time is stamped by the store at commit.
func (n *Normalizer) Normalize(raw domain.RawItem) (*domain.ArchivedItem, error) {
	switch raw.Kind {
	case "t3":
		return normalizePost(raw.Data)
	case "t1":
		return normalizeComment(raw.Data)
	default:
		return nil, &domain.MalformedItemError{Reason: fmt.Sprintf("unsupported thing kind %q", raw.Kind)}
	}
}

type rawPost struct {
	Name              string     `json:"name"`
	Title             string     `json:"title"`
	Author            string     `json:"author"`
	Subreddit         string     `json:"subreddit"`
	Score             int64      `json:"score"`
	Selftext          string     `json:"selftext"`
	IsSelf            bool       `json:"is_self"`
	URL               string     `json:"url"`
	Permalink         string     `json:"permalink"`
	NumComments       int64      `json:"num_comments"`
	CreatedUTC        float64    `json:"created_utc"`
	Distinguished     *string    `json:"distinguished"`
	Stickied          bool       `json:"stickied"`
	RemovedByCategory *string    `json:"removed_by_category"`
	BannedBy          bannedBy   `json:"banned_by"`
	Edited            editedFlag `json:"edited"`
}

func normalizePost(data json.RawMessage) (*domain.ArchivedItem, error) {
	var p rawPost
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &domain.MalformedItemError{Reason: fmt.Sprintf("decode post: %v", err)}
	}

	if err := validateFullname(p.Name, "t3_"); err != nil {
		return nil, err
	}
	if p.Title == "" {
		return nil, &domain.MalformedItemError{ExternalID: p.Name, Reason: "missing title"}
	}
	if p.CreatedUTC <= 0 {
		return nil, &domain.MalformedItemError{ExternalID: p.Name, Reason: "missing created_utc"}
	}

	numComments := p.NumComments
	payload := domain.Payload{
		Title:         p.Title,
		Author:        authorOrNil(p.Author),
		Subreddit:     p.Subreddit,
		Score:         p.Score,
		Permalink:     p.Permalink,
		NumComments:   &numComments,
		Distinguished: p.Distinguished != nil && *p.Distinguished != "",
		Stickied:      p.Stickied,
		Removed:       p.RemovedByCategory != nil || bool(p.BannedBy),
		Edited:        bool(p.Edited),
	}

	// Self posts carry their text, link posts carry their destination.
	if p.IsSelf {
		body := p.Selftext
		payload.Body = &body
	} else {
		payload.URL = p.URL
	}

	return build(p.Name, domain.KindPost, p.CreatedUTC, payload)
}

type rawComment struct {
	Name          string     `json:"name"`
	Author        string     `json:"author"`
	Subreddit     string     `json:"subreddit"`
	Score         int64      `json:"score"`
	Body          *string    `json:"body"`
	Permalink     string     `json:"permalink"`
	LinkID        string     `json:"link_id"`
	ParentID      string     `json:"parent_id"`
	CreatedUTC    float64    `json:"created_utc"`
	Distinguished *string    `json:"distinguished"`
	Stickied      bool       `json:"stickied"`
	BannedBy      bannedBy   `json:"banned_by"`
	Edited        editedFlag `json:"edited"`
}

func normalizeComment(data json.RawMessage) (*domain.ArchivedItem, error) {
	var c rawComment
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &domain.MalformedItemError{Reason: fmt.Sprintf("decode comment: %v", err)}
	}

	if err := validateFullname(c.Name, "t1_"); err != nil {
		return nil, err
	}
	if c.LinkID == "" {
		return nil, &domain.MalformedItemError{ExternalID: c.Name, Reason: "missing link_id"}
	}
	if c.CreatedUTC <= 0 {
		return nil, &domain.MalformedItemError{ExternalID: c.Name, Reason: "missing created_utc"}
	}

	linkID := c.LinkID
	payload := domain.Payload{
		Body:          c.Body,
		Author:        authorOrNil(c.Author),
		Subreddit:     c.Subreddit,
		Score:         c.Score,
		Permalink:     c.Permalink,
		LinkID:        &linkID,
		Distinguished: c.Distinguished != nil && *c.Distinguished != "",
		Stickied:      c.Stickied,
		Removed:       bool(c.BannedBy) || c.Body == nil,
		Edited:        bool(c.Edited),
	}

	// Only parents that are themselves comments are recorded; top-level
	// comments hang directly off the post named by link_id.
	if strings.HasPrefix(c.ParentID, "t1_") {
		parentID := c.ParentID
		payload.ParentID = &parentID
	}

	return build(c.Name, domain.KindComment, c.CreatedUTC, payload)
}

func build(externalID string, kind domain.ItemKind, createdUTC float64, payload domain.Payload) (*domain.ArchivedItem, error) {
	hash, err := RevisionHash(payload)
	if err != nil {
		return nil, &domain.MalformedItemError{ExternalID: externalID, Reason: fmt.Sprintf("hash payload: %v", err)}
	}

	return &domain.ArchivedItem{
		ExternalID:   externalID,
		Kind:         kind,
		CreatedAt:    timeFromUTC(createdUTC),
		Payload:      payload,
		RevisionHash: hash,
	}, nil
}

// RevisionHash is the hex SHA-256 of the payload's canonical JSON encoding.
// Equal payloads always hash equal, so a re-fetch of unchanged content is
// detected without comparing field by field.
func RevisionHash(payload domain.Payload) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

func validateFullname(name, prefix string) error {
	if name == "" {
		return &domain.MalformedItemError{Reason: "missing fullname"}
	}
	if !strings.HasPrefix(name, prefix) {
		return &domain.MalformedItemError{ExternalID: name, Reason: fmt.Sprintf("fullname lacks %s prefix", prefix)}
	}
	return nil
}

func authorOrNil(author string) *string {
	if author == "" || author == deletedAuthor {
		return nil
	}
	return &author
}

func timeFromUTC(createdUTC float64) time.Time {
	sec, frac := math.Modf(createdUTC)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
}

// editedFlag tolerates the API's habit of encoding edited as either a
// boolean or the edit timestamp.
type editedFlag bool

func (e *editedFlag) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "false", "null":
		*e = false
		return nil
	case "true":
		*e = true
		return nil
	}

	var ts float64
	if err := json.Unmarshal(data, &ts); err != nil {
		return fmt.Errorf("edited flag: %w", err)
	}
	*e = ts > 0
	return nil
}

// bannedBy is null for visible content and the moderator's name for removed
// content; some endpoints send false instead of null.
type bannedBy bool

func (b *bannedBy) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "false", "null":
		*b = false
		return nil
	}

	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("banned_by: %w", err)
	}
	*b = name != ""
	return nil
}
