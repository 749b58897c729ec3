package feed

import "time"

// Post is the snapshot of a post handed to the fan-out writer.
type Post struct {
	ID            string
	AuthorID      string
	AuthorHandle  string
	Caption       string
	ImageURL      string
	LikesCount    int
	CommentsCount int
	IsPublic      bool
	CreatedAt     time.Time
}

// FeedItem is one post materialized into one recipient's feed.
// Content fields are a copy taken at fan-out time and are never updated.
type FeedItem struct {
	UserID        string    `dynamodbav:"user_id" json:"user_id"`   // PK: recipient
	SortKey       string    `dynamodbav:"sort_key" json:"sort_key"` // SK: created_at millis + post id
	PostID        string    `dynamodbav:"post_id" json:"post_id"`   // GSI hash (by-post index)
	AuthorID      string    `dynamodbav:"author_id" json:"author_id"`
	AuthorHandle  string    `dynamodbav:"author_handle,omitempty" json:"author_handle"`
	Caption       string    `dynamodbav:"caption,omitempty" json:"caption"`
	ImageURL      string    `dynamodbav:"image_url,omitempty" json:"image_url,omitempty"`
	LikesCount    int       `dynamodbav:"likes_count" json:"likes_count"`
	CommentsCount int       `dynamodbav:"comments_count" json:"comments_count"`
	IsPublic      bool      `dynamodbav:"is_public" json:"is_public"`
	CreatedAt     time.Time `dynamodbav:"created_at" json:"created_at"`
	FannedOutAt   time.Time `dynamodbav:"fanned_out_at" json:"fanned_out_at"`
	ExpiresAt     int64     `dynamodbav:"expires_at" json:"expires_at"` // TTL epoch seconds
}

// Key returns the main-table key of the item.
func (i FeedItem) Key() ItemKey {
	return ItemKey{UserID: i.UserID, SortKey: i.SortKey}
}

// IndexKey returns the by-post index key of the item.
func (i FeedItem) IndexKey() IndexKey {
	return IndexKey{PostID: i.PostID, UserID: i.UserID}
}

// Expired reports whether the item's TTL has passed at now.
func (i FeedItem) Expired(now time.Time) bool {
	return i.ExpiresAt <= now.Unix()
}

// ItemKey addresses a single feed item in the main table.
type ItemKey struct {
	UserID  string `dynamodbav:"user_id" json:"user_id"`
	SortKey string `dynamodbav:"sort_key" json:"sort_key"`
}

// IndexKey addresses a single feed item in the by-post index.
type IndexKey struct {
	PostID string `dynamodbav:"post_id" json:"post_id"`
	UserID string `dynamodbav:"user_id" json:"user_id"`
}

// Page is one page of a user's feed, newest first.
// NextCursor is set only when HasMore is true.
type Page struct {
	Items      []FeedItem `json:"items"`
	NextCursor *Cursor    `json:"next_cursor,omitempty"`
	HasMore    bool       `json:"has_more"`
}

// FanOutResult summarizes one fan-out call.
type FanOutResult struct {
	PostID    string   `json:"post_id"`
	Requested int      `json:"requested"`
	Written   int      `json:"written"`
	Existing  int      `json:"existing"` // recipients that already held an unexpired copy
	Failed    []string `json:"failed,omitempty"`
}

// Operation names a cleanup mode.
type Operation string

const (
	OpDeleteByPost          Operation = "delete_by_post"
	OpDeleteByAuthorForUser Operation = "delete_by_author_for_user"
	OpClearFeed             Operation = "clear_feed"
)

// CleanupStatus is the terminal state of a cleanup invocation.
type CleanupStatus string

const (
	StatusDone    CleanupStatus = "done"
	StatusPartial CleanupStatus = "partial"
)

// CleanupResult summarizes one cleanup call. Remaining holds the keys that
// were matched but not confirmed deleted; re-invoking the same call is safe.
type CleanupResult struct {
	Operation    Operation     `json:"operation"`
	Matched      int           `json:"matched"`
	DeletedCount int           `json:"deleted_count"`
	Remaining    []ItemKey     `json:"remaining,omitempty"`
	Status       CleanupStatus `json:"status"`
}

// Partial reports whether some matched items were left in place.
func (r CleanupResult) Partial() bool {
	return r.Status == StatusPartial
}
