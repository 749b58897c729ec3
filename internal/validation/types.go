package validation

import (
	"time"

	"github.com/imrishuroy/go-feed-fanout/internal/feed"
)

// Post is the wire form of a post snapshot, shared by the HTTP API and
// post.created events.
type Post struct {
	ID            string    `json:"id" validate:"id"`
	AuthorID      string    `json:"author_id" validate:"id"`
	AuthorHandle  string    `json:"author_handle" validate:"max=64"`
	Caption       string    `json:"caption" validate:"max=2200"`
	ImageURL      string    `json:"image_url,omitempty" validate:"omitempty,url"`
	LikesCount    int       `json:"likes_count" validate:"min=0"`
	CommentsCount int       `json:"comments_count" validate:"min=0"`
	IsPublic      bool      `json:"is_public"`
	CreatedAt     time.Time `json:"created_at" validate:"required"`
}

// ToFeedPost converts the wire form to the core type.
func (p Post) ToFeedPost() feed.Post {
	return feed.Post{
		ID:            p.ID,
		AuthorID:      p.AuthorID,
		AuthorHandle:  p.AuthorHandle,
		Caption:       p.Caption,
		ImageURL:      p.ImageURL,
		LikesCount:    p.LikesCount,
		CommentsCount: p.CommentsCount,
		IsPublic:      p.IsPublic,
		CreatedAt:     p.CreatedAt,
	}
}

// FromFeedPost is the inverse of ToFeedPost.
func FromFeedPost(p feed.Post) Post {
	return Post{
		ID:            p.ID,
		AuthorID:      p.AuthorID,
		AuthorHandle:  p.AuthorHandle,
		Caption:       p.Caption,
		ImageURL:      p.ImageURL,
		LikesCount:    p.LikesCount,
		CommentsCount: p.CommentsCount,
		IsPublic:      p.IsPublic,
		CreatedAt:     p.CreatedAt,
	}
}

// FanOutRequest is the payload for POST /posts/fanout.
type FanOutRequest struct {
	Post     Post     `json:"post"`
	Audience []string `json:"audience" validate:"required,min=1,max=10000,dive,id"`
}

// FeedQuery holds the query parameters of GET /users/:userID/feed.
type FeedQuery struct {
	Limit  int    `form:"limit" json:"limit" validate:"min=0"`
	Cursor string `form:"cursor" json:"cursor" validate:"max=1024"`
}
