// Package store holds the two engagement backends (hosted PostgreSQL and the
// node-local SQLite fallback) behind one interface, plus the probe that picks
// which of them is live for the process.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCommentNotFound = errors.New("comment not found")
	ErrNotConfigured   = errors.New("remote store not configured")
)

// DefaultCommentLimit mirrors the page size the blog front end asks for.
const DefaultCommentLimit = 50

// LocalIDPrefix marks comment ids synthesized by the local fallback store.
const LocalIDPrefix = "local_"

// Comment is a typed comment record at the store boundary.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	ClientIP  string    `json:"ip,omitempty"`
	CreatedAt time.Time `json:"timestamp"`
}

// IsLocal reports whether the comment id was assigned by the local fallback store.
func (c Comment) IsLocal() bool {
	return IsLocalID(c.ID)
}

// NewComment carries the fields a visitor submits; id and timestamp are assigned by the store.
type NewComment struct {
	PostID   string
	Author   string
	Text     string
	ClientIP string
}

// Store is the contract shared by the remote adapter and the local fallback.
type Store interface {
	Name() string
	LikeCount(ctx context.Context, postID string) (int, error)
	IncrementLikes(ctx context.Context, postID string, delta int) (int, error)
	ListComments(ctx context.Context, postID string, limit int) ([]Comment, error)
	AddComment(ctx context.Context, input NewComment) (Comment, error)
	DeleteComment(ctx context.Context, postID, commentID string) error
	IncrementViews(ctx context.Context, pageID string) (int64, error)
	ViewCount(ctx context.Context, pageID string) (int64, error)
}

// VisitorMarks is the per-visitor state that always lives locally,
// whichever backend serves the counters.
type VisitorMarks interface {
	HasLiked(visitorID, postID string) bool
	MarkLiked(visitorID, postID string)
	UnmarkLiked(visitorID, postID string)
	WasViewedToday(visitorID, pageID, day string) bool
	MarkViewedToday(visitorID, pageID, day string)
}
