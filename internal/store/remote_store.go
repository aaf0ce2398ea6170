package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// RemoteStore is the hosted PostgreSQL backend. Every call may fail; callers are
// expected to redo the operation against the local fallback.
type RemoteStore struct {
	db *sql.DB
	// listQuery runs comment SELECTs; tests swap it to drive the unordered retry.
	listQuery func(ctx context.Context, query string, args ...any) ([]Comment, error)
}

var _ Store = (*RemoteStore)(nil)

// OpenRemote opens a connection pool. sql.Open does not dial, so the selector's
// probe is what decides whether the store is usable.
func OpenRemote(databaseURL string) (*RemoteStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, ErrNotConfigured
	}
	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open remote store: %w", err)
	}
	return NewRemoteStore(sqlDB), nil
}

// NewRemoteStore wraps an existing pool.
func NewRemoteStore(sqlDB *sql.DB) *RemoteStore {
	r := &RemoteStore{db: sqlDB}
	r.listQuery = r.queryComments
	return r
}

func (r *RemoteStore) Name() string { return "remote" }

// Close releases the pool.
func (r *RemoteStore) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Probe performs the lightweight read the selector uses. An empty table is fine.
func (r *RemoteStore) Probe(ctx context.Context) error {
	var likes int
	err := r.db.QueryRowContext(ctx, `SELECT likes FROM post_likes LIMIT 1`).Scan(&likes)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("probe remote store: %w", err)
	}
	return nil
}

func (r *RemoteStore) LikeCount(ctx context.Context, postID string) (int, error) {
	var likes int
	err := r.db.QueryRowContext(ctx, `SELECT likes FROM post_likes WHERE post_id = $1`, postID).Scan(&likes)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load likes for %s: %w", postID, err)
	}
	return likes, nil
}

// IncrementLikes is a single atomic upsert so concurrent visitors never lose updates.
func (r *RemoteStore) IncrementLikes(ctx context.Context, postID string, delta int) (int, error) {
	var likes int
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO post_likes (post_id, likes, updated_at)
		 VALUES ($1, GREATEST($2::integer, 0), now())
		 ON CONFLICT (post_id) DO UPDATE SET
		     likes = GREATEST(post_likes.likes + $2::integer, 0),
		     updated_at = now()
		 RETURNING likes`,
		postID, delta,
	).Scan(&likes)
	if err != nil {
		return 0, fmt.Errorf("increment likes for %s: %w", postID, err)
	}
	return likes, nil
}

// ListComments asks the server for newest-first order. When ordering is not
// available yet the query is retried unordered and sorted here.
func (r *RemoteStore) ListComments(ctx context.Context, postID string, limit int) ([]Comment, error) {
	limit = limitOrDefault(limit)

	comments, err := r.listQuery(ctx,
		`SELECT id, post_id, author, text, client_ip, created_at
		 FROM comments WHERE post_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		postID, limit,
	)
	if err == nil {
		return comments, nil
	}
	if !isOrderingUnavailable(err) {
		return nil, fmt.Errorf("list comments for %s: %w", postID, err)
	}

	comments, err = r.listQuery(ctx,
		`SELECT id, post_id, author, text, client_ip, created_at
		 FROM comments WHERE post_id = $1`,
		postID,
	)
	if err != nil {
		return nil, fmt.Errorf("list comments for %s (unordered): %w", postID, err)
	}
	SortCommentsDesc(comments)
	if len(comments) > limit {
		comments = comments[:limit]
	}
	return comments, nil
}

func (r *RemoteStore) queryComments(ctx context.Context, query string, args ...any) ([]Comment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments := []Comment{}
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.Author, &c.Text, &c.ClientIP, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return comments, nil
}

// AddComment inserts the comment; id and timestamp are assigned by the server.
func (r *RemoteStore) AddComment(ctx context.Context, input NewComment) (Comment, error) {
	c := Comment{
		PostID:   input.PostID,
		Author:   input.Author,
		Text:     input.Text,
		ClientIP: input.ClientIP,
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO comments (post_id, author, text, client_ip)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		c.PostID, c.Author, c.Text, c.ClientIP,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("add comment to %s: %w", input.PostID, err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (r *RemoteStore) DeleteComment(ctx context.Context, postID, commentID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM comments WHERE id = $1 AND post_id = $2`,
		commentID, postID,
	)
	if err != nil {
		if isInvalidID(err) {
			return ErrCommentNotFound
		}
		return fmt.Errorf("delete comment %s: %w", commentID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete comment %s: %w", commentID, err)
	}
	if affected == 0 {
		return ErrCommentNotFound
	}
	return nil
}

func (r *RemoteStore) IncrementViews(ctx context.Context, pageID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO page_views (page_id, count, updated_at)
		 VALUES ($1, 1, now())
		 ON CONFLICT (page_id) DO UPDATE SET
		     count = page_views.count + 1,
		     updated_at = now()
		 RETURNING count`,
		pageID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment views for %s: %w", pageID, err)
	}
	return count, nil
}

func (r *RemoteStore) ViewCount(ctx context.Context, pageID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT count FROM page_views WHERE page_id = $1`, pageID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load views for %s: %w", pageID, err)
	}
	return count, nil
}

// isOrderingUnavailable matches the server errors that mean "the ordered query
// cannot run right now" rather than "the store is down". A missing column is not
// one of them: the unordered query reads the same columns and would fail too.
func isOrderingUnavailable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "55000", // object_not_in_prerequisite_state
		"57014": // query_canceled (statement timeout on an unindexed sort)
		return true
	}
	return false
}

func isInvalidID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02" // invalid_text_representation
}
