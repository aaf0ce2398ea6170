package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/blogpulse/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LocalStore 是基于 SQLite 的回退存储，沿用前端 localStorage 的命名空间键。
type LocalStore struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	// SQLite 只有一个写者，读改写统一在这里串行化
	mu sync.Mutex
}

var (
	_ Store        = (*LocalStore)(nil)
	_ VisitorMarks = (*LocalStore)(nil)
)

// NewLocalStore 构造 LocalStore，logger 为空时使用 slog.Default。
func NewLocalStore(gdb *gorm.DB, logger *slog.Logger) *LocalStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalStore{db: gdb, logger: logger, now: time.Now}
}

// WithClock 替换时间来源，测试中用于构造确定的评论时间戳。
func (s *LocalStore) WithClock(now func() time.Time) *LocalStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *LocalStore) Name() string { return "local" }

func likesKey(postID string) string    { return "likes_" + postID }
func commentsKey(postID string) string { return "comments_" + postID }
func userLikesKey(visitor string) string {
	return "userLikes:" + visitor
}
func viewsKey(pageID string) string { return "views_" + pageID }
func viewedKey(visitor, pageID, day string) string {
	return "viewed:" + visitor + ":" + pageID + ":" + day
}

// LikeCount returns the stored count, 0 when the post was never liked.
func (s *LocalStore) LikeCount(ctx context.Context, postID string) (int, error) {
	var count int
	if _, err := s.get(s.db.WithContext(ctx), likesKey(postID), &count); err != nil {
		return 0, err
	}
	return max(count, 0), nil
}

// SetLikeCount overwrites the count, clamping at zero.
func (s *LocalStore) SetLikeCount(ctx context.Context, postID string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(s.db.WithContext(ctx), likesKey(postID), max(count, 0))
}

// IncrementLikes applies delta and returns the new count, never below zero.
func (s *LocalStore) IncrementLikes(ctx context.Context, postID string, delta int) (int, error) {
	var count int
	err := s.update(ctx, likesKey(postID), &count, func() bool {
		count = max(count+delta, 0)
		return true
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListComments returns the post's comments newest first, at most limit of them.
func (s *LocalStore) ListComments(ctx context.Context, postID string, limit int) ([]Comment, error) {
	var comments []Comment
	if _, err := s.get(s.db.WithContext(ctx), commentsKey(postID), &comments); err != nil {
		return nil, err
	}

	SortCommentsDesc(comments)
	if n := limitOrDefault(limit); len(comments) > n {
		comments = comments[:n]
	}
	if comments == nil {
		comments = []Comment{}
	}
	return comments, nil
}

// AddComment appends a comment with a synthesized local_{timestamp} id.
func (s *LocalStore) AddComment(ctx context.Context, input NewComment) (Comment, error) {
	now := s.now().UTC()
	comment := Comment{
		PostID:    input.PostID,
		Author:    input.Author,
		Text:      input.Text,
		ClientIP:  input.ClientIP,
		CreatedAt: now,
	}

	var comments []Comment
	err := s.update(ctx, commentsKey(input.PostID), &comments, func() bool {
		stamp := now.UnixNano()
		for {
			id := fmt.Sprintf("%s%d", LocalIDPrefix, stamp)
			if !slices.ContainsFunc(comments, func(c Comment) bool { return c.ID == id }) {
				comment.ID = id
				break
			}
			stamp++
		}
		comments = append(comments, comment)
		return true
	})
	if err != nil {
		return Comment{}, err
	}
	return comment, nil
}

// DeleteComment removes one comment from the post's list.
func (s *LocalStore) DeleteComment(ctx context.Context, postID, commentID string) error {
	var comments []Comment
	found := false
	err := s.update(ctx, commentsKey(postID), &comments, func() bool {
		before := len(comments)
		comments = slices.DeleteFunc(comments, func(c Comment) bool { return c.ID == commentID })
		found = len(comments) != before
		return found
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrCommentNotFound
	}
	return nil
}

// IncrementViews bumps the page counter by one.
func (s *LocalStore) IncrementViews(ctx context.Context, pageID string) (int64, error) {
	var count int64
	err := s.update(ctx, viewsKey(pageID), &count, func() bool {
		count++
		return true
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ViewCount returns the page counter.
func (s *LocalStore) ViewCount(ctx context.Context, pageID string) (int64, error) {
	var count int64
	if _, err := s.get(s.db.WithContext(ctx), viewsKey(pageID), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// HasLiked reports whether the visitor's liked-set holds postID.
// Storage errors yield false.
func (s *LocalStore) HasLiked(visitorID, postID string) bool {
	var liked []string
	if _, err := s.get(s.db, userLikesKey(visitorID), &liked); err != nil {
		s.logger.Warn("read liked set failed", slog.String("visitor_id", visitorID), slog.String("error", err.Error()))
		return false
	}
	return slices.Contains(liked, postID)
}

// MarkLiked adds postID to the visitor's liked-set.
func (s *LocalStore) MarkLiked(visitorID, postID string) {
	var liked []string
	err := s.update(context.Background(), userLikesKey(visitorID), &liked, func() bool {
		if slices.Contains(liked, postID) {
			return false
		}
		liked = append(liked, postID)
		return true
	})
	if err != nil {
		s.logger.Warn("mark liked failed", slog.String("visitor_id", visitorID), slog.String("post_id", postID), slog.String("error", err.Error()))
	}
}

// UnmarkLiked removes postID from the visitor's liked-set.
func (s *LocalStore) UnmarkLiked(visitorID, postID string) {
	var liked []string
	err := s.update(context.Background(), userLikesKey(visitorID), &liked, func() bool {
		idx := slices.Index(liked, postID)
		if idx < 0 {
			return false
		}
		liked = slices.Delete(liked, idx, idx+1)
		return true
	})
	if err != nil {
		s.logger.Warn("unmark liked failed", slog.String("visitor_id", visitorID), slog.String("post_id", postID), slog.String("error", err.Error()))
	}
}

// WasViewedToday reports whether the dedupe marker for day exists.
func (s *LocalStore) WasViewedToday(visitorID, pageID, day string) bool {
	var seen bool
	found, err := s.get(s.db, viewedKey(visitorID, pageID, day), &seen)
	if err != nil {
		s.logger.Warn("read view marker failed", slog.String("page_id", pageID), slog.String("error", err.Error()))
		return false
	}
	return found && seen
}

// MarkViewedToday records the dedupe marker. Markers are never cleaned up; the
// next day simply uses a different key.
func (s *LocalStore) MarkViewedToday(visitorID, pageID, day string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.set(s.db, viewedKey(visitorID, pageID, day), true); err != nil {
		s.logger.Warn("mark view failed", slog.String("page_id", pageID), slog.String("error", err.Error()))
	}
}

// Keys lists stored keys with the given prefix; used by tests and diagnostics.
func (s *LocalStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	if err := s.db.WithContext(ctx).Model(&db.LocalEntry{}).
		Where("key LIKE ?", prefix+"%").
		Order("key").
		Pluck("key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *LocalStore) get(tx *gorm.DB, key string, dst any) (bool, error) {
	var entry db.LocalEntry
	if err := tx.Where("key = ?", key).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(entry.Value), dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *LocalStore) set(tx *gorm.DB, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	entry := db.LocalEntry{Key: key, Value: string(encoded)}
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      entry.Value,
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&entry).Error; err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

// update loads key into dst, runs mutate and writes dst back when mutate reports a change.
func (s *LocalStore) update(ctx context.Context, key string, dst any, mutate func() bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.get(tx, key, dst); err != nil {
			return err
		}
		if !mutate() {
			return nil
		}
		return s.set(tx, key, dst)
	})
}
