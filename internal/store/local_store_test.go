package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/blogpulse/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupLocalStore(t *testing.T) (*LocalStore, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:local-store-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	return NewLocalStore(gdb, nil), gdb
}

func TestLocalStoreLikeCountDefaultsAndClamps(t *testing.T) {
	s, _ := setupLocalStore(t)
	ctx := context.Background()

	count, err := s.LikeCount(ctx, "future-fear")
	if err != nil {
		t.Fatalf("LikeCount returned error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected default count 0, got %d", count)
	}

	if count, err = s.IncrementLikes(ctx, "future-fear", 1); err != nil || count != 1 {
		t.Fatalf("expected count 1 after increment, got %d (err=%v)", count, err)
	}
	if count, err = s.IncrementLikes(ctx, "future-fear", -1); err != nil || count != 0 {
		t.Fatalf("expected count 0 after decrement, got %d (err=%v)", count, err)
	}
	if count, err = s.IncrementLikes(ctx, "future-fear", -1); err != nil || count != 0 {
		t.Fatalf("expected count clamped at 0, got %d (err=%v)", count, err)
	}

	if err := s.SetLikeCount(ctx, "future-fear", -5); err != nil {
		t.Fatalf("SetLikeCount returned error: %v", err)
	}
	if count, _ = s.LikeCount(ctx, "future-fear"); count != 0 {
		t.Fatalf("expected negative set to clamp at 0, got %d", count)
	}
}

func TestLocalStoreLikedSetIsSharedAcrossPosts(t *testing.T) {
	s, gdb := setupLocalStore(t)

	s.MarkLiked("visitor-1", "post-a")
	s.MarkLiked("visitor-1", "post-b")
	s.MarkLiked("visitor-1", "post-a")

	if !s.HasLiked("visitor-1", "post-a") || !s.HasLiked("visitor-1", "post-b") {
		t.Fatal("expected both posts in liked set")
	}
	if s.HasLiked("visitor-2", "post-a") {
		t.Fatal("liked set must be scoped to the visitor")
	}

	var entry db.LocalEntry
	if err := gdb.Where("key = ?", "userLikes:visitor-1").First(&entry).Error; err != nil {
		t.Fatalf("expected one liked-set entry: %v", err)
	}
	if entry.Value != `["post-a","post-b"]` {
		t.Fatalf("unexpected liked set encoding %s", entry.Value)
	}

	s.UnmarkLiked("visitor-1", "post-a")
	if s.HasLiked("visitor-1", "post-a") {
		t.Fatal("expected post-a to be removed")
	}
	if !s.HasLiked("visitor-1", "post-b") {
		t.Fatal("expected post-b to stay liked")
	}
}

func TestLocalStoreCommentsNewestFirst(t *testing.T) {
	s, _ := setupLocalStore(t)
	ctx := context.Background()

	base := time.Date(2024, 10, 26, 9, 0, 0, 0, time.UTC)
	tick := 0
	s.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})

	for _, text := range []string{"first", "second", "third"} {
		if _, err := s.AddComment(ctx, NewComment{PostID: "post-a", Author: "ann", Text: text}); err != nil {
			t.Fatalf("AddComment(%s) failed: %v", text, err)
		}
	}
	if _, err := s.AddComment(ctx, NewComment{PostID: "post-b", Author: "bob", Text: "elsewhere"}); err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}

	comments, err := s.ListComments(ctx, "post-a", 0)
	if err != nil {
		t.Fatalf("ListComments failed: %v", err)
	}
	if len(comments) != 3 {
		t.Fatalf("expected 3 comments, got %d", len(comments))
	}
	if comments[0].Text != "third" || comments[2].Text != "first" {
		t.Fatalf("expected newest first, got %q .. %q", comments[0].Text, comments[2].Text)
	}
	for _, c := range comments {
		if !strings.HasPrefix(c.ID, LocalIDPrefix) {
			t.Fatalf("expected local id prefix, got %s", c.ID)
		}
	}

	limited, err := s.ListComments(ctx, "post-a", 2)
	if err != nil || len(limited) != 2 {
		t.Fatalf("expected 2 comments with limit, got %d (err=%v)", len(limited), err)
	}

	if err := s.DeleteComment(ctx, "post-a", comments[1].ID); err != nil {
		t.Fatalf("DeleteComment failed: %v", err)
	}
	if err := s.DeleteComment(ctx, "post-a", comments[1].ID); !errors.Is(err, ErrCommentNotFound) {
		t.Fatalf("expected ErrCommentNotFound on second delete, got %v", err)
	}

	remaining, _ := s.ListComments(ctx, "post-a", 0)
	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining comments, got %d", len(remaining))
	}
}

func TestLocalStoreCommentIDsStayUniqueOnSameTick(t *testing.T) {
	s, _ := setupLocalStore(t)
	ctx := context.Background()

	fixed := time.Date(2024, 7, 2, 12, 0, 0, 0, time.UTC)
	s.WithClock(func() time.Time { return fixed })

	first, err := s.AddComment(ctx, NewComment{PostID: "p", Author: "a", Text: "one"})
	if err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}
	second, err := s.AddComment(ctx, NewComment{PostID: "p", Author: "a", Text: "two"})
	if err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("expected distinct ids, both were %s", first.ID)
	}
}

func TestLocalStoreListCommentsEmpty(t *testing.T) {
	s, _ := setupLocalStore(t)

	comments, err := s.ListComments(context.Background(), "nobody", 0)
	if err != nil {
		t.Fatalf("ListComments failed: %v", err)
	}
	if comments == nil || len(comments) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", comments)
	}
}

func TestLocalStoreViewMarkersAndCounts(t *testing.T) {
	s, _ := setupLocalStore(t)
	ctx := context.Background()

	if s.WasViewedToday("v1", "home", "2024-10-26") {
		t.Fatal("expected no marker before first view")
	}
	s.MarkViewedToday("v1", "home", "2024-10-26")
	if !s.WasViewedToday("v1", "home", "2024-10-26") {
		t.Fatal("expected marker after marking")
	}
	if s.WasViewedToday("v1", "home", "2024-10-27") {
		t.Fatal("marker must not carry over to the next day")
	}

	for i := 1; i <= 3; i++ {
		count, err := s.IncrementViews(ctx, "home")
		if err != nil {
			t.Fatalf("IncrementViews failed: %v", err)
		}
		if count != int64(i) {
			t.Fatalf("expected count %d, got %d", i, count)
		}
	}

	keys, err := s.Keys(ctx, "viewed:")
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "viewed:v1:home:2024-10-26" {
		t.Fatalf("unexpected marker keys %v", keys)
	}
}

func TestLocalStoreCorruptValueIsStale(t *testing.T) {
	s, gdb := setupLocalStore(t)

	if err := gdb.Create(&db.LocalEntry{Key: "userLikes:v1", Value: "not-json"}).Error; err != nil {
		t.Fatalf("failed to seed corrupt entry: %v", err)
	}

	if s.HasLiked("v1", "post") {
		t.Fatal("expected corrupt liked set to read as not liked")
	}
}
