package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/blogpulse/internal/metrics"
	"github.com/blogpulse/internal/store"
	"github.com/microcosm-cc/bluemonday"
)

var (
	ErrInvalidPostID       = errors.New("post id is required")
	ErrInvalidComment      = errors.New("author and text are required")
	ErrCommentTooLong      = errors.New("comment is too long")
	ErrSubmitInFlight      = errors.New("comment submission already in progress")
	ErrUnauthorized        = errors.New("admin authorization failed")
	ErrBackendUnavailable  = errors.New("comment backend unavailable")
	ErrCommentsUnavailable = errors.New("comments could not be loaded")
)

const (
	maxAuthorRunes = 80
	maxTextRunes   = 2000
)

// Authorizer decides whether a caller may run admin-gated operations.
type Authorizer interface {
	Authorize(ctx context.Context, secret string) error
}

// LikeState is what the like button renders: the count and the heart.
type LikeState struct {
	PostID string `json:"post_id"`
	Count  int    `json:"count"`
	Liked  bool   `json:"liked"`
}

// CommentInput is a submitted comment form.
type CommentInput struct {
	PostID    string
	Author    string
	Text      string
	VisitorID string
	ClientIP  string
	// FormKey identifies the submit affordance; empty means one form per visitor and post.
	FormKey string
}

// CommentList distinguishes "no comments yet" (Empty) from a load failure (error).
type CommentList struct {
	Comments []store.Comment
	Empty    bool
	Source   string
}

// BulkResult tallies a bulk delete.
type BulkResult struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// ViewResult reports the page counter after a view.
type ViewResult struct {
	PageID  string `json:"page_id"`
	Count   int64  `json:"count"`
	Counted bool   `json:"counted"`
}

// Totals is the blog-wide stats panel.
type Totals struct {
	Posts int   `json:"posts"`
	Likes int   `json:"likes"`
	Views int64 `json:"views"`
}

// EngagementOptions tunes an EngagementService; zero values pick defaults.
type EngagementOptions struct {
	CommentLimit int
	DayLocation  *time.Location
	Metrics      metrics.MetricsCollector
	Logger       *slog.Logger
}

// EngagementService 负责点赞、评论与浏览计数，远程存储失败时透明回退到本地存储。
type EngagementService struct {
	state        store.BackendState
	primary      store.Store
	local        *store.LocalStore
	remoteActive bool

	auth         Authorizer
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	commentLimit int
	dayLocation  *time.Location
	textPolicy   *bluemonday.Policy

	locks  keyedMutex
	busyMu sync.Mutex
	busy   map[string]struct{}
}

// NewEngagementService picks the primary backend once from state. The local store
// is always the fallback and always holds the visitor marks.
func NewEngagementService(state store.BackendState, remote store.Store, local *store.LocalStore, auth Authorizer, opts EngagementOptions) *EngagementService {
	s := &EngagementService{
		state:        state,
		primary:      local,
		local:        local,
		auth:         auth,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		commentLimit: opts.CommentLimit,
		dayLocation:  opts.DayLocation,
		textPolicy:   bluemonday.StrictPolicy(),
		busy:         make(map[string]struct{}),
	}
	if state.RemoteAvailable && remote != nil {
		s.primary = remote
		s.remoteActive = true
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.commentLimit <= 0 {
		s.commentLimit = store.DefaultCommentLimit
	}
	if s.dayLocation == nil {
		s.dayLocation = time.Local
	}
	return s
}

// State returns the backend decision the service was built with.
func (s *EngagementService) State() store.BackendState {
	return s.state
}

// ToggleLike flips the visitor's like on postID and returns the new count.
// Backend failures never surface: the count degrades to the local store.
func (s *EngagementService) ToggleLike(ctx context.Context, visitorID, postID string, currentlyLiked bool) (LikeState, error) {
	postID = NormalizePostID(postID)
	if postID == "" {
		return LikeState{}, ErrInvalidPostID
	}

	unlock := s.locks.Lock("like\x00" + visitorID + "\x00" + postID)
	defer unlock()

	liked := s.local.HasLiked(visitorID, postID)
	if liked != currentlyLiked {
		// The caller's heart is out of date; report the stored state instead of mutating.
		return LikeState{PostID: postID, Count: s.likeCount(ctx, postID), Liked: liked}, nil
	}

	delta, direction := 1, "like"
	if currentlyLiked {
		delta, direction = -1, "unlike"
	}

	count := s.applyLikeDelta(ctx, postID, delta)
	if currentlyLiked {
		s.local.UnmarkLiked(visitorID, postID)
	} else {
		s.local.MarkLiked(visitorID, postID)
	}
	s.metrics.RecordLikeToggle(direction)

	return LikeState{PostID: postID, Count: count, Liked: !currentlyLiked}, nil
}

func (s *EngagementService) applyLikeDelta(ctx context.Context, postID string, delta int) int {
	count, err := s.primary.IncrementLikes(ctx, postID, delta)
	if err == nil {
		return count
	}

	if s.remoteActive {
		s.fallback("toggle_like", postID, err)
		count, err = s.local.IncrementLikes(ctx, postID, delta)
		if err == nil {
			return count
		}
	}

	s.logger.Warn("like update not persisted", slog.String("post_id", postID), slog.String("error", err.Error()))
	stale, _ := s.local.LikeCount(ctx, postID)
	return stale
}

func (s *EngagementService) likeCount(ctx context.Context, postID string) int {
	count, err := s.primary.LikeCount(ctx, postID)
	if err == nil {
		return count
	}
	if s.remoteActive {
		s.fallback("like_count", postID, err)
	}
	count, _ = s.local.LikeCount(ctx, postID)
	return count
}

// LikeStates returns count and heart for each post, in the order given.
func (s *EngagementService) LikeStates(ctx context.Context, visitorID string, postIDs []string) []LikeState {
	states := make([]LikeState, 0, len(postIDs))
	for _, postID := range postIDs {
		postID = NormalizePostID(postID)
		if postID == "" {
			continue
		}
		states = append(states, LikeState{
			PostID: postID,
			Count:  s.likeCount(ctx, postID),
			Liked:  s.local.HasLiked(visitorID, postID),
		})
	}
	return states
}

// SubmitComment validates and stores a comment. A second submit from the same
// form while the first is still being written returns ErrSubmitInFlight.
func (s *EngagementService) SubmitComment(ctx context.Context, input CommentInput) (store.Comment, error) {
	postID := NormalizePostID(input.PostID)
	author := s.plainText(input.Author)
	text := s.plainText(input.Text)
	if postID == "" || author == "" || text == "" {
		return store.Comment{}, ErrInvalidComment
	}
	if utf8.RuneCountInString(author) > maxAuthorRunes || utf8.RuneCountInString(text) > maxTextRunes {
		return store.Comment{}, ErrCommentTooLong
	}

	formKey := strings.TrimSpace(input.FormKey)
	if formKey == "" {
		formKey = input.VisitorID + "\x00" + postID
	}
	if !s.acquireForm(formKey) {
		return store.Comment{}, ErrSubmitInFlight
	}
	defer s.releaseForm(formKey)

	draft := store.NewComment{
		PostID:   postID,
		Author:   author,
		Text:     text,
		ClientIP: input.ClientIP,
	}

	comment, err := s.primary.AddComment(ctx, draft)
	if err == nil {
		s.metrics.RecordCommentSubmitted(s.primary.Name())
		return comment, nil
	}
	if !s.remoteActive {
		return store.Comment{}, fmt.Errorf("store comment: %w", err)
	}

	s.fallback("submit_comment", postID, err)
	comment, err = s.local.AddComment(ctx, draft)
	if err != nil {
		return store.Comment{}, fmt.Errorf("store comment locally: %w", err)
	}
	s.metrics.RecordCommentSubmitted(s.local.Name())
	return comment, nil
}

// plainText strips markup and surrounding whitespace from visitor input.
func (s *EngagementService) plainText(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.textPolicy.Sanitize(strings.TrimSpace(raw))))
}

func (s *EngagementService) acquireForm(key string) bool {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	if _, inFlight := s.busy[key]; inFlight {
		return false
	}
	s.busy[key] = struct{}{}
	return true
}

func (s *EngagementService) releaseForm(key string) {
	s.busyMu.Lock()
	delete(s.busy, key)
	s.busyMu.Unlock()
}

// LoadComments returns the post's comments newest first. Comments kept by the
// local fallback are merged in when the remote store serves, so comments written
// during an outage stay visible. A zero since returns everything.
func (s *EngagementService) LoadComments(ctx context.Context, postID string, since time.Time) (CommentList, error) {
	postID = NormalizePostID(postID)
	if postID == "" {
		return CommentList{}, ErrInvalidPostID
	}

	comments, err := s.primary.ListComments(ctx, postID, s.commentLimit)
	source := s.primary.Name()

	switch {
	case err == nil && s.remoteActive:
		if local, localErr := s.local.ListComments(ctx, postID, s.commentLimit); localErr != nil {
			s.logger.Warn("local comments unavailable", slog.String("post_id", postID), slog.String("error", localErr.Error()))
		} else {
			comments = append(comments, local...)
		}
	case err != nil && s.remoteActive:
		s.fallback("load_comments", postID, err)
		comments, err = s.local.ListComments(ctx, postID, s.commentLimit)
		source = s.local.Name()
		if err != nil {
			return CommentList{}, fmt.Errorf("%w: %w", ErrCommentsUnavailable, err)
		}
	case err != nil:
		return CommentList{}, fmt.Errorf("%w: %w", ErrCommentsUnavailable, err)
	}

	visible := make([]store.Comment, 0, len(comments))
	for _, c := range comments {
		if !since.IsZero() && !c.CreatedAt.After(since) {
			continue
		}
		visible = append(visible, c)
	}
	store.SortCommentsDesc(visible)
	if len(visible) > s.commentLimit {
		visible = visible[:s.commentLimit]
	}

	return CommentList{Comments: visible, Empty: len(visible) == 0, Source: source}, nil
}

// DeleteComment removes one comment after the admin check. The hosting backend is
// inferred from the id: local_ ids live in the local store.
func (s *EngagementService) DeleteComment(ctx context.Context, commentID, postID, adminSecret string) error {
	if err := s.authorize(ctx, adminSecret); err != nil {
		return err
	}
	return s.deleteOne(ctx, NormalizePostID(postID), strings.TrimSpace(commentID))
}

// BulkDeleteComments deletes ids one after another, counting outcomes without
// stopping at the first failure.
func (s *EngagementService) BulkDeleteComments(ctx context.Context, postID string, commentIDs []string, adminSecret string) (BulkResult, error) {
	if err := s.authorize(ctx, adminSecret); err != nil {
		return BulkResult{}, err
	}

	postID = NormalizePostID(postID)
	var result BulkResult
	for _, id := range commentIDs {
		if err := s.deleteOne(ctx, postID, strings.TrimSpace(id)); err != nil {
			result.Failed++
			s.logger.Warn("bulk delete item failed",
				slog.String("post_id", postID),
				slog.String("comment_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Succeeded++
	}

	s.metrics.RecordBulkDelete(result.Succeeded, result.Failed)
	s.logger.Info("bulk delete finished",
		slog.String("post_id", postID),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

func (s *EngagementService) deleteOne(ctx context.Context, postID, commentID string) error {
	if postID == "" || commentID == "" {
		return store.ErrCommentNotFound
	}
	if store.IsLocalID(commentID) {
		return s.local.DeleteComment(ctx, postID, commentID)
	}
	if !s.remoteActive {
		return ErrBackendUnavailable
	}
	return s.primary.DeleteComment(ctx, postID, commentID)
}

func (s *EngagementService) authorize(ctx context.Context, secret string) error {
	if s.auth == nil {
		return ErrUnauthorized
	}
	if err := s.auth.Authorize(ctx, secret); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}

// RecordView counts at most one view per visitor, page and calendar day.
// The dedupe marker is always local, whichever backend holds the counter.
func (s *EngagementService) RecordView(ctx context.Context, visitorID, pagePath string, now time.Time) (ViewResult, error) {
	pageID := pageIDForPath(pagePath)
	day := now.In(s.dayLocation).Format("2006-01-02")

	unlock := s.locks.Lock("view\x00" + visitorID + "\x00" + pageID)
	defer unlock()

	if s.local.WasViewedToday(visitorID, pageID, day) {
		return ViewResult{PageID: pageID, Count: s.viewCount(ctx, pageID)}, nil
	}

	backend := s.primary.Name()
	count, err := s.primary.IncrementViews(ctx, pageID)
	if err != nil && s.remoteActive {
		s.fallback("record_view", pageID, err)
		backend = s.local.Name()
		count, err = s.local.IncrementViews(ctx, pageID)
	}
	if err != nil {
		// Leave the marker unset so a later view can still be counted.
		s.logger.Warn("view not counted", slog.String("page_id", pageID), slog.String("error", err.Error()))
		return ViewResult{PageID: pageID, Count: s.viewCount(ctx, pageID)}, nil
	}

	s.local.MarkViewedToday(visitorID, pageID, day)
	s.metrics.RecordViewCounted(backend)
	return ViewResult{PageID: pageID, Count: count, Counted: true}, nil
}

func (s *EngagementService) viewCount(ctx context.Context, pageID string) int64 {
	count, err := s.primary.ViewCount(ctx, pageID)
	if err == nil {
		return count
	}
	if s.remoteActive {
		s.fallback("view_count", pageID, err)
	}
	count, _ = s.local.ViewCount(ctx, pageID)
	return count
}

// NormalizePostID 与文章目录的 slug 规则一致：去空白并转小写
func NormalizePostID(postID string) string {
	return strings.ToLower(strings.TrimSpace(postID))
}

// PostPageID is the view-counter id of a post's detail page.
func PostPageID(slug string) string {
	return store.SanitizePageID("posts/" + NormalizePostID(slug))
}

// pageIDForPath maps a visited path to its counter id. Post detail pages share
// the id PostPageID gives the catalog slug.
func pageIDForPath(path string) string {
	trimmed := strings.Trim(strings.TrimSpace(path), "/")
	if slug, ok := strings.CutPrefix(trimmed, "posts/"); ok && slug != "" && !strings.Contains(slug, "/") {
		return PostPageID(slug)
	}
	return store.SanitizePageID(path)
}

// Stats sums likes and detail-page views over the given posts.
func (s *EngagementService) Stats(ctx context.Context, postIDs []string) Totals {
	totals := Totals{Posts: len(postIDs)}
	for _, postID := range postIDs {
		postID = NormalizePostID(postID)
		totals.Likes += s.likeCount(ctx, postID)
		totals.Views += s.viewCount(ctx, PostPageID(postID))
	}
	return totals
}

func (s *EngagementService) fallback(op, id string, err error) {
	s.metrics.RecordFallback(op)
	s.logger.Warn("remote store failed, using local storage",
		slog.String("op", op),
		slog.String("id", id),
		slog.String("error", err.Error()),
	)
}
