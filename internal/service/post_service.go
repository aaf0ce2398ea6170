package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/blogpulse/internal/db"
	"github.com/blogpulse/internal/listing"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPostNotFound = errors.New("post not found")
	ErrInvalidPost  = errors.New("post slug and title are required")
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,119}$`)

const excerptRunes = 160

// PostService wraps the post catalog. Posts are keyed by slug, which is also
// the post id the engagement counters use.
type PostService struct {
	db *gorm.DB
}

// PostInput represents fields accepted when creating or updating a post.
type PostInput struct {
	Slug        string
	Title       string
	Body        string
	Category    string
	PublishedAt time.Time
}

// NewPostService creates a PostService instance.
func NewPostService(gdb *gorm.DB) *PostService {
	return &PostService{db: gdb}
}

// Upsert creates the post or overwrites the one with the same slug.
func (s *PostService) Upsert(ctx context.Context, input PostInput) (*db.Post, error) {
	slug := NormalizePostID(input.Slug)
	title := strings.TrimSpace(input.Title)
	if !slugPattern.MatchString(slug) || title == "" {
		return nil, ErrInvalidPost
	}

	publishedAt := input.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now()
	}

	post := db.Post{
		Slug:        slug,
		Title:       title,
		Body:        input.Body,
		Category:    strings.TrimSpace(input.Category),
		PublishedAt: publishedAt.UTC(),
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "body", "category", "published_at", "updated_at", "deleted_at"}),
	}).Create(&post).Error
	if err != nil {
		return nil, fmt.Errorf("save post %s: %w", slug, err)
	}

	return s.Get(ctx, slug)
}

// Get fetches a post by slug.
func (s *PostService) Get(ctx context.Context, slug string) (*db.Post, error) {
	var post db.Post
	if err := s.db.WithContext(ctx).Where("slug = ?", NormalizePostID(slug)).First(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	return &post, nil
}

// List returns all posts ordered by publish time descending.
func (s *PostService) List(ctx context.Context) ([]db.Post, error) {
	var posts []db.Post
	if err := s.db.WithContext(ctx).Order("published_at desc, id desc").Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}

// Slugs returns every post id in catalog order.
func (s *PostService) Slugs(ctx context.Context) ([]string, error) {
	var slugs []string
	if err := s.db.WithContext(ctx).Model(&db.Post{}).Order("published_at desc, id desc").Pluck("slug", &slugs).Error; err != nil {
		return nil, err
	}
	return slugs, nil
}

// Delete removes a post by slug. Its counters and comments are left in place.
func (s *PostService) Delete(ctx context.Context, slug string) error {
	result := s.db.WithContext(ctx).Unscoped().Where("slug = ?", NormalizePostID(slug)).Delete(&db.Post{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPostNotFound
	}
	return nil
}

// Summaries joins like counts onto the catalog for the listing view.
func (s *PostService) Summaries(posts []db.Post, likes map[string]int) []listing.Summary {
	out := make([]listing.Summary, 0, len(posts))
	for _, p := range posts {
		out = append(out, listing.Summary{
			Slug:        p.Slug,
			Title:       p.Title,
			Excerpt:     Excerpt(p.Body, excerptRunes),
			Body:        p.Body,
			Category:    p.Category,
			PublishedAt: p.PublishedAt,
			ReadingTime: calculateReadingTime(p.Body),
			Likes:       likes[p.Slug],
		})
	}
	return out
}

// Excerpt returns the first limit runes of the body as plain text.
func Excerpt(body string, limit int) string {
	text := strings.Join(strings.Fields(markdownNoise.Replace(body)), " ")
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}

var markdownNoise = strings.NewReplacer("#", "", "*", "", "_", "", "`", "", ">", "")

func calculateReadingTime(content string) int {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return 0
	}

	runes := []rune(trimmed)
	minutes := len(runes) / 400
	if len(runes)%400 != 0 {
		minutes++
	}
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
