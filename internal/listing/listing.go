// Package listing filters and orders post summaries for the index page and
// the recent-posts sidebar. It holds no state.
package listing

import (
	"slices"
	"strings"
	"time"
)

const (
	SortNewest  = "newest"
	SortOldest  = "oldest"
	SortPopular = "popular"

	CategoryAll = "all"
)

// Summary 是列表页展示一篇文章所需的元数据
type Summary struct {
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Excerpt     string    `json:"excerpt"`
	Body        string    `json:"-"`
	Category    string    `json:"category"`
	PublishedAt time.Time `json:"published_at"`
	ReadingTime int       `json:"reading_time"`
	Likes       int       `json:"likes"`
}

// Query 对应搜索框、分类下拉框与排序下拉框
type Query struct {
	Text     string
	Category string
	Sort     string
	Limit    int
}

// Apply returns the visible subset of posts in display order. The input slice
// is not modified. Unknown sort keys keep the input order.
func Apply(posts []Summary, q Query) []Summary {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	category := strings.ToLower(strings.TrimSpace(q.Category))
	if category == CategoryAll {
		category = ""
	}

	visible := make([]Summary, 0, len(posts))
	for _, p := range posts {
		if category != "" && strings.ToLower(p.Category) != category {
			continue
		}
		if text != "" && !matches(p, text) {
			continue
		}
		visible = append(visible, p)
	}

	switch strings.ToLower(strings.TrimSpace(q.Sort)) {
	case SortNewest:
		slices.SortStableFunc(visible, func(a, b Summary) int {
			return b.PublishedAt.Compare(a.PublishedAt)
		})
	case SortOldest:
		slices.SortStableFunc(visible, func(a, b Summary) int {
			return a.PublishedAt.Compare(b.PublishedAt)
		})
	case SortPopular:
		slices.SortStableFunc(visible, func(a, b Summary) int {
			return b.Likes - a.Likes
		})
	}

	if q.Limit > 0 && len(visible) > q.Limit {
		visible = visible[:q.Limit]
	}
	return visible
}

func matches(p Summary, text string) bool {
	return strings.Contains(strings.ToLower(p.Title), text) ||
		strings.Contains(strings.ToLower(p.Body), text) ||
		strings.Contains(strings.ToLower(p.Excerpt), text)
}

// Categories lists the distinct categories in first-seen order.
func Categories(posts []Summary) []string {
	seen := make(map[string]struct{}, len(posts))
	var out []string
	for _, p := range posts {
		c := strings.TrimSpace(p.Category)
		if c == "" {
			continue
		}
		key := strings.ToLower(c)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
