package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/blogpulse/internal/listing"
	"github.com/blogpulse/internal/middleware"
	"github.com/blogpulse/internal/service"
	"github.com/gin-gonic/gin"
)

type postListItem struct {
	listing.Summary
	Liked bool `json:"liked"`
}

// ListPosts applies search, category and sort to the catalog.
// 查询参数：search、category、sort(newest|oldest|popular)、limit
func (a *API) ListPosts(c *gin.Context) {
	ctx := c.Request.Context()
	posts, err := a.posts.List(ctx)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	slugs := make([]string, 0, len(posts))
	for _, p := range posts {
		slugs = append(slugs, p.Slug)
	}
	states := a.engagement.LikeStates(ctx, middleware.VisitorID(c), slugs)
	counts := make(map[string]int, len(states))
	liked := make(map[string]bool, len(states))
	for _, s := range states {
		counts[s.PostID] = s.Count
		liked[s.PostID] = s.Liked
	}

	summaries := a.posts.Summaries(posts, counts)
	visible := listing.Apply(summaries, listing.Query{
		Text:     c.Query("search"),
		Category: c.Query("category"),
		Sort:     c.DefaultQuery("sort", listing.SortNewest),
		Limit:    parseLimit(c.Query("limit")),
	})

	items := make([]postListItem, 0, len(visible))
	for _, s := range visible {
		items = append(items, postListItem{Summary: s, Liked: liked[s.Slug]})
	}

	c.JSON(http.StatusOK, gin.H{
		"posts":      items,
		"total":      len(items),
		"categories": listing.Categories(summaries),
	})
}

// GetPost returns a post with rendered HTML, the visitor's like state and share links.
func (a *API) GetPost(c *gin.Context) {
	ctx := c.Request.Context()
	post, err := a.posts.Get(ctx, c.Param("slug"))
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	html, err := service.RenderMarkdown(post.Body)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	var like service.LikeState
	if states := a.engagement.LikeStates(ctx, middleware.VisitorID(c), []string{post.Slug}); len(states) == 1 {
		like = states[0]
	}

	c.JSON(http.StatusOK, gin.H{
		"post": gin.H{
			"slug":         post.Slug,
			"title":        post.Title,
			"category":     post.Category,
			"published_at": post.PublishedAt,
			"html":         string(html),
			"page_id":      service.PostPageID(post.Slug),
		},
		"like":  like,
		"share": service.BuildShareLinks(a.siteBaseURL, post.Slug, post.Title),
	})
}

type upsertPostRequest struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	Category    string `json:"category"`
	PublishedAt string `json:"published_at"`
}

// UpsertPost creates or replaces the post at :slug.
func (a *API) UpsertPost(c *gin.Context) {
	var req upsertPostRequest
	if !bindJSON(c, &req, "请求格式错误") {
		return
	}

	var publishedAt time.Time
	if raw := strings.TrimSpace(req.PublishedAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "发布时间格式错误")
			return
		}
		publishedAt = parsed
	}

	post, err := a.posts.Upsert(c.Request.Context(), service.PostInput{
		Slug:        c.Param("slug"),
		Title:       req.Title,
		Body:        req.Body,
		Category:    req.Category,
		PublishedAt: publishedAt,
	})
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"slug":         post.Slug,
		"title":        post.Title,
		"category":     post.Category,
		"published_at": post.PublishedAt,
	})
}

// DeletePost removes the post at :slug.
func (a *API) DeletePost(c *gin.Context) {
	if err := a.posts.Delete(c.Request.Context(), c.Param("slug")); err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
