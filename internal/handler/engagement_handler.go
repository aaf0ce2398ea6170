package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/blogpulse/internal/middleware"
	"github.com/blogpulse/internal/service"
	"github.com/blogpulse/internal/store"
	"github.com/gin-gonic/gin"
)

type commentView struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"timestamp"`
	Local     bool      `json:"local"`
}

func newCommentView(c store.Comment) commentView {
	return commentView{
		ID:        c.ID,
		PostID:    c.PostID,
		Author:    c.Author,
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
		Local:     c.IsLocal(),
	}
}

// GetBackend reports which backend the engagement service settled on.
func (a *API) GetBackend(c *gin.Context) {
	state := a.engagement.State()
	c.JSON(http.StatusOK, gin.H{
		"backend":          state.Backend(),
		"remote_available": state.RemoteAvailable,
	})
}

// GetLikes returns like states for ?post=a&post=b.
func (a *API) GetLikes(c *gin.Context) {
	postIDs := c.QueryArray("post")
	if len(postIDs) == 0 {
		respondError(c, http.StatusBadRequest, "至少需要一个 post 参数")
		return
	}
	states := a.engagement.LikeStates(c.Request.Context(), middleware.VisitorID(c), postIDs)
	c.JSON(http.StatusOK, gin.H{"likes": states})
}

type toggleLikeRequest struct {
	Liked bool `json:"liked"`
}

// ToggleLike flips the visitor's like; liked is the heart state the page showed.
func (a *API) ToggleLike(c *gin.Context) {
	var req toggleLikeRequest
	if !bindJSON(c, &req, "请求格式错误") {
		return
	}

	state, err := a.engagement.ToggleLike(c.Request.Context(), middleware.VisitorID(c), c.Param("slug"), req.Liked)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// ListComments 返回文章评论；加载失败时返回 retry 标记，与“暂无评论”区分开
func (a *API) ListComments(c *gin.Context) {
	since, err := parseSince(c.Query("since"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "since 参数格式错误")
		return
	}

	list, err := a.engagement.LoadComments(c.Request.Context(), c.Param("slug"), since)
	if err != nil {
		if errors.Is(err, service.ErrInvalidPostID) {
			a.respondServiceError(c, err)
			return
		}
		a.logger.Warn("comments unavailable", "post_id", c.Param("slug"), "error", err.Error())
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "评论加载失败", "retry": true})
		return
	}

	views := make([]commentView, 0, len(list.Comments))
	for _, comment := range list.Comments {
		views = append(views, newCommentView(comment))
	}
	c.JSON(http.StatusOK, gin.H{
		"comments": views,
		"empty":    list.Empty,
		"source":   list.Source,
	})
}

type createCommentRequest struct {
	Author string `json:"author"`
	Text   string `json:"text"`
	FormID string `json:"form_id"`
}

// CreateComment stores a comment for the post.
func (a *API) CreateComment(c *gin.Context) {
	var req createCommentRequest
	if !bindJSON(c, &req, "请求格式错误") {
		return
	}

	comment, err := a.engagement.SubmitComment(c.Request.Context(), service.CommentInput{
		PostID:    c.Param("slug"),
		Author:    req.Author,
		Text:      req.Text,
		VisitorID: middleware.VisitorID(c),
		ClientIP:  c.ClientIP(),
		FormKey:   req.FormID,
	})
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newCommentView(comment))
}

// DeleteComment removes one comment; the admin password travels in X-Admin-Secret.
func (a *API) DeleteComment(c *gin.Context) {
	id := c.Param("id")
	if err := a.engagement.DeleteComment(c.Request.Context(), id, c.Param("slug"), adminSecret(c)); err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id, "reload": true})
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

// BulkDeleteComments deletes the listed comments and reports the tally.
func (a *API) BulkDeleteComments(c *gin.Context) {
	var req bulkDeleteRequest
	if !bindJSON(c, &req, "请求格式错误") {
		return
	}
	if len(req.IDs) == 0 {
		respondError(c, http.StatusBadRequest, "请选择要删除的评论")
		return
	}

	result, err := a.engagement.BulkDeleteComments(c.Request.Context(), c.Param("slug"), req.IDs, adminSecret(c))
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"reload":    true,
	})
}

type recordViewRequest struct {
	Page string `json:"page"`
}

// RecordView counts a page view at most once per visitor and day.
func (a *API) RecordView(c *gin.Context) {
	var req recordViewRequest
	if !bindJSON(c, &req, "请求格式错误") {
		return
	}

	result, err := a.engagement.RecordView(c.Request.Context(), middleware.VisitorID(c), req.Page, time.Now())
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetStats returns blog-wide totals.
func (a *API) GetStats(c *gin.Context) {
	slugs, err := a.posts.Slugs(c.Request.Context())
	if err != nil {
		a.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, a.engagement.Stats(c.Request.Context(), slugs))
}
