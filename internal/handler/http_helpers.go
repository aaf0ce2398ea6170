package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/blogpulse/internal/service"
	"github.com/blogpulse/internal/store"
	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, message)
		return false
	}
	return true
}

// respondServiceError 将服务层的哨兵错误映射为 HTTP 状态码
func (a *API) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidPostID),
		errors.Is(err, service.ErrInvalidComment),
		errors.Is(err, service.ErrInvalidPost),
		errors.Is(err, service.ErrCommentTooLong):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		respondError(c, http.StatusForbidden, "管理员口令错误")
	case errors.Is(err, service.ErrSubmitInFlight):
		respondError(c, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrCommentNotFound), errors.Is(err, service.ErrPostNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrBackendUnavailable):
		respondError(c, http.StatusServiceUnavailable, err.Error())
	default:
		a.logger.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err.Error(),
		)
		respondError(c, http.StatusInternalServerError, "服务器内部错误")
	}
}

func adminSecret(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(AdminSecretHeader))
}

// parseSince accepts RFC 3339 or unix milliseconds; empty means no lower bound.
func parseSince(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

func parseLimit(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
