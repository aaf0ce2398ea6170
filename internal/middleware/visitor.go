package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	visitorSessionKey = "visitor_id"
	visitorContextKey = "__visitor_id"
	visitorMaxAge     = 365 * 24 * 60 * 60
)

// Visitor 为每个浏览器分配持久的访客 ID，替代前端 localStorage 的作用域。
// 必须放在 sessions.Sessions 之后。
func Visitor() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		id, _ := session.Get(visitorSessionKey).(string)
		if strings.TrimSpace(id) == "" {
			id = uuid.NewString()
			session.Set(visitorSessionKey, id)
			session.Options(sessions.Options{
				Path:     "/",
				MaxAge:   visitorMaxAge,
				HttpOnly: true,
				Secure:   c.Request.TLS != nil,
				SameSite: http.SameSiteLaxMode,
			})
			if err := session.Save(); err != nil {
				slog.Warn("failed to save visitor session", slog.String("error", err.Error()))
			}
		}
		c.Set(visitorContextKey, id)
		c.Next()
	}
}

// VisitorID returns the id set by Visitor, or "" outside that middleware.
func VisitorID(c *gin.Context) string {
	return c.GetString(visitorContextKey)
}
