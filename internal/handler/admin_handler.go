package handler

import (
	"github.com/gin-gonic/gin"
)

// AdminRequired 校验 X-Admin-Secret 请求头，失败时返回 403
func (a *API) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.admin.Authorize(c.Request.Context(), adminSecret(c)); err != nil {
			a.respondServiceError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}
