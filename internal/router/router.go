package router

import (
	"log/slog"

	"github.com/blogpulse/internal/handler"
	"github.com/blogpulse/internal/metrics"
	"github.com/blogpulse/internal/middleware"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	sessionName      = "blogpulse_session"
	devSessionSecret = "blogpulse-dev-secret"
)

// Options 汇总路由层需要的外部依赖
type Options struct {
	SessionSecret string
	// TrustedProxies 为空时不信任任何代理，ClientIP 取连接的对端地址
	TrustedProxies []string
	Gatherer       prometheus.Gatherer
	CommentLimiter *middleware.RateLimiter
	AdminLimiter   *middleware.RateLimiter
	Logger         *slog.Logger
}

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, opts Options) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	r := gin.Default()
	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		log.Warn("invalid trusted proxies, trusting none", slog.String("error", err.Error()))
		_ = r.SetTrustedProxies(nil)
	}

	// 配置会话中间件，访客 ID 保存在签名 cookie 中
	secret := opts.SessionSecret
	if secret == "" {
		log.Warn("SESSION_SECRET is empty, using the development secret")
		secret = devSessionSecret
	}
	store := cookie.NewStore([]byte(secret))
	r.Use(sessions.Sessions(sessionName, store))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(opts.Gatherer)))
	}

	apiGroup := r.Group("/api")
	apiGroup.Use(middleware.Visitor())
	{
		apiGroup.GET("/backend", api.GetBackend)
		apiGroup.GET("/stats", api.GetStats)
		apiGroup.GET("/likes", api.GetLikes)
		apiGroup.POST("/views", api.RecordView)

		apiGroup.GET("/posts", api.ListPosts)
		apiGroup.GET("/posts/:slug", api.GetPost)
		apiGroup.POST("/posts/:slug/like", api.ToggleLike)
		apiGroup.GET("/posts/:slug/comments", api.ListComments)

		apiGroup.POST("/posts/:slug/comments", limited(opts.CommentLimiter, api.CreateComment)...)

		// 删除评论的口令校验在服务层完成，先限流再跑 bcrypt
		apiGroup.DELETE("/posts/:slug/comments/:id", limited(opts.AdminLimiter, api.DeleteComment)...)
		apiGroup.POST("/posts/:slug/comments/bulk-delete", limited(opts.AdminLimiter, api.BulkDeleteComments)...)

		admin := apiGroup.Group("/admin")
		if opts.AdminLimiter != nil {
			admin.Use(opts.AdminLimiter.Middleware())
		}
		admin.Use(api.AdminRequired())
		{
			admin.PUT("/posts/:slug", api.UpsertPost)
			admin.DELETE("/posts/:slug", api.DeletePost)
		}
	}

	return r
}

func limited(limiter *middleware.RateLimiter, h gin.HandlerFunc) []gin.HandlerFunc {
	if limiter == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{limiter.Middleware(), h}
}
