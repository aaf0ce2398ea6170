package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiterConfig 描述单个客户端 IP 的令牌桶。
type RateLimiterConfig struct {
	Rate            rate.Limit
	Burst           int
	CleanupInterval time.Duration
	Logger          *slog.Logger
}

// CommentRateLimiterConfig converts a per-minute budget into a limiter config.
func CommentRateLimiterConfig(perMinute, burst int) RateLimiterConfig {
	return perMinuteConfig(perMinute, burst, 6, 3)
}

// AdminRateLimiterConfig 用于口令校验的接口，限制暴力猜测
func AdminRateLimiterConfig(perMinute, burst int) RateLimiterConfig {
	return perMinuteConfig(perMinute, burst, 10, 5)
}

func perMinuteConfig(perMinute, burst, defaultPerMinute, defaultBurst int) RateLimiterConfig {
	if perMinute <= 0 {
		perMinute = defaultPerMinute
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return RateLimiterConfig{
		Rate:            rate.Limit(float64(perMinute) / 60.0),
		Burst:           burst,
		CleanupInterval: 5 * time.Minute,
	}
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per client IP. The visitor cookie is not
// used as the key since a client can drop it at will.
type RateLimiter struct {
	config RateLimiterConfig
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*clientLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter starts the background cleanup of idle buckets.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rl := &RateLimiter{
		config:   config,
		logger:   logger,
		limiters: make(map[string]*clientLimiter),
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// Middleware rejects requests over the client's budget with 429. The key is
// c.ClientIP(), so forwarded headers only count from the engine's trusted proxies.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()

		if !rl.limiter(key).Allow() {
			rl.logger.Warn("rate limit exceeded",
				slog.String("client", key),
				slog.String("visitor_id", VisitorID(c)),
				slog.String("path", c.FullPath()),
			)
			retryAfter := int(math.Ceil(1.0 / float64(rl.config.Rate)))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "请求过于频繁，请稍后再试"})
			return
		}
		c.Next()
	}
}

// Count reports how many buckets are tracked.
func (rl *RateLimiter) Count() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	vl, ok := rl.limiters[key]
	if !ok {
		vl = &clientLimiter{limiter: rate.NewLimiter(rl.config.Rate, rl.config.Burst)}
		rl.limiters[key] = vl
	}
	vl.lastAccess = time.Now()
	return vl.limiter
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup 删除超过两个清理周期未访问的令牌桶
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, vl := range rl.limiters {
		if now.Sub(vl.lastAccess) > ttl {
			delete(rl.limiters, key)
		}
	}
}
