package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"living-world-engine/internal/config"
	"living-world-engine/internal/infrastructure/persistence/redis"
)

// RateLimit 滑动窗口限流中间件。
// 请求带 player_id 时按玩家维度计数，否则按客户端 IP。
// 限流器故障时放行，不让 Redis 抖动放大为接口不可用。
func RateLimit(cfg config.RateLimitConfig, limiter *redis.RateLimiter) gin.HandlerFunc {
	if !cfg.Enabled || limiter == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	limit := cfg.RequestsPerSecond
	if limit <= 0 {
		limit = 100
	}
	if cfg.Burst > limit {
		limit = cfg.Burst
	}

	return func(c *gin.Context) {
		key := redis.BuildAdminRateLimitKey(c.ClientIP())
		if playerID := c.GetHeader("X-Player-ID"); playerID != "" {
			key = redis.BuildPlayerRateLimitKey(playerID, c.FullPath())
		}

		allowed, err := limiter.Allow(c.Request.Context(), key, limit, time.Second)
		if err != nil {
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":     "1006",
				"message":  "rate limit exceeded",
				"trace_id": c.GetString("trace_id"),
			})
			return
		}

		c.Next()
	}
}
