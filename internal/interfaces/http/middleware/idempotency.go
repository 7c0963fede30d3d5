package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"living-world-engine/internal/infrastructure/persistence/redis"
)

const (
	// IdempotencyKeyHeader 幂等键请求头
	IdempotencyKeyHeader = "Idempotency-Key"

	idempotencyPrefix = "idem:"
)

// Idempotency 幂等键中间件。
// 带 Idempotency-Key 的写请求在保留期内只被接受一次，
// 重复提交返回 409。不带键的请求不受影响。
func Idempotency(client *redis.Client, ttl time.Duration) gin.HandlerFunc {
	if client == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet {
			c.Next()
			return
		}

		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			c.Next()
			return
		}

		ok, err := client.SetNX(c.Request.Context(), idempotencyPrefix+key, c.Request.URL.Path, ttl)
		if err != nil {
			// 存储故障时放行，幂等性降级而不是接口不可用
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"code":     "1005",
				"message":  "duplicate request: idempotency key already used",
				"trace_id": c.GetString("trace_id"),
			})
			return
		}

		c.Next()
	}
}
