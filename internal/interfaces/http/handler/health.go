// Package handler 提供 HTTP 请求处理器
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"living-world-engine/internal/infrastructure/persistence/postgres"
	"living-world-engine/internal/infrastructure/persistence/redis"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	pg  *postgres.Client
	rdb *redis.Client
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(pg *postgres.Client, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{pg: pg, rdb: rdb}
}

// Live 存活探针：进程在即健康
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready 就绪探针：依赖的存储都可达才就绪
func (h *HealthHandler) Ready(c *gin.Context) {
	deps := gin.H{}
	healthy := true

	if h.pg != nil {
		if err := h.pg.HealthCheck(c.Request.Context()); err != nil {
			deps["postgres"] = err.Error()
			healthy = false
		} else {
			deps["postgres"] = "ok"
		}
	}
	if h.rdb != nil {
		if err := h.rdb.HealthCheck(c.Request.Context()); err != nil {
			deps["redis"] = err.Error()
			healthy = false
		} else {
			deps["redis"] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": statusWord(healthy), "dependencies": deps})
}

// Health 汇总健康状态
func (h *HealthHandler) Health(c *gin.Context) {
	h.Ready(c)
}

func statusWord(healthy bool) string {
	if healthy {
		return "ok"
	}
	return "degraded"
}
