// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"living-world-engine/internal/config"
	"living-world-engine/internal/infrastructure/persistence/redis"
	"living-world-engine/internal/interfaces/http/handler"
	"living-world-engine/internal/interfaces/http/middleware"
)

// Handlers 路由依赖的处理器集合
type Handlers struct {
	Health   *handler.HealthHandler
	World    *handler.WorldHandler
	Entity   *handler.EntityHandler
	Timeline *handler.TimelineHandler
	Choice   *handler.ChoiceHandler
}

// Router HTTP 路由器
type Router struct {
	engine   *gin.Engine
	cfg      *config.Config
	handlers Handlers
	limiter  *redis.RateLimiter
	rdb      *redis.Client
}

// New 创建路由器
func New(cfg *config.Config, handlers Handlers, limiter *redis.RateLimiter, rdb *redis.Client) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine:   gin.New(),
		cfg:      cfg,
		handlers: handlers,
		limiter:  limiter,
		rdb:      rdb,
	}

	r.setupMiddleware()
	r.setupRoutes()
	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// setupMiddleware 配置中间件
func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())

	r.engine.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: r.cfg.Security.CORS.AllowedOrigins,
		AllowedMethods: r.cfg.Security.CORS.AllowedMethods,
		AllowedHeaders: r.cfg.Security.CORS.AllowedHeaders,
	}))

	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name))
		r.engine.Use(middleware.TraceContext())
	}

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics())
	}

	r.engine.Use(middleware.RateLimit(r.cfg.Security.RateLimit, r.limiter))
	r.engine.Use(middleware.Idempotency(r.rdb, r.cfg.Security.IdempotencyTTL))
}

// setupRoutes 配置路由
func (r *Router) setupRoutes() {
	h := r.handlers

	r.engine.GET("/health", h.Health.Health)
	r.engine.GET("/ready", h.Health.Ready)
	r.engine.GET("/live", h.Health.Live)

	if r.cfg.Observability.Metrics.Enabled {
		path := r.cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.engine.GET(path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.engine.Group("/v1")
	{
		worlds := v1.Group("/worlds")
		{
			worlds.POST("", h.World.Create)
			worlds.GET("/:world_id", h.World.Get)
			worlds.POST("/:world_id/pause", h.World.Pause)
			worlds.POST("/:world_id/resume", h.World.Resume)
			worlds.POST("/:world_id/archive", h.World.Archive)
			worlds.PUT("/:world_id/flags", h.World.SetFlags)
			worlds.POST("/:world_id/evolve", h.World.Evolve)
			worlds.POST("/:world_id/validate", h.World.Validate)
			worlds.POST("/:world_id/repair", h.World.Repair)
			worlds.GET("/:world_id/analytics", h.World.Analytics)
			worlds.POST("/:world_id/export", h.World.Export)
			worlds.POST("/:world_id/import", h.World.Import)
			worlds.POST("/:world_id/cache/invalidate", h.World.InvalidateCache)

			worlds.POST("/:world_id/entities", h.Entity.Create)
			worlds.GET("/:world_id/entities", h.Entity.List)
			worlds.POST("/:world_id/entities/:entity_id/family-tree", h.Entity.GenerateFamilyTree)
			worlds.POST("/:world_id/family-ties", h.Entity.AddFamilyTie)

			worlds.POST("/:world_id/choices", h.Choice.Process)
			worlds.GET("/:world_id/players/:player_id/preferences", h.Choice.Preferences)
		}

		entities := v1.Group("/entities")
		{
			entities.GET("/:entity_id", h.Entity.Get)
		}

		timelines := v1.Group("/timelines")
		{
			timelines.GET("/:timeline_id", h.Timeline.Get)
			timelines.POST("/:timeline_id/events", h.Timeline.AppendEvent)
			timelines.GET("/:timeline_id/events", h.Timeline.QueryEvents)
		}

		debug := v1.Group("/debug")
		{
			debug.GET("/metrics", h.World.DebugMetrics)
		}
	}
}
