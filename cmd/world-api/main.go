// Package main HTTP 服务入口（world-api）
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"living-world-engine/internal/application/admin"
	"living-world-engine/internal/application/choice"
	"living-world-engine/internal/application/subsystem"
	"living-world-engine/internal/application/timeline"
	"living-world-engine/internal/application/worldstate"
	"living-world-engine/internal/config"
	"living-world-engine/internal/infrastructure/messaging"
	"living-world-engine/internal/infrastructure/narrative"
	"living-world-engine/internal/infrastructure/persistence/postgres"
	"living-world-engine/internal/infrastructure/persistence/redis"
	"living-world-engine/internal/infrastructure/safety"
	"living-world-engine/internal/interfaces/http/handler"
	"living-world-engine/internal/interfaces/http/router"
	"living-world-engine/pkg/logger"
	"living-world-engine/pkg/tracer"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	ctx := context.Background()

	shutdown, err := tracer.Init(ctx, tracer.Config{
		ServiceName: cfg.App.Name,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		logger.Fatal(ctx, "failed to init tracer", err)
	}
	defer func() { _ = shutdown(ctx) }()

	pgClient, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		logger.Fatal(ctx, "failed to init postgres", err)
	}
	defer func() { _ = pgClient.Close() }()

	redisClient, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		logger.Fatal(ctx, "failed to init redis", err)
	}
	defer func() { _ = redisClient.Close() }()

	// 数据层
	txMgr := postgres.NewTxManager(pgClient)
	worldRepo := postgres.NewWorldRepository(pgClient)
	entityRepo := postgres.NewEntityRepository(pgClient)
	timelineRepo := postgres.NewTimelineRepository(pgClient)
	eventRepo := postgres.NewEventRepository(pgClient)
	relationRepo := postgres.NewRelationRepository(pgClient)
	prefRepo := postgres.NewPreferenceRepository(pgClient)

	worldCache := redis.NewWorldCache(redisClient)
	rateLimiter := redis.NewRateLimiter(redisClient)
	producer := messaging.NewProducer(redisClient.Redis(), int64(cfg.Messaging.RedisStream.MaxLen))

	// 应用层
	subsystems := subsystem.NewRegistry()
	generator := narrative.NewGeneratorFromConfig(&cfg.Narrative)
	gate := safety.NewGateFromConfig(&cfg.Safety)

	engine := timeline.NewEngine(timelineRepo, eventRepo, entityRepo, txMgr,
		subsystems, generator, cfg.Engine.History)
	genealogy := subsystem.NewGenealogyService(entityRepo, relationRepo, engine, txMgr)

	// 选择传播与演化批次共用同一张世界锁表
	worldRegistry := worldstate.NewRegistry()
	choiceSvc := choice.NewService(worldRepo, entityRepo, relationRepo, prefRepo,
		txMgr, engine, gate, worldRegistry, worldCache, producer, cfg.Engine.Choice)

	manager := worldstate.NewManager(worldRepo, entityRepo, timelineRepo, eventRepo,
		relationRepo, txMgr, engine, subsystems, worldRegistry, worldCache,
		cfg.Engine.Evolution, cfg.Cache.WorldStateTTL)

	adminSvc := admin.NewService(worldRepo, entityRepo, timelineRepo, eventRepo,
		relationRepo, prefRepo, txMgr, worldRegistry, worldCache, producer)

	// 接口层
	r := router.New(cfg, router.Handlers{
		Health:   handler.NewHealthHandler(pgClient, redisClient),
		World:    handler.NewWorldHandler(manager, adminSvc),
		Entity:   handler.NewEntityHandler(entityRepo, engine, genealogy),
		Timeline: handler.NewTimelineHandler(engine, timelineRepo),
		Choice:   handler.NewChoiceHandler(choiceSvc),
	}, rateLimiter, redisClient)

	addr := fmt.Sprintf("%s:%d", cfg.Server.HTTP.Host, cfg.Server.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
		IdleTimeout:  cfg.Server.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info(ctx, "world-api listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "http server failed", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "shutting down world-api")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "server shutdown failed", err)
	}
	logger.Info(ctx, "world-api stopped")
}
