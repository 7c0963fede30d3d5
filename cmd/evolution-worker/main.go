// Package main 后台演化执行器入口（evolution-worker）
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"living-world-engine/internal/application/subsystem"
	"living-world-engine/internal/application/timeline"
	"living-world-engine/internal/application/worldstate"
	"living-world-engine/internal/config"
	"living-world-engine/internal/infrastructure/messaging"
	"living-world-engine/internal/infrastructure/narrative"
	"living-world-engine/internal/infrastructure/persistence/postgres"
	"living-world-engine/internal/infrastructure/persistence/redis"
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
		ServiceName: "evolution-worker",
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

	txMgr := postgres.NewTxManager(pgClient)
	worldRepo := postgres.NewWorldRepository(pgClient)
	entityRepo := postgres.NewEntityRepository(pgClient)
	timelineRepo := postgres.NewTimelineRepository(pgClient)
	eventRepo := postgres.NewEventRepository(pgClient)
	relationRepo := postgres.NewRelationRepository(pgClient)

	worldCache := redis.NewWorldCache(redisClient)
	producer := messaging.NewProducer(redisClient.Redis(), int64(cfg.Messaging.RedisStream.MaxLen))

	subsystems := subsystem.NewRegistry()
	generator := narrative.NewGeneratorFromConfig(&cfg.Narrative)

	engine := timeline.NewEngine(timelineRepo, eventRepo, entityRepo, txMgr,
		subsystems, generator, cfg.Engine.History)

	worldRegistry := worldstate.NewRegistry()
	manager := worldstate.NewManager(worldRepo, entityRepo, timelineRepo, eventRepo,
		relationRepo, txMgr, engine, subsystems, worldRegistry, worldCache,
		cfg.Engine.Evolution, cfg.Cache.WorldStateTTL)

	consumer := messaging.NewConsumer(redisClient.Redis(), messaging.ConsumerConfig{
		Stream:        messaging.StreamWorldEvolution,
		Group:         messaging.ConsumerGroupEvolution,
		ConsumerName:  hostnameConsumerName(),
		BlockTimeout:  cfg.Messaging.RedisStream.BlockTimeout,
		ClaimInterval: cfg.Messaging.RedisStream.ClaimInterval,
		RetryLimit:    cfg.Messaging.RedisStream.RetryLimit,
		Backoff: messaging.BackoffConfig{
			Initial:    cfg.Messaging.RedisStream.RetryBackoff.Initial,
			Max:        cfg.Messaging.RedisStream.RetryBackoff.Max,
			Multiplier: cfg.Messaging.RedisStream.RetryBackoff.Multiplier,
		},
	})

	consumer.RegisterHandler(messaging.TypeWorldEvolution, func(msgCtx context.Context, msg *messaging.Message) error {
		var task messaging.WorldEvolutionMessage
		if err := msg.UnmarshalPayload(&task); err != nil {
			return err
		}

		trigger := task.Trigger
		if trigger == "" {
			trigger = "queue"
		}
		result, err := manager.EvolveWorld(msgCtx, task.WorldID, trigger)
		if err != nil {
			return err
		}
		if result.Paused {
			logger.Info(msgCtx, "skipped evolution for non-active world", "world_id", task.WorldID)
			return nil
		}
		logger.Info(msgCtx, "evolution batch done",
			"world_id", task.WorldID,
			"trigger", trigger,
			"events", result.EventsGenerated,
			"world_time", result.NewTime)
		return nil
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := consumer.Start(runCtx); err != nil {
		logger.Fatal(ctx, "failed to start consumer", err)
	}

	go consumer.MonitorDLQ(runCtx, 100)
	go runScheduler(runCtx, cfg, worldRepo, producer)

	logger.Info(ctx, "evolution-worker started",
		"scan_interval", cfg.Engine.Evolution.ScanInterval.String(),
		"max_parallel", cfg.Engine.Evolution.MaxParallelWorlds)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "shutting down evolution-worker")
	cancel()
	consumer.Stop()
	logger.Info(ctx, "evolution-worker stopped")
}

// runScheduler 周期扫描到期的活跃世界，投递演化任务。
// 投递和执行分离：扫描者只产出任务，消费者组保证同一任务不被重复执行。
func runScheduler(ctx context.Context, cfg *config.Config, worlds *postgres.WorldRepository, producer *messaging.Producer) {
	interval := cfg.Engine.Evolution.ScanInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scanOnce(ctx, cfg, worlds, producer)
		}
	}
}

func scanOnce(ctx context.Context, cfg *config.Config, worlds *postgres.WorldRepository, producer *messaging.Producer) {
	limit := cfg.Engine.Evolution.MaxParallelWorlds
	if limit <= 0 {
		limit = 4
	}

	due, err := worlds.ListDueForEvolution(ctx, time.Now(), limit*4)
	if err != nil {
		logger.Error(ctx, "scan for due worlds failed", err)
		return
	}
	if len(due) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, world := range due {
		g.Go(func() error {
			_, err := producer.PublishEvolutionTask(gctx, &messaging.WorldEvolutionMessage{
				WorldID: world.ID,
				Trigger: "scheduled",
			})
			if err != nil {
				logger.Error(gctx, "failed to enqueue evolution task", err, "world_id", world.ID)
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Debug(ctx, "enqueued due worlds", "count", len(due))
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "evolution-worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
