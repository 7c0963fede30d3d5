// Package admin 实现管理面操作：世界生命周期、标记、导入导出与调试只读接口
package admin

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	"living-world-engine/internal/application/worldstate"
	"living-world-engine/internal/domain/entity"
	"living-world-engine/internal/domain/repository"
	"living-world-engine/internal/infrastructure/messaging"
	"living-world-engine/internal/infrastructure/persistence/redis"
	apperrors "living-world-engine/pkg/errors"
	"living-world-engine/pkg/logger"
)

var tracer = otel.Tracer("application.admin")

// Service 管理面服务
type Service struct {
	worlds    repository.WorldRepository
	entities  repository.EntityRepository
	timelines repository.TimelineRepository
	events    repository.EventRepository
	relations repository.RelationRepository
	prefs     repository.PreferenceRepository
	tx        repository.Transactor
	registry  *worldstate.Registry
	cache     *redis.WorldCache
	producer  *messaging.Producer
}

// NewService 创建管理面服务
func NewService(
	worlds repository.WorldRepository,
	entities repository.EntityRepository,
	timelines repository.TimelineRepository,
	events repository.EventRepository,
	relations repository.RelationRepository,
	prefs repository.PreferenceRepository,
	tx repository.Transactor,
	registry *worldstate.Registry,
	cache *redis.WorldCache,
	producer *messaging.Producer,
) *Service {
	return &Service{
		worlds:    worlds,
		entities:  entities,
		timelines: timelines,
		events:    events,
		relations: relations,
		prefs:     prefs,
		tx:        tx,
		registry:  registry,
		cache:     cache,
		producer:  producer,
	}
}

// PauseWorld 暂停世界演化；Active → Paused
func (s *Service) PauseWorld(ctx context.Context, worldID string) error {
	ctx, span := tracer.Start(ctx, "admin.PauseWorld")
	defer span.End()

	if err := s.worlds.UpdateStatus(ctx, worldID, entity.WorldStatusActive, entity.WorldStatusPaused); err != nil {
		return err
	}
	s.invalidate(ctx, worldID)
	s.audit(ctx, worldID, "world.pause", "world", worldID, nil)
	return nil
}

// ResumeWorld 恢复世界演化；Paused → Active
func (s *Service) ResumeWorld(ctx context.Context, worldID string) error {
	ctx, span := tracer.Start(ctx, "admin.ResumeWorld")
	defer span.End()

	if err := s.worlds.UpdateStatus(ctx, worldID, entity.WorldStatusPaused, entity.WorldStatusActive); err != nil {
		return err
	}
	s.invalidate(ctx, worldID)
	s.audit(ctx, worldID, "world.resume", "world", worldID, nil)
	return nil
}

// ArchiveWorld 归档世界，进入终态后一切写入被拒绝
func (s *Service) ArchiveWorld(ctx context.Context, worldID string) error {
	ctx, span := tracer.Start(ctx, "admin.ArchiveWorld")
	defer span.End()

	world, err := s.worlds.GetByID(ctx, worldID)
	if err != nil {
		return err
	}
	if world.Status == entity.WorldStatusArchived {
		return apperrors.ErrWorldArchived
	}

	if err := s.worlds.UpdateStatus(ctx, worldID, world.Status, entity.WorldStatusArchived); err != nil {
		return err
	}
	s.registry.Unregister(worldID)
	s.invalidate(ctx, worldID)
	s.audit(ctx, worldID, "world.archive", "world", worldID, nil)
	return nil
}

// SetWorldFlags 覆盖世界标记，演化与叙事生成读取这些标记作为引导
func (s *Service) SetWorldFlags(ctx context.Context, worldID string, flags entity.AttributeMap) error {
	ctx, span := tracer.Start(ctx, "admin.SetWorldFlags")
	defer span.End()

	world, err := s.worlds.GetByID(ctx, worldID)
	if err != nil {
		return err
	}
	if !world.IsMutable() {
		return apperrors.ErrWorldArchived
	}

	if err := s.worlds.SetFlags(ctx, worldID, flags); err != nil {
		return err
	}
	s.invalidate(ctx, worldID)
	s.audit(ctx, worldID, "world.set_flags", "world", worldID, flags)
	return nil
}

// InvalidateCache 强制失效世界全部缓存条目
func (s *Service) InvalidateCache(ctx context.Context, worldID string) error {
	ctx, span := tracer.Start(ctx, "admin.InvalidateCache")
	defer span.End()

	if s.cache == nil {
		return nil
	}
	if err := s.cache.InvalidateWorld(ctx, worldID); err != nil {
		return err
	}
	s.audit(ctx, worldID, "cache.invalidate", "world", worldID, nil)
	return nil
}

// ExportWorldState 导出世界全量状态。
// 导出集合覆盖世界行、实体、时间轴、事件、关系与玩家偏好，
// 与 ImportWorldState 构成无损往返。
func (s *Service) ExportWorldState(ctx context.Context, worldID string) (*entity.WorldExport, error) {
	ctx, span := tracer.Start(ctx, "admin.ExportWorldState")
	defer span.End()

	world, err := s.worlds.GetByID(ctx, worldID)
	if err != nil {
		return nil, err
	}

	export := &entity.WorldExport{
		Version:    entity.ExportFormatVersion,
		World:      world,
		ExportedAt: time.Now(),
	}

	if export.Entities, err = s.entities.ListAllByWorld(ctx, worldID); err != nil {
		return nil, err
	}
	if export.Timelines, err = s.timelines.ListByWorld(ctx, worldID); err != nil {
		return nil, err
	}
	if export.Relations, err = s.relations.ListByWorld(ctx, worldID, nil); err != nil {
		return nil, err
	}
	if export.Preferences, err = s.prefs.ListByWorld(ctx, worldID); err != nil {
		return nil, err
	}

	cursor := repository.NewEventCursor(1000)
	for {
		page, err := s.events.ListByWorld(ctx, worldID, cursor)
		if err != nil {
			return nil, err
		}
		export.Events = append(export.Events, page...)
		if len(page) < cursor.Limit {
			break
		}
		// 世界级翻页位置是 (world_time, entity_id, seq) 三元组
		last := page[len(page)-1]
		cursor.After = last.Key()
		cursor.AfterEntity = last.EntityID
	}

	s.audit(ctx, worldID, "world.export", "world", worldID, nil)
	logger.Info(ctx, "world exported",
		"world_id", worldID,
		"entities", len(export.Entities),
		"events", len(export.Events),
	)
	return export, nil
}

// ImportWorldState 以导出快照覆盖重建世界。
// 单个事务：先清空世界现有数据再按快照写入，失败整体回滚。
func (s *Service) ImportWorldState(ctx context.Context, export *entity.WorldExport) error {
	ctx, span := tracer.Start(ctx, "admin.ImportWorldState")
	defer span.End()

	if export == nil || export.World == nil {
		return apperrors.ErrInvalidParam.WithDetail("export snapshot is empty")
	}
	if export.Version != entity.ExportFormatVersion {
		return apperrors.ErrInvalidParam.WithDetail("unsupported export format version")
	}

	worldID := export.World.ID
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.events.DeleteByWorld(ctx, worldID); err != nil {
			return err
		}
		if err := s.relations.DeleteByWorld(ctx, worldID); err != nil {
			return err
		}
		if err := s.timelines.DeleteByWorld(ctx, worldID); err != nil {
			return err
		}
		if err := s.entities.DeleteByWorld(ctx, worldID); err != nil {
			return err
		}

		existing, err := s.worlds.GetByID(ctx, worldID)
		if err != nil && !apperrors.Is(err, apperrors.CodeWorldNotFound) {
			return err
		}
		if existing == nil {
			if err := s.worlds.Create(ctx, export.World); err != nil {
				return err
			}
		} else {
			if err := s.worlds.Update(ctx, export.World); err != nil {
				return err
			}
		}

		for _, ent := range export.Entities {
			if err := s.entities.Create(ctx, ent); err != nil {
				return err
			}
		}
		for _, tl := range export.Timelines {
			if err := s.timelines.Create(ctx, tl); err != nil {
				return err
			}
		}
		if err := s.events.AppendBatch(ctx, export.Events); err != nil {
			return err
		}
		for _, rel := range export.Relations {
			if err := s.relations.Create(ctx, rel); err != nil {
				return err
			}
		}
		for _, pref := range export.Preferences {
			if err := s.prefs.Upsert(ctx, pref); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.registry.Register(worldID)
	s.invalidate(ctx, worldID)
	s.audit(ctx, worldID, "world.import", "world", worldID, nil)
	logger.Info(ctx, "world imported", "world_id", worldID, "events", len(export.Events))
	return nil
}

// GetWorldAnalytics 生成世界分析报表。按需重算的只读数据，不写任何状态。
func (s *Service) GetWorldAnalytics(ctx context.Context, worldID string) (*entity.WorldAnalytics, error) {
	ctx, span := tracer.Start(ctx, "admin.GetWorldAnalytics")
	defer span.End()

	world, err := s.worlds.GetByID(ctx, worldID)
	if err != nil {
		return nil, err
	}

	analytics := &entity.WorldAnalytics{
		WorldID:         worldID,
		Status:          world.Status,
		CurrentTime:     world.CurrentTime,
		LastEvolutionAt: world.LastEvolutionAt,
		GeneratedAt:     time.Now(),
	}

	if analytics.EntityCounts, err = s.entities.CountByKind(ctx, worldID); err != nil {
		return nil, err
	}
	if analytics.EventCount, err = s.events.CountByWorld(ctx, worldID); err != nil {
		return nil, err
	}
	if analytics.EventsByType, err = s.events.CountByTypeForWorld(ctx, worldID); err != nil {
		return nil, err
	}

	relations, err := s.relations.ListByWorld(ctx, worldID, nil)
	if err != nil {
		return nil, err
	}
	analytics.RelationCount = int64(len(relations))

	return analytics, nil
}

// GetDebugMetrics 只读调试指标：登记世界数与当前持有的世界锁
func (s *Service) GetDebugMetrics(ctx context.Context) (*entity.DebugMetrics, error) {
	_, span := tracer.Start(ctx, "admin.GetDebugMetrics")
	defer span.End()

	return &entity.DebugMetrics{
		RegisteredWorlds: s.registry.Size(),
		HeldWorldLocks:   s.registry.HeldLocks(),
		GeneratedAt:      time.Now(),
	}, nil
}

// invalidate 管理操作提交后失效世界缓存
func (s *Service) invalidate(ctx context.Context, worldID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateWorld(ctx, worldID); err != nil {
		logger.Warn(ctx, "cache invalidation failed", "world_id", worldID, "error", err)
	}
}

// audit 管理操作写审计流；入队失败只记日志，不影响操作结果
func (s *Service) audit(ctx context.Context, worldID, action, resourceType, resourceID string, changes entity.AttributeMap) {
	if s.producer == nil {
		return
	}
	_, err := s.producer.PublishAuditLog(ctx, &messaging.AuditLogMessage{
		WorldID:      worldID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    logger.StringFromContext(ctx, logger.RequestIDKey),
		TraceID:      logger.StringFromContext(ctx, logger.TraceIDKey),
		Changes:      changes,
	})
	if err != nil {
		logger.Warn(ctx, "failed to publish audit log", "action", action, "error", err)
	}
}
