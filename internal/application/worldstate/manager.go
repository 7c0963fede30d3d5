package worldstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"living-world-engine/internal/application/subsystem"
	"living-world-engine/internal/application/timeline"
	"living-world-engine/internal/config"
	"living-world-engine/internal/domain/entity"
	"living-world-engine/internal/domain/repository"
	"living-world-engine/internal/infrastructure/persistence/redis"
	apperrors "living-world-engine/pkg/errors"
	"living-world-engine/pkg/logger"
	"living-world-engine/pkg/metrics"
)

var tracer = otel.Tracer("application.worldstate")

// WorldStateView 世界状态读取视图
type WorldStateView struct {
	World    *entity.World        `json:"world"`
	Entities []*entity.WorldEntity `json:"entities"`
}

// EvolutionResult 演化批次结果
type EvolutionResult struct {
	WorldID string `json:"world_id"`
	Trigger string `json:"trigger"`
	// Paused 世界处于暂停态，本次演化为显式空操作
	Paused          bool  `json:"paused"`
	EventsGenerated int   `json:"events_generated"`
	NewTime         int64 `json:"new_time"`
}

// ConsistencyReport 一致性校验报告
type ConsistencyReport struct {
	WorldID         string   `json:"world_id"`
	Consistent      bool     `json:"consistent"`
	Violations      []string `json:"violations,omitempty"`
	TimelinesChecked int     `json:"timelines_checked"`
	EventsChecked    int64   `json:"events_checked"`
}

// RepairResult 回放修复结果
type RepairResult struct {
	WorldID          string             `json:"world_id"`
	Report           *ConsistencyReport `json:"report"`
	EntitiesRepaired int                `json:"entities_repaired"`
}

// Manager 世界状态管理器
type Manager struct {
	worlds     repository.WorldRepository
	entities   repository.EntityRepository
	timelines  repository.TimelineRepository
	events     repository.EventRepository
	relations  repository.RelationRepository
	tx         repository.Transactor
	engine     *timeline.Engine
	subsystems *subsystem.Registry
	registry   *Registry
	cache      *redis.WorldCache
	cfg        config.EvolutionConfig
	stateTTL   time.Duration
}

// NewManager 创建世界状态管理器
func NewManager(
	worlds repository.WorldRepository,
	entities repository.EntityRepository,
	timelines repository.TimelineRepository,
	events repository.EventRepository,
	relations repository.RelationRepository,
	tx repository.Transactor,
	engine *timeline.Engine,
	subsystems *subsystem.Registry,
	registry *Registry,
	cache *redis.WorldCache,
	cfg config.EvolutionConfig,
	stateTTL time.Duration,
) *Manager {
	return &Manager{
		worlds:     worlds,
		entities:   entities,
		timelines:  timelines,
		events:     events,
		relations:  relations,
		tx:         tx,
		engine:     engine,
		subsystems: subsystems,
		registry:   registry,
		cache:      cache,
		cfg:        cfg,
		stateTTL:   stateTTL,
	}
}

// Registry 暴露世界锁登记表，调试接口用
func (m *Manager) Registry() *Registry {
	return m.registry
}

// InitializeWorld 创建世界并激活
func (m *Manager) InitializeWorld(ctx context.Context, name string, evolutionInterval time.Duration) (*entity.World, error) {
	ctx, span := tracer.Start(ctx, "worldstate.InitializeWorld")
	defer span.End()

	if name == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("world name is empty")
	}
	if evolutionInterval <= 0 {
		evolutionInterval = m.cfg.DefaultInterval
	}

	world := entity.NewWorld(name, evolutionInterval)
	err := m.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := m.worlds.Create(ctx, world); err != nil {
			return err
		}
		return m.worlds.UpdateStatus(ctx, world.ID, entity.WorldStatusInitializing, entity.WorldStatusActive)
	})
	if err != nil {
		return nil, err
	}
	world.Status = entity.WorldStatusActive

	m.registry.Register(world.ID)
	logger.Info(ctx, "world initialized", "world_id", world.ID, "name", name)
	return world, nil
}

// GetWorldState 读取世界状态视图。
// 世界行永远直读存储取得权威写版本，实体快照走版本栅栏缓存：
// 缓存携带的版本低于当前写版本时视同未命中，穿透后回填。
func (m *Manager) GetWorldState(ctx context.Context, worldID string) (*WorldStateView, error) {
	ctx, span := tracer.Start(ctx, "worldstate.GetWorldState")
	defer span.End()

	world, err := m.worlds.GetByID(ctx, worldID)
	if err != nil {
		return nil, err
	}

	view := &WorldStateView{}
	if m.cache == nil {
		view.World = world
		view.Entities, err = m.entities.ListAllByWorld(ctx, worldID)
		return view, err
	}

	err = m.cache.GetOrLoad(ctx, "world_state", redis.WorldStateKey(worldID),
		world.Version, m.stateTTL, view, func() (interface{}, int64, error) {
			entities, err := m.entities.ListAllByWorld(ctx, worldID)
			if err != nil {
				return nil, 0, err
			}
			return &WorldStateView{World: world, Entities: entities}, world.Version, nil
		})
	if err != nil {
		return nil, err
	}
	// 命中旧版本缓存实体但世界行已更新时，以直读的世界行为准
	view.World = world
	return view, nil
}

// UpdateWorldState 原子更新世界行。
// mutate 在事务内执行；提交前做轻量一致性检查，提交后失效缓存。
func (m *Manager) UpdateWorldState(ctx context.Context, worldID string, mutate func(*entity.World) error) (*entity.World, error) {
	ctx, span := tracer.Start(ctx, "worldstate.UpdateWorldState")
	defer span.End()

	var world *entity.World
	err := m.tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		world, err = m.worlds.GetByID(ctx, worldID)
		if err != nil {
			return err
		}
		if !world.IsMutable() {
			return apperrors.ErrWorldArchived
		}

		before := world.CurrentTime
		if err := mutate(world); err != nil {
			return err
		}
		// 世界逻辑时钟单调，不接受回拨
		if world.CurrentTime < before {
			return apperrors.ErrConsistencyViolation.WithDetail("world clock cannot move backwards")
		}
		return m.worlds.Update(ctx, world)
	})
	if err != nil {
		return nil, err
	}

	m.invalidate(ctx, worldID)
	return world, nil
}

// EvolveWorld 运行一个演化批次。
// 同一世界串行；暂停世界返回显式空操作结果（非错误），演化时间戳不变；
// 归档世界拒绝。批次内所有事件与时钟推进在单个事务中提交。
func (m *Manager) EvolveWorld(ctx context.Context, worldID, trigger string) (*EvolutionResult, error) {
	ctx, span := tracer.Start(ctx, "worldstate.EvolveWorld")
	defer span.End()

	m.registry.Acquire(worldID)
	defer m.registry.Release(worldID)

	start := time.Now()
	if m.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.BatchTimeout)
		defer cancel()
	}

	world, err := m.worlds.GetByID(ctx, worldID)
	if err != nil {
		return nil, err
	}
	if world.Status == entity.WorldStatusArchived {
		metrics.EvolutionRunsTotal.WithLabelValues(trigger, "rejected").Inc()
		return nil, apperrors.ErrWorldArchived
	}
	if world.Status != entity.WorldStatusActive {
		metrics.EvolutionRunsTotal.WithLabelValues(trigger, "paused_noop").Inc()
		logger.Info(ctx, "evolution skipped, world paused", "world_id", worldID)
		return &EvolutionResult{
			WorldID: worldID,
			Trigger: trigger,
			Paused:  true,
			NewTime: world.CurrentTime,
		}, nil
	}

	newTime := world.CurrentTime + 1
	seed := timeline.EvolutionSeed(worldID, newTime)

	var generated []*entity.TimelineEvent
	err = m.tx.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		generated, err = m.engine.SimulateTimePassage(ctx, world, 1, seed, m.cfg.MaxBatchEvents)
		if err != nil {
			return err
		}

		world.CurrentTime = newTime
		world.LastEvolutionAt = time.Now()
		return m.worlds.Update(ctx, world)
	})
	if err != nil {
		metrics.EvolutionRunsTotal.WithLabelValues(trigger, "failed").Inc()
		return nil, err
	}

	m.invalidate(ctx, worldID)

	metrics.EvolutionRunsTotal.WithLabelValues(trigger, "ok").Inc()
	metrics.EvolutionDuration.WithLabelValues(trigger).Observe(time.Since(start).Seconds())
	metrics.EvolutionEventsGenerated.WithLabelValues(trigger).Observe(float64(len(generated)))

	logger.Info(ctx, "world evolved",
		"world_id", worldID,
		"trigger", trigger,
		"new_time", newTime,
		"events", len(generated),
	)
	return &EvolutionResult{
		WorldID:         worldID,
		Trigger:         trigger,
		EventsGenerated: len(generated),
		NewTime:         newTime,
	}, nil
}

// ValidateWorldConsistency 校验世界不变量：
// 每条时间轴排序键严格递增且与尾游标一致、事件不指向不存在的实体、
// 家谱祖先链无环。只读，不修改任何状态。
func (m *Manager) ValidateWorldConsistency(ctx context.Context, worldID string) (*ConsistencyReport, error) {
	ctx, span := tracer.Start(ctx, "worldstate.ValidateWorldConsistency")
	defer span.End()

	world, err := m.worlds.GetByID(ctx, worldID)
	if err != nil {
		return nil, err
	}

	report := &ConsistencyReport{WorldID: worldID, Consistent: true}

	timelines, err := m.timelines.ListByWorld(ctx, worldID)
	if err != nil {
		return nil, err
	}
	report.TimelinesChecked = len(timelines)

	participantIDs := make(map[string]bool)
	for _, tl := range timelines {
		count, err := m.checkTimeline(ctx, tl, report, participantIDs)
		if err != nil {
			return nil, err
		}
		report.EventsChecked += count
	}

	if err := m.checkOrphans(ctx, worldID, participantIDs, report); err != nil {
		return nil, err
	}
	if err := m.checkGenealogy(ctx, worldID, report); err != nil {
		return nil, err
	}

	if report.Consistent {
		metrics.ConsistencyChecksTotal.WithLabelValues("ok").Inc()
		if err := m.worlds.SetLastValidated(ctx, worldID, world.CurrentTime); err != nil {
			logger.Warn(ctx, "failed to record validation checkpoint", "world_id", worldID, "error", err)
		}
	} else {
		metrics.ConsistencyChecksTotal.WithLabelValues("violation").Inc()
		logger.Warn(ctx, "world consistency violations found",
			"world_id", worldID, "violations", len(report.Violations))
	}
	return report, nil
}

// checkTimeline 校验单条时间轴的排序与游标
func (m *Manager) checkTimeline(ctx context.Context, tl *entity.Timeline, report *ConsistencyReport, participants map[string]bool) (int64, error) {
	cursor := repository.NewEventCursor(500)
	last := entity.OrderKeyFloor
	var count int64

	for {
		events, err := m.events.ListByTimeline(ctx, tl.ID, cursor)
		if err != nil {
			return count, err
		}
		if len(events) == 0 {
			break
		}
		for _, ev := range events {
			if !last.Less(ev.Key()) {
				report.Consistent = false
				report.Violations = append(report.Violations, fmt.Sprintf(
					"timeline %s: event %s key (%d,%d) not after (%d,%d)",
					tl.ID, ev.ID, ev.WorldTime, ev.Seq, last.WorldTime, last.Seq))
			}
			last = ev.Key()
			count++
			for _, p := range ev.Participants {
				participants[p] = true
			}
		}
		cursor.After = events[len(events)-1].Key()
		if len(events) < cursor.Limit {
			break
		}
	}

	if count != tl.EventCount {
		report.Consistent = false
		report.Violations = append(report.Violations, fmt.Sprintf(
			"timeline %s: event count %d does not match cursor count %d", tl.ID, count, tl.EventCount))
	}
	if count > 0 && last != tl.LastKey {
		report.Consistent = false
		report.Violations = append(report.Violations, fmt.Sprintf(
			"timeline %s: tail key (%d,%d) does not match cursor (%d,%d)",
			tl.ID, last.WorldTime, last.Seq, tl.LastKey.WorldTime, tl.LastKey.Seq))
	}
	return count, nil
}

// checkOrphans 事件参与者必须是世界内存在的实体
func (m *Manager) checkOrphans(ctx context.Context, worldID string, participants map[string]bool, report *ConsistencyReport) error {
	if len(participants) == 0 {
		return nil
	}

	ids := make([]string, 0, len(participants))
	for id := range participants {
		ids = append(ids, id)
	}
	existing, err := m.entities.ExistingIDs(ctx, worldID, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if !existing[id] {
			report.Consistent = false
			report.Violations = append(report.Violations,
				fmt.Sprintf("orphan participant: entity %s does not exist", id))
		}
	}
	return nil
}

// checkGenealogy 沿 parent_of 边做 DFS，祖先链出现环即违例
func (m *Manager) checkGenealogy(ctx context.Context, worldID string, report *ConsistencyReport) error {
	edges, err := m.relations.ListByType(ctx, worldID, entity.RelationTypeParentOf)
	if err != nil {
		return err
	}

	parentsOf := make(map[string][]string)
	for _, e := range edges {
		parentsOf[e.TargetEntityID] = append(parentsOf[e.TargetEntityID], e.SourceEntityID)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, parent := range parentsOf[id] {
			switch color[parent] {
			case gray:
				return false
			case white:
				if !visit(parent) {
					return false
				}
			}
		}
		color[id] = black
		return true
	}

	for id := range parentsOf {
		if color[id] == white && !visit(id) {
			report.Consistent = false
			report.Violations = append(report.Violations,
				fmt.Sprintf("genealogy cycle reachable from entity %s", id))
		}
	}
	return nil
}

// ValidateAndRepairWorld 校验后对每个实体从事件日志回放重建派生状态。
// 修复只改写派生状态，从不删除或改写事件。
func (m *Manager) ValidateAndRepairWorld(ctx context.Context, worldID string) (*RepairResult, error) {
	ctx, span := tracer.Start(ctx, "worldstate.ValidateAndRepairWorld")
	defer span.End()

	m.registry.Acquire(worldID)
	defer m.registry.Release(worldID)

	report, err := m.ValidateWorldConsistency(ctx, worldID)
	if err != nil {
		return nil, err
	}

	entities, err := m.entities.ListAllByWorld(ctx, worldID)
	if err != nil {
		return nil, err
	}

	repaired := 0
	for _, ent := range entities {
		changed, err := m.replayEntity(ctx, ent)
		if err != nil {
			metrics.RepairRunsTotal.WithLabelValues("failed").Inc()
			return nil, err
		}
		if changed {
			repaired++
		}
	}

	m.invalidate(ctx, worldID)
	metrics.RepairRunsTotal.WithLabelValues("ok").Inc()

	logger.Info(ctx, "world repair completed",
		"world_id", worldID,
		"entities_repaired", repaired,
		"violations", len(report.Violations),
	)
	return &RepairResult{
		WorldID:          worldID,
		Report:           report,
		EntitiesRepaired: repaired,
	}, nil
}

// replayEntity 回放单个实体的全部事件，派生状态有出入时改写
func (m *Manager) replayEntity(ctx context.Context, ent *entity.WorldEntity) (bool, error) {
	if ent.TimelineID == "" {
		return false, nil
	}

	var events []*entity.TimelineEvent
	cursor := repository.NewEventCursor(500)
	for {
		page, err := m.events.ListByTimeline(ctx, ent.TimelineID, cursor)
		if err != nil {
			return false, err
		}
		events = append(events, page...)
		if len(page) < cursor.Limit {
			break
		}
		cursor.After = page[len(page)-1].Key()
	}

	replayed, err := m.subsystems.Replay(ent, events)
	if err != nil {
		return false, err
	}

	if derivedEqual(ent, replayed) {
		return false, nil
	}
	if err := m.entities.UpdateDerived(ctx, replayed); err != nil {
		return false, err
	}
	return true, nil
}

// derivedEqual 比较两实体的派生状态是否一致
func derivedEqual(a, b *entity.WorldEntity) bool {
	type derived struct {
		Key       entity.OrderKey
		Character *entity.CharacterState
		Location  *entity.LocationState
		Object    *entity.ObjectState
	}
	aj, err1 := json.Marshal(derived{a.LastApplied, a.Character, a.Location, a.Object})
	bj, err2 := json.Marshal(derived{b.LastApplied, b.Character, b.Location, b.Object})
	if err1 != nil || err2 != nil {
		return false
	}
	return string(aj) == string(bj)
}

// invalidate 提交后失效世界相关缓存
func (m *Manager) invalidate(ctx context.Context, worldID string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.InvalidateWorld(ctx, worldID); err != nil {
		logger.Warn(ctx, "cache invalidation failed", "world_id", worldID, "error", err)
	}
}
