// Package timeline 实现时间轴引擎：只追加事件日志的写入口与查询口。
// 全部排序校验集中在这里；仓储层只负责持久化。
package timeline

import (
	"context"
	"math/rand"
	"sort"

	"go.opentelemetry.io/otel"

	"living-world-engine/internal/application/subsystem"
	"living-world-engine/internal/config"
	"living-world-engine/internal/domain/entity"
	"living-world-engine/internal/domain/repository"
	"living-world-engine/internal/infrastructure/narrative"
	apperrors "living-world-engine/pkg/errors"
	"living-world-engine/pkg/logger"
	"living-world-engine/pkg/metrics"
)

var tracer = otel.Tracer("application.timeline")

// Engine 时间轴引擎
type Engine struct {
	timelines  repository.TimelineRepository
	events     repository.EventRepository
	entities   repository.EntityRepository
	tx         repository.Transactor
	subsystems *subsystem.Registry
	generator  narrative.Generator
	historyCfg config.HistoryConfig
}

// NewEngine 创建时间轴引擎
func NewEngine(
	timelines repository.TimelineRepository,
	events repository.EventRepository,
	entities repository.EntityRepository,
	tx repository.Transactor,
	subsystems *subsystem.Registry,
	generator narrative.Generator,
	historyCfg config.HistoryConfig,
) *Engine {
	return &Engine{
		timelines:  timelines,
		events:     events,
		entities:   entities,
		tx:         tx,
		subsystems: subsystems,
		generator:  generator,
		historyCfg: historyCfg,
	}
}

// CreateTimeline 为实体创建时间轴；重复创建返回 DuplicateTimeline
func (e *Engine) CreateTimeline(ctx context.Context, worldID, entityID string, kind entity.EntityKind) (*entity.Timeline, error) {
	ctx, span := tracer.Start(ctx, "timeline.CreateTimeline")
	defer span.End()

	existing, err := e.timelines.GetByEntity(ctx, entityID)
	if err != nil && !apperrors.Is(err, apperrors.CodeTimelineNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.ErrDuplicateTimeline.WithDetail("entity " + entityID)
	}

	tl := entity.NewTimeline(worldID, entityID, kind)
	if err := e.timelines.Create(ctx, tl); err != nil {
		return nil, err
	}

	logger.Info(ctx, "timeline created",
		"timeline_id", tl.ID,
		"entity_id", entityID,
		"entity_kind", string(kind),
	)
	return tl, nil
}

// AppendEvent 追加单个事件。
// 事务内完成：排序校验、序号分配、事件落库、尾游标推进、派生状态吸收。
// 事件逻辑时间早于时间轴尾部时返回 OutOfOrderEvent，时间轴不变。
func (e *Engine) AppendEvent(ctx context.Context, timelineID string, event *entity.TimelineEvent) error {
	ctx, span := tracer.Start(ctx, "timeline.AppendEvent")
	defer span.End()

	var kind entity.EntityKind
	err := e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		tl, err := e.timelines.GetByID(ctx, timelineID)
		if err != nil {
			return err
		}
		kind = tl.EntityKind
		return e.appendLocked(ctx, tl, []*entity.TimelineEvent{event})
	})

	status := "ok"
	if err != nil {
		status = "failed"
	}
	metrics.TimelineAppendsTotal.WithLabelValues(string(kind), status).Inc()
	return err
}

// AppendBatch 批量追加，整体成功或整体失败
func (e *Engine) AppendBatch(ctx context.Context, timelineID string, events []*entity.TimelineEvent) error {
	ctx, span := tracer.Start(ctx, "timeline.AppendBatch")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	var kind entity.EntityKind
	err := e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		tl, err := e.timelines.GetByID(ctx, timelineID)
		if err != nil {
			return err
		}
		kind = tl.EntityKind
		return e.appendLocked(ctx, tl, events)
	})

	status := "ok"
	if err != nil {
		status = "failed"
	}
	metrics.TimelineAppendsTotal.WithLabelValues(string(kind), status).Add(float64(len(events)))
	return err
}

// appendLocked 在调用方事务内完成一批事件的校验与落库。
// 事件按传入顺序依次分配 (world_time, seq)，任何一条乱序都使整批失败。
func (e *Engine) appendLocked(ctx context.Context, tl *entity.Timeline, events []*entity.TimelineEvent) error {
	ent, err := e.entities.GetByID(ctx, tl.EntityID)
	if err != nil {
		return err
	}
	sub, err := e.subsystems.ForKind(tl.EntityKind)
	if err != nil {
		return err
	}

	cursor := tl.LastKey
	state := ent

	for _, event := range events {
		if event.WorldTime < cursor.WorldTime {
			return apperrors.ErrOutOfOrderEvent.WithDetail("event precedes timeline tail")
		}
		if event.WorldTime == cursor.WorldTime {
			event.Seq = cursor.Seq + 1
		} else {
			event.Seq = 0
		}

		event.TimelineID = tl.ID
		event.WorldID = tl.WorldID
		event.EntityID = tl.EntityID
		event.ClampSignificance()
		e.describe(ctx, ent.Name, event)

		if err := e.events.Append(ctx, event); err != nil {
			return err
		}
		cursor = event.Key()

		next, err := sub.ApplyEvent(state, event)
		if err != nil {
			return err
		}
		state = next
	}

	if err := e.timelines.AdvanceCursor(ctx, tl.ID, cursor, int64(len(events))); err != nil {
		return err
	}
	return e.entities.UpdateDerived(ctx, state)
}

// describe 为没有叙事文本的事件生成描述；生成失败不阻塞写入
func (e *Engine) describe(ctx context.Context, entityName string, event *entity.TimelineEvent) {
	if event.Description != "" || e.generator == nil {
		return
	}

	desc, err := e.generator.Describe(ctx, narrative.Request{
		WorldID:      event.WorldID,
		EventType:    event.EventType,
		EntityName:   entityName,
		Participants: event.Participants,
		WorldTime:    event.WorldTime,
	})
	if err != nil {
		logger.Warn(ctx, "narrative generation failed, event kept without description",
			"event_type", string(event.EventType), "error", err)
		return
	}
	event.Description = desc
}

// QueryEvents 按排序键游标遍历时间轴事件。
// 返回下一页游标；结果少于 limit 时到达末尾。
func (e *Engine) QueryEvents(ctx context.Context, timelineID string, cursor repository.EventCursor) ([]*entity.TimelineEvent, repository.EventCursor, error) {
	ctx, span := tracer.Start(ctx, "timeline.QueryEvents")
	defer span.End()

	events, err := e.events.ListByTimeline(ctx, timelineID, cursor)
	if err != nil {
		return nil, cursor, err
	}

	next := cursor
	if len(events) > 0 {
		next.After = events[len(events)-1].Key()
		metrics.TimelineEventsQueried.WithLabelValues(kindOf(events[0].EventType)).Add(float64(len(events)))
	}
	return events, next, nil
}

// QueryEventsByTimeRange 按逻辑时间区间查询
func (e *Engine) QueryEventsByTimeRange(ctx context.Context, timelineID string, startTime, endTime int64, cursor repository.EventCursor) ([]*entity.TimelineEvent, repository.EventCursor, error) {
	ctx, span := tracer.Start(ctx, "timeline.QueryEventsByTimeRange")
	defer span.End()

	if startTime > endTime {
		return nil, cursor, apperrors.ErrInvalidParam.WithDetail("start_time after end_time")
	}

	events, err := e.events.ListByTimeRange(ctx, timelineID, startTime, endTime, cursor)
	if err != nil {
		return nil, cursor, err
	}

	next := cursor
	if len(events) > 0 {
		next.After = events[len(events)-1].Key()
	}
	return events, next, nil
}

// GenerateHistory 为实体生成初始历史。
// 幂等：时间轴事件数已达 depth 时不做任何写入。相同 seed 产出相同历史。
func (e *Engine) GenerateHistory(ctx context.Context, entityID string, depth int, seed int64) (int, error) {
	ctx, span := tracer.Start(ctx, "timeline.GenerateHistory")
	defer span.End()

	if depth <= 0 {
		depth = e.historyCfg.DefaultDepth
	}
	if e.historyCfg.MaxDepth > 0 && depth > e.historyCfg.MaxDepth {
		depth = e.historyCfg.MaxDepth
	}

	tl, err := e.timelines.GetByEntity(ctx, entityID)
	if err != nil {
		return 0, err
	}
	if tl.EventCount >= int64(depth) {
		logger.Debug(ctx, "history already generated, skipping",
			"entity_id", entityID, "event_count", tl.EventCount)
		return 0, nil
	}

	ent, err := e.entities.GetByID(ctx, entityID)
	if err != nil {
		return 0, err
	}

	rng := rand.New(rand.NewSource(seed))
	missing := depth - int(tl.EventCount)
	events := e.synthesizeHistory(ent, tl, missing, rng)

	if err := e.AppendBatch(ctx, tl.ID, events); err != nil {
		return 0, err
	}

	logger.Info(ctx, "history generated",
		"entity_id", entityID,
		"events", len(events),
		"depth", depth,
	)
	return len(events), nil
}

// synthesizeHistory 确定性地合成历史事件序列。
// 起始时间接在现有尾部之后，事件类型按实体种类从固定候选集抽取。
func (e *Engine) synthesizeHistory(ent *entity.WorldEntity, tl *entity.Timeline, count int, rng *rand.Rand) []*entity.TimelineEvent {
	candidates := historyCandidates(ent.Kind)
	events := make([]*entity.TimelineEvent, 0, count)

	worldTime := tl.LastKey.WorldTime + 1
	if tl.EventCount == 0 {
		worldTime = 0
		// 首条事件是实体的起源
		origin := entity.NewTimelineEvent(ent.WorldID, ent.ID, originEvent(ent.Kind), worldTime, "")
		origin.Significance = 7
		events = append(events, origin)
		worldTime++
		count--
	}

	for i := 0; i < count; i++ {
		eventType := candidates[rng.Intn(len(candidates))]
		ev := entity.NewTimelineEvent(ent.WorldID, ent.ID, eventType, worldTime, "")
		ev.Significance = 1 + rng.Intn(5)
		ev.EmotionalImpact = (rng.Float64() - 0.5) * 0.4

		switch eventType {
		case entity.EventTypePersonalityShift:
			dims := []string{"openness", "caution", "warmth", "ambition"}
			ev.Payload = entity.AttributeMap{dims[rng.Intn(len(dims))]: (rng.Float64() - 0.5) * 0.2}
		case entity.EventTypeObjectUsed:
			ev.Payload = entity.AttributeMap{"wear_delta": rng.Float64() * 0.1}
		case entity.EventTypeEnvironmentShift:
			ev.Payload = entity.AttributeMap{"temperature": (rng.Float64() - 0.5) * 4}
		}

		events = append(events, ev)
		worldTime += 1 + int64(rng.Intn(3))
	}
	return events
}

// SimulateTimePassage 推进一段逻辑时间：对世界内每个实体运行演化钩子，
// 把产出的事件整批追加。相同 (世界状态, duration, seed) 产出相同事件序列。
// limit 为 0 时不限制批次大小。返回追加的事件。
func (e *Engine) SimulateTimePassage(ctx context.Context, world *entity.World, duration int64, seed int64, limit int) ([]*entity.TimelineEvent, error) {
	ctx, span := tracer.Start(ctx, "timeline.SimulateTimePassage")
	defer span.End()

	if duration <= 0 {
		return nil, apperrors.ErrInvalidParam.WithDetail("duration must be positive")
	}

	all, err := e.entities.ListAllByWorld(ctx, world.ID)
	if err != nil {
		return nil, err
	}
	// 实体按 ID 排序后再演化，保证遍历顺序与随机数消耗顺序稳定
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	rng := rand.New(rand.NewSource(seed))
	newTime := world.CurrentTime + duration

	type entityBatch struct {
		ent    *entity.WorldEntity
		events []*entity.TimelineEvent
	}
	var batches []entityBatch
	total := 0

	for _, ent := range all {
		sub, err := e.subsystems.ForKind(ent.Kind)
		if err != nil {
			return nil, err
		}
		evs := sub.Evolve(ent, newTime, rng)
		if len(evs) == 0 {
			continue
		}
		if limit > 0 && total+len(evs) > limit {
			evs = evs[:limit-total]
		}
		if len(evs) == 0 {
			break
		}
		batches = append(batches, entityBatch{ent: ent, events: evs})
		total += len(evs)
		if limit > 0 && total >= limit {
			break
		}
	}

	var appended []*entity.TimelineEvent
	err = e.tx.WithTransaction(ctx, func(ctx context.Context) error {
		for _, b := range batches {
			tl, err := e.timelines.GetByID(ctx, b.ent.TimelineID)
			if err != nil {
				return err
			}
			if err := e.appendLocked(ctx, tl, b.events); err != nil {
				return err
			}
			appended = append(appended, b.events...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "time passage simulated",
		"world_id", world.ID,
		"duration", duration,
		"events", len(appended),
	)
	return appended, nil
}

// historyCandidates 历史合成的事件类型候选集
func historyCandidates(kind entity.EntityKind) []entity.EventType {
	switch kind {
	case entity.EntityKindCharacter:
		return []entity.EventType{
			entity.EventTypeCharacterMet,
			entity.EventTypeCharacterParted,
			entity.EventTypePersonalityShift,
			entity.EventTypeCharacterTraveled,
		}
	case entity.EntityKindLocation:
		return []entity.EventType{
			entity.EventTypeSeasonChanged,
			entity.EventTypeEnvironmentShift,
			entity.EventTypeAccessibilityChange,
		}
	default:
		return []entity.EventType{
			entity.EventTypeObjectUsed,
			entity.EventTypeObjectTransferred,
		}
	}
}

// originEvent 实体种类对应的起源事件类型
func originEvent(kind entity.EntityKind) entity.EventType {
	switch kind {
	case entity.EntityKindCharacter:
		return entity.EventTypeCharacterBorn
	case entity.EntityKindLocation:
		return entity.EventTypeLocationDiscovered
	default:
		return entity.EventTypeObjectCreated
	}
}

// kindOf 从事件类型前缀推断实体种类标签
func kindOf(t entity.EventType) string {
	s := string(t)
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s[:i]
		}
	}
	return "unknown"
}

// EvolutionSeed 演化批次的确定性种子：世界 ID 哈希与逻辑时间组合
func EvolutionSeed(worldID string, worldTime int64) int64 {
	var h int64 = 1125899906842597
	for i := 0; i < len(worldID); i++ {
		h = 31*h + int64(worldID[i])
	}
	return h ^ worldTime
}
