// Package choice 实现玩家选择影响系统：安全校验、后果传播与偏好追踪
package choice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"living-world-engine/internal/application/timeline"
	"living-world-engine/internal/application/worldstate"
	"living-world-engine/internal/config"
	"living-world-engine/internal/domain/entity"
	"living-world-engine/internal/domain/repository"
	"living-world-engine/internal/infrastructure/messaging"
	"living-world-engine/internal/infrastructure/persistence/redis"
	"living-world-engine/internal/infrastructure/safety"
	apperrors "living-world-engine/pkg/errors"
	"living-world-engine/pkg/logger"
	"living-world-engine/pkg/metrics"
)

var tracer = otel.Tracer("application.choice")

// 按类别的基础影响强度
var categoryMagnitude = map[entity.ChoiceCategory]float64{
	entity.ChoiceCategorySocial:      0.3,
	entity.ChoiceCategoryExploration: 0.2,
	entity.ChoiceCategoryCrafting:    0.25,
	entity.ChoiceCategoryConflict:    0.6,
	entity.ChoiceCategorySensitive:   0.5,
}

// Service 玩家选择影响服务
type Service struct {
	worlds    repository.WorldRepository
	entities  repository.EntityRepository
	relations repository.RelationRepository
	prefs     repository.PreferenceRepository
	tx        repository.Transactor
	engine    *timeline.Engine
	gate      safety.Gate
	registry  *worldstate.Registry
	cache     *redis.WorldCache
	producer  *messaging.Producer
	cfg       config.ChoiceConfig
}

// NewService 创建选择影响服务
func NewService(
	worlds repository.WorldRepository,
	entities repository.EntityRepository,
	relations repository.RelationRepository,
	prefs repository.PreferenceRepository,
	tx repository.Transactor,
	engine *timeline.Engine,
	gate safety.Gate,
	registry *worldstate.Registry,
	cache *redis.WorldCache,
	producer *messaging.Producer,
	cfg config.ChoiceConfig,
) *Service {
	if cfg.PreferenceDecay <= 0 || cfg.PreferenceDecay >= 1 {
		cfg.PreferenceDecay = 0.3
	}
	if cfg.MaxConsequences <= 0 {
		cfg.MaxConsequences = 8
	}
	return &Service{
		worlds:    worlds,
		entities:  entities,
		relations: relations,
		prefs:     prefs,
		tx:        tx,
		engine:    engine,
		gate:      gate,
		registry:  registry,
		cache:     cache,
		producer:  producer,
		cfg:       cfg,
	}
}

// ProcessChoice 处理一次玩家选择。
// 安全网关否决不是错误：返回 Committed=false 与安全叙事挂钩，世界不变。
// 后果传播整体提交或整体回滚，不存在半写入的选择。
func (s *Service) ProcessChoice(ctx context.Context, choice *entity.PlayerChoice) (*entity.ChoiceImpactResult, error) {
	ctx, span := tracer.Start(ctx, "choice.ProcessChoice")
	defer span.End()

	if choice.ID == "" {
		choice.ID = uuid.NewString()
	}
	if choice.Intent == "" {
		return nil, apperrors.ErrInvalidParam.WithDetail("choice intent is empty")
	}

	if _, err := s.loadActiveWorld(ctx, choice.WorldID); err != nil {
		return nil, err
	}

	// 敏感类别先过安全网关；否决时世界不发生任何写入
	verdict, err := s.ValidateChoiceAppropriateness(ctx, choice)
	if err != nil {
		return nil, err
	}
	if !verdict.Approved {
		metrics.ChoicesProcessedTotal.WithLabelValues(string(choice.Category), "rejected").Inc()
		logger.Info(ctx, "choice rejected by safety gate",
			"choice_id", choice.ID,
			"category", string(choice.Category),
			"reason", verdict.Reason,
		)
		return &entity.ChoiceImpactResult{
			ChoiceID:          choice.ID,
			Committed:         false,
			FallbackNarrative: verdict.FallbackNarrative,
		}, nil
	}

	// 同一世界的选择串行传播，与演化批次共用世界锁，
	// 并发选择不会竞争时间轴尾部。网关调用留在锁外。
	s.registry.Acquire(choice.WorldID)
	defer s.registry.Release(choice.WorldID)

	// 等锁期间世界可能已被其他选择或演化推进，持锁后重读
	world, err := s.loadActiveWorld(ctx, choice.WorldID)
	if err != nil {
		return nil, err
	}

	targets, err := s.resolveTargets(ctx, choice)
	if err != nil {
		return nil, err
	}

	consequences := s.deriveConsequences(choice, targets)
	events, err := s.PropagateConsequences(ctx, world, choice, targets, consequences)
	if err != nil {
		metrics.ChoicesProcessedTotal.WithLabelValues(string(choice.Category), "failed").Inc()
		return nil, err
	}

	// 传播已提交，失效过期缓存
	if s.cache != nil {
		if err := s.cache.InvalidateWorld(ctx, world.ID); err != nil {
			logger.Warn(ctx, "cache invalidation failed after choice commit",
				"world_id", world.ID, "error", err)
		}
	}

	bias, err := s.TrackPlayerPreferences(ctx, choice.PlayerID, choice.WorldID, choice.Category)
	if err != nil {
		// 偏好是体验信号，不因它失败而否定已提交的选择
		logger.Warn(ctx, "preference tracking failed", "player_id", choice.PlayerID, "error", err)
	}

	guidance := fmt.Sprintf("player leaned %s: %s", choice.Category, choice.Intent)
	s.nudgeEvolution(ctx, choice, guidance)

	metrics.ChoicesProcessedTotal.WithLabelValues(string(choice.Category), "committed").Inc()
	metrics.ConsequencesPropagated.WithLabelValues(string(choice.Category)).Observe(float64(len(consequences)))

	return &entity.ChoiceImpactResult{
		ChoiceID:          choice.ID,
		Committed:         true,
		Consequences:      consequences,
		Events:            events,
		PreferenceBias:    bias,
		EvolutionGuidance: guidance,
	}, nil
}

// loadActiveWorld 读取世界并要求其处于接受选择的状态
func (s *Service) loadActiveWorld(ctx context.Context, worldID string) (*entity.World, error) {
	world, err := s.worlds.GetByID(ctx, worldID)
	if err != nil {
		return nil, err
	}
	if world.Status == entity.WorldStatusArchived {
		return nil, apperrors.ErrWorldArchived
	}
	if world.Status != entity.WorldStatusActive {
		return nil, apperrors.ErrWorldPaused.WithDetail("world does not accept choices")
	}
	return world, nil
}

// ValidateChoiceAppropriateness 对需要前置校验的类别调用安全网关。
// 非敏感类别直接放行，不触达网关。
func (s *Service) ValidateChoiceAppropriateness(ctx context.Context, choice *entity.PlayerChoice) (*safety.Verdict, error) {
	if !choice.Sensitive() {
		return &safety.Verdict{Approved: true}, nil
	}
	return s.gate.Validate(ctx, choice.Intent, choice.Context)
}

// resolveTargets 解析选择指向的实体，任一目标缺失即拒绝
func (s *Service) resolveTargets(ctx context.Context, choice *entity.PlayerChoice) ([]*entity.WorldEntity, error) {
	ids := choice.TargetEntityIDs()
	targets := make([]*entity.WorldEntity, 0, len(ids))
	for _, id := range ids {
		ent, err := s.entities.GetByID(ctx, id)
		if err != nil {
			return nil, apperrors.ErrEntityNotFound.WithDetail("choice target " + id)
		}
		if ent.WorldID != choice.WorldID {
			return nil, apperrors.ErrInvalidParam.WithDetail("choice target belongs to another world")
		}
		targets = append(targets, ent)
	}
	return targets, nil
}

// deriveConsequences 从选择推导派生影响，按配置上限截断
func (s *Service) deriveConsequences(choice *entity.PlayerChoice, targets []*entity.WorldEntity) []entity.Consequence {
	magnitude := categoryMagnitude[choice.Category]
	if magnitude == 0 {
		magnitude = 0.2
	}

	var consequences []entity.Consequence
	for _, target := range targets {
		var c entity.Consequence
		c.TargetEntityID = target.ID
		c.Magnitude = magnitude

		switch target.Kind {
		case entity.EntityKindCharacter:
			c.EventType = entity.EventTypeRelationChanged
			c.Effect = fmt.Sprintf("%s reacted to the player's %s move", target.Name, choice.Category)
		case entity.EntityKindLocation:
			c.EventType = entity.EventTypeEnvironmentShift
			c.Effect = fmt.Sprintf("the player's actions left a mark on %s", target.Name)
		case entity.EntityKindObject:
			if choice.Category == entity.ChoiceCategoryCrafting {
				c.EventType = entity.EventTypeObjectRepaired
				c.Effect = fmt.Sprintf("%s was worked on", target.Name)
			} else {
				c.EventType = entity.EventTypeObjectUsed
				c.Effect = fmt.Sprintf("%s was handled", target.Name)
			}
		}
		consequences = append(consequences, c)

		if len(consequences) >= s.cfg.MaxConsequences {
			break
		}
	}
	return consequences
}

// PropagateConsequences 把选择及其后果落为时间轴事件。
// 单个事务：主事件、每个后果事件、角色间关系强度调整要么全部提交，
// 要么全部回滚并上抛 PropagationFailure。
func (s *Service) PropagateConsequences(
	ctx context.Context,
	world *entity.World,
	choice *entity.PlayerChoice,
	targets []*entity.WorldEntity,
	consequences []entity.Consequence,
) ([]*entity.TimelineEvent, error) {
	ctx, span := tracer.Start(ctx, "choice.PropagateConsequences")
	defer span.End()

	if s.cfg.PropagationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PropagationTimeout)
		defer cancel()
	}

	targetByID := make(map[string]*entity.WorldEntity, len(targets))
	for _, t := range targets {
		targetByID[t.ID] = t
	}

	var appended []*entity.TimelineEvent
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		worldTime := world.CurrentTime

		// 后果事件预分配 ID，主事件以 consequence_refs 关联
		consequenceEvents := make([]*entity.TimelineEvent, 0, len(consequences))
		refs := make(entity.StringSlice, 0, len(consequences))
		for _, c := range consequences {
			target := targetByID[c.TargetEntityID]
			ev := entity.NewTimelineEvent(world.ID, c.TargetEntityID, c.EventType, worldTime, c.Effect)
			ev.ID = uuid.NewString()
			ev.EmotionalImpact = impactFor(choice.Category, c.Magnitude)
			ev.Significance = significanceFor(c.Magnitude)
			ev.Payload = consequencePayload(c)
			if target != nil && target.Kind == entity.EntityKindCharacter {
				ev.AddParticipant(choice.PlayerID)
			}
			consequenceEvents = append(consequenceEvents, ev)
			refs = append(refs, ev.ID)
		}

		if len(targets) > 0 {
			primary := entity.NewTimelineEvent(world.ID, targets[0].ID,
				entity.EventTypeChoiceMade, worldTime, choice.Intent)
			primary.ConsequenceRefs = refs
			primary.Significance = 6
			if err := s.engine.AppendEvent(ctx, targets[0].TimelineID, primary); err != nil {
				return err
			}
			appended = append(appended, primary)
		}

		for _, ev := range consequenceEvents {
			target := targetByID[ev.EntityID]
			if err := s.engine.AppendEvent(ctx, target.TimelineID, ev); err != nil {
				return err
			}
			appended = append(appended, ev)
		}

		if err := s.adjustRelations(ctx, choice, targets); err != nil {
			return err
		}

		if len(appended) > 0 {
			// 写版本递增，作为缓存栅栏
			return s.worlds.Update(ctx, world)
		}
		return nil
	})
	if err != nil {
		appended = nil
		if apperrors.Is(err, apperrors.CodeOutOfOrderEvent) {
			return nil, err
		}
		return nil, apperrors.ErrPropagationFailure.WithError(err)
	}
	return appended, nil
}

// adjustRelations 角色目标两两之间按类别调整关系强度
func (s *Service) adjustRelations(ctx context.Context, choice *entity.PlayerChoice, targets []*entity.WorldEntity) error {
	var characters []*entity.WorldEntity
	for _, t := range targets {
		if t.Kind == entity.EntityKindCharacter {
			characters = append(characters, t)
		}
	}
	if len(characters) < 2 {
		return nil
	}

	delta := 0.1
	if choice.Category == entity.ChoiceCategoryConflict {
		delta = -0.15
	}

	for i := 0; i < len(characters); i++ {
		for j := i + 1; j < len(characters); j++ {
			rel, err := s.relations.GetBetween(ctx, choice.WorldID,
				characters[i].ID, characters[j].ID, entity.RelationTypeKnows)
			if err != nil {
				if !apperrors.Is(err, apperrors.CodeNotFound) {
					return err
				}
				rel = entity.NewRelation(choice.WorldID, characters[i].ID, characters[j].ID, entity.RelationTypeKnows)
				if err := s.relations.Create(ctx, rel); err != nil {
					return err
				}
			}
			rel.UpdateStrength(rel.Strength + delta)
			if err := s.relations.UpdateStrength(ctx, rel.ID, rel.Strength); err != nil {
				return err
			}
		}
	}
	return nil
}

// TrackPlayerPreferences 以指数移动平均更新玩家偏好向量。
// 被选类别向 1 收敛，其余类别按衰减系数向 0 收敛。
func (s *Service) TrackPlayerPreferences(ctx context.Context, playerID, worldID string, category entity.ChoiceCategory) (entity.FloatMap, error) {
	ctx, span := tracer.Start(ctx, "choice.TrackPlayerPreferences")
	defer span.End()

	pref, err := s.prefs.Get(ctx, playerID, worldID)
	if err != nil {
		return nil, err
	}
	if pref == nil {
		pref = &entity.PlayerPreference{
			PlayerID: playerID,
			WorldID:  worldID,
			Bias:     make(entity.FloatMap),
		}
	}

	decay := s.cfg.PreferenceDecay
	for key, value := range pref.Bias {
		pref.Bias[key] = (1 - decay) * value
	}
	pref.Bias[string(category)] += decay
	pref.UpdatedAt = time.Now()

	if err := s.prefs.Upsert(ctx, pref); err != nil {
		return nil, err
	}
	return pref.Bias, nil
}

// GetPreferences 读取玩家当前偏好向量，未记录时返回空向量
func (s *Service) GetPreferences(ctx context.Context, playerID, worldID string) (entity.FloatMap, error) {
	pref, err := s.prefs.Get(ctx, playerID, worldID)
	if err != nil {
		return nil, err
	}
	if pref == nil {
		return entity.FloatMap{}, nil
	}
	return pref.Bias, nil
}

// nudgeEvolution 以选择为触发请求一轮演化；入队失败只记日志
func (s *Service) nudgeEvolution(ctx context.Context, choice *entity.PlayerChoice, guidance string) {
	if s.producer == nil {
		return
	}
	_, err := s.producer.PublishEvolutionTask(ctx, &messaging.WorldEvolutionMessage{
		WorldID:  choice.WorldID,
		Trigger:  "choice",
		Guidance: guidance,
	})
	if err != nil {
		logger.Warn(ctx, "failed to enqueue evolution task after choice",
			"world_id", choice.WorldID, "error", err)
	}
}

// impactFor 类别与强度折算事件情绪冲击
func impactFor(category entity.ChoiceCategory, magnitude float64) float64 {
	if category == entity.ChoiceCategoryConflict {
		return -magnitude
	}
	return magnitude
}

// significanceFor 强度映射到重要性等级
func significanceFor(magnitude float64) int {
	sig := int(magnitude*10) + 1
	if sig > entity.SignificanceMax {
		sig = entity.SignificanceMax
	}
	return sig
}

// consequencePayload 后果事件的结构化载荷
func consequencePayload(c entity.Consequence) entity.AttributeMap {
	switch c.EventType {
	case entity.EventTypeObjectUsed:
		return entity.AttributeMap{"wear_delta": c.Magnitude * 0.1}
	case entity.EventTypeObjectRepaired:
		return entity.AttributeMap{"wear_restored": c.Magnitude}
	case entity.EventTypeEnvironmentShift:
		return entity.AttributeMap{"disturbance": c.Magnitude}
	default:
		return nil
	}
}
