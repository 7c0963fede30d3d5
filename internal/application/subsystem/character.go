// Package subsystem 实现按实体种类划分的派生状态子系统
package subsystem

import (
	"math/rand"

	"living-world-engine/internal/domain/entity"
)

// 个性维度
var personalityDimensions = []string{"openness", "caution", "warmth", "ambition"}

// 心情吸收事件情绪冲击的步长
const moodImpactFactor = 0.1

// CharacterSubsystem 角色派生状态子系统
type CharacterSubsystem struct{}

// NewCharacterSubsystem 创建角色子系统
func NewCharacterSubsystem() *CharacterSubsystem {
	return &CharacterSubsystem{}
}

// Kind 返回负责的实体种类
func (s *CharacterSubsystem) Kind() entity.EntityKind {
	return entity.EntityKindCharacter
}

// ApplyEvent 吸收事件到角色派生状态
func (s *CharacterSubsystem) ApplyEvent(state *entity.WorldEntity, event *entity.TimelineEvent) (*entity.WorldEntity, error) {
	if err := checkOrder(state, event); err != nil {
		return nil, err
	}

	next := state.CloneDerived()
	cs := next.Character

	switch event.EventType {
	case entity.EventTypeCharacterBorn:
		cs.Alive = true
		if gen, ok := payloadFloat(event, "generation"); ok {
			cs.Generation = int(gen)
		}
		if loc, ok := payloadString(event, "location_id"); ok {
			cs.LocationID = loc
		}

	case entity.EventTypeCharacterDied:
		cs.Alive = false

	case entity.EventTypeCharacterTraveled:
		if loc, ok := payloadString(event, "location_id"); ok {
			cs.LocationID = loc
		} else if event.LocationID != "" {
			cs.LocationID = event.LocationID
		}

	case entity.EventTypePersonalityShift:
		// 历史数据可能把空映射存成 null，写入前补齐
		if cs.PersonalityWeights == nil {
			cs.PersonalityWeights = make(entity.FloatMap)
		}
		// 载荷里以维度名为键的增量，线性叠加后钳制
		for _, dim := range personalityDimensions {
			if delta, ok := payloadFloat(event, dim); ok {
				cs.PersonalityWeights[dim] = clamp01(cs.PersonalityWeights[dim] + delta)
			}
		}
	}

	// 情绪冲击统一吸收进心情值
	if event.EmotionalImpact != 0 {
		cs.Mood = clamp01(cs.Mood + moodImpactFactor*event.EmotionalImpact)
	}

	next.LastApplied = event.Key()
	return next, nil
}

// Evolve 角色个性演化：心情向中性缓慢回归，偶发个性漂移事件
func (s *CharacterSubsystem) Evolve(state *entity.WorldEntity, worldTime int64, rng *rand.Rand) []*entity.TimelineEvent {
	cs := state.Character
	if cs == nil || !cs.Alive {
		return nil
	}

	var events []*entity.TimelineEvent

	// 约三分之一的批次发生个性漂移
	if rng.Float64() < 0.34 {
		dim := personalityDimensions[rng.Intn(len(personalityDimensions))]
		delta := (rng.Float64() - 0.5) * 0.1

		ev := entity.NewTimelineEvent(state.WorldID, state.ID,
			entity.EventTypePersonalityShift, worldTime, "")
		ev.Payload = entity.AttributeMap{dim: delta}
		ev.EmotionalImpact = delta
		ev.Significance = 2
		events = append(events, ev)
	}

	// 心情偏离中性较远时回归
	if cs.Mood > 0.8 || cs.Mood < 0.2 {
		drift := 0.5 - cs.Mood

		ev := entity.NewTimelineEvent(state.WorldID, state.ID,
			entity.EventTypeTimePassed, worldTime, "")
		ev.EmotionalImpact = drift * 0.5
		ev.Significance = 1
		events = append(events, ev)
	}

	return events
}
