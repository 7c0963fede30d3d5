// Package subsystem 实现按实体种类划分的派生状态子系统
package subsystem

import (
	"math/rand"

	"living-world-engine/internal/domain/entity"
)

// 磨损阈值，达到后物品损坏
const wearBreakThreshold = 1.0

// ObjectSubsystem 物品派生状态子系统。
// 磨损单调：普通使用只增不减，只有显式修复事件允许降低磨损。
type ObjectSubsystem struct{}

// NewObjectSubsystem 创建物品子系统
func NewObjectSubsystem() *ObjectSubsystem {
	return &ObjectSubsystem{}
}

// Kind 返回负责的实体种类
func (s *ObjectSubsystem) Kind() entity.EntityKind {
	return entity.EntityKindObject
}

// ApplyEvent 吸收事件到物品派生状态
func (s *ObjectSubsystem) ApplyEvent(state *entity.WorldEntity, event *entity.TimelineEvent) (*entity.WorldEntity, error) {
	if err := checkOrder(state, event); err != nil {
		return nil, err
	}

	next := state.CloneDerived()
	os := next.Object

	switch event.EventType {
	case entity.EventTypeObjectCreated:
		os.Wear = 0
		os.Broken = false
		if owner, ok := payloadString(event, "owner_id"); ok {
			os.OwnerID = owner
		}

	case entity.EventTypeObjectUsed:
		// 使用磨损取载荷值，负增量按零处理，磨损从不因使用下降
		delta, ok := payloadFloat(event, "wear_delta")
		if !ok || delta < 0 {
			delta = 0
		}
		os.Wear += delta
		if os.Wear >= wearBreakThreshold {
			os.Wear = wearBreakThreshold
		}

	case entity.EventTypeObjectRepaired:
		restored, ok := payloadFloat(event, "wear_restored")
		if !ok || restored < 0 {
			restored = os.Wear
		}
		os.Wear -= restored
		if os.Wear < 0 {
			os.Wear = 0
		}
		os.Broken = false

	case entity.EventTypeObjectTransferred:
		if owner, ok := payloadString(event, "owner_id"); ok {
			os.OwnerID = owner
		}

	case entity.EventTypeObjectBroken:
		os.Broken = true
		os.Wear = wearBreakThreshold
	}

	next.LastApplied = event.Key()
	return next, nil
}

// Evolve 物品老化：自然磨损累积，磨损到顶后损坏
func (s *ObjectSubsystem) Evolve(state *entity.WorldEntity, worldTime int64, rng *rand.Rand) []*entity.TimelineEvent {
	os := state.Object
	if os == nil || os.Broken {
		return nil
	}

	var events []*entity.TimelineEvent

	// 约一半的批次发生自然磨损
	if rng.Float64() < 0.5 {
		delta := rng.Float64() * 0.05

		ev := entity.NewTimelineEvent(state.WorldID, state.ID,
			entity.EventTypeObjectUsed, worldTime, "")
		ev.Payload = entity.AttributeMap{"wear_delta": delta}
		ev.Significance = 1
		events = append(events, ev)

		if os.Wear+delta >= wearBreakThreshold {
			broken := entity.NewTimelineEvent(state.WorldID, state.ID,
				entity.EventTypeObjectBroken, worldTime, "")
			broken.Significance = 6
			events = append(events, broken)
		}
	}

	return events
}
