// Package subsystem 实现按实体种类划分的派生状态子系统
package subsystem

import (
	"math/rand"

	"living-world-engine/internal/domain/entity"
)

// 季节轮转顺序
var seasons = []string{"spring", "summer", "autumn", "winter"}

// LocationSubsystem 地点派生状态子系统。
// 季节/可达性/环境三类变更各自只读写自己的字段，互不相关的事件
// 交换顺序不改变最终状态（可交换性是一致性要求，不是实现细节）。
type LocationSubsystem struct{}

// NewLocationSubsystem 创建地点子系统
func NewLocationSubsystem() *LocationSubsystem {
	return &LocationSubsystem{}
}

// Kind 返回负责的实体种类
func (s *LocationSubsystem) Kind() entity.EntityKind {
	return entity.EntityKindLocation
}

// ApplyEvent 吸收事件到地点派生状态
func (s *LocationSubsystem) ApplyEvent(state *entity.WorldEntity, event *entity.TimelineEvent) (*entity.WorldEntity, error) {
	if err := checkOrder(state, event); err != nil {
		return nil, err
	}

	next := state.CloneDerived()
	ls := next.Location

	switch event.EventType {
	case entity.EventTypeSeasonChanged:
		if season, ok := payloadString(event, "season"); ok {
			ls.Season = season
		}

	case entity.EventTypeAccessibilityChange:
		if accessible, ok := payloadBool(event, "accessible"); ok {
			ls.Accessible = accessible
		}
		if reason, ok := payloadString(event, "condition"); ok {
			ls.Condition = reason
		}

	case entity.EventTypeEnvironmentShift:
		// 历史数据可能把空映射存成 null，写入前补齐
		if ls.Environment == nil {
			ls.Environment = make(entity.FloatMap)
		}
		// 环境维度按增量叠加，加法可交换
		for key := range event.Payload {
			if delta, ok := payloadFloat(event, key); ok {
				ls.Environment[key] += delta
			}
		}

	case entity.EventTypeLocationDiscovered:
		ls.Accessible = true
	}

	next.LastApplied = event.Key()
	return next, nil
}

// Evolve 地点演化：季节轮转与环境漂移
func (s *LocationSubsystem) Evolve(state *entity.WorldEntity, worldTime int64, rng *rand.Rand) []*entity.TimelineEvent {
	ls := state.Location
	if ls == nil {
		return nil
	}

	var events []*entity.TimelineEvent

	// 约四分之一的批次推进季节
	if rng.Float64() < 0.25 {
		ev := entity.NewTimelineEvent(state.WorldID, state.ID,
			entity.EventTypeSeasonChanged, worldTime, "")
		ev.Payload = entity.AttributeMap{"season": nextSeason(ls.Season)}
		ev.Significance = 3
		events = append(events, ev)
	}

	// 环境温度小幅漂移
	if rng.Float64() < 0.5 {
		delta := (rng.Float64() - 0.5) * 2

		ev := entity.NewTimelineEvent(state.WorldID, state.ID,
			entity.EventTypeEnvironmentShift, worldTime, "")
		ev.Payload = entity.AttributeMap{"temperature": delta}
		ev.Significance = 1
		events = append(events, ev)
	}

	return events
}

// nextSeason 返回下一个季节
func nextSeason(current string) string {
	for i, s := range seasons {
		if s == current {
			return seasons[(i+1)%len(seasons)]
		}
	}
	return seasons[0]
}
