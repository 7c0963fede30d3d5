// Package subsystem 实现按实体种类划分的派生状态子系统。
// 每个子系统只做两件事：把时间轴事件吸收进派生状态（纯函数，无 I/O），
// 以及在演化批次里产出候选事件。持久化永远由上层负责。
package subsystem

import (
	"fmt"
	"math/rand"

	"living-world-engine/internal/domain/entity"
)

// Subsystem 实体子系统能力接口
type Subsystem interface {
	// Kind 返回负责的实体种类
	Kind() entity.EntityKind

	// ApplyEvent 把事件吸收进派生状态。
	// 纯函数：输入状态不被修改，返回新状态；事件排序键必须晚于
	// 状态的 last_applied，否则返回 OutOfOrderEvent。
	ApplyEvent(state *entity.WorldEntity, event *entity.TimelineEvent) (*entity.WorldEntity, error)

	// Evolve 演化钩子：基于当前状态产出本批次的候选事件。
	// rng 由调用方以固定种子构造，相同输入必须产出相同事件。
	Evolve(state *entity.WorldEntity, worldTime int64, rng *rand.Rand) []*entity.TimelineEvent
}

// Registry 子系统注册表
type Registry struct {
	byKind map[entity.EntityKind]Subsystem
}

// NewRegistry 创建注册表并登记全部子系统
func NewRegistry() *Registry {
	r := &Registry{byKind: make(map[entity.EntityKind]Subsystem)}
	r.register(NewCharacterSubsystem())
	r.register(NewLocationSubsystem())
	r.register(NewObjectSubsystem())
	return r
}

func (r *Registry) register(s Subsystem) {
	r.byKind[s.Kind()] = s
}

// ForKind 获取指定种类的子系统
func (r *Registry) ForKind(kind entity.EntityKind) (Subsystem, error) {
	s, ok := r.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("no subsystem registered for kind %q", kind)
	}
	return s, nil
}

// Replay 从空派生状态按序重放事件。
// 相同事件序列重放两次必须得到完全相同的派生状态。
func (r *Registry) Replay(state *entity.WorldEntity, events []*entity.TimelineEvent) (*entity.WorldEntity, error) {
	sub, err := r.ForKind(state.Kind)
	if err != nil {
		return nil, err
	}

	current := state.CloneDerived()
	current.ResetDerived()

	for _, event := range events {
		next, err := sub.ApplyEvent(current, event)
		if err != nil {
			return nil, fmt.Errorf("replay failed at event %s: %w", event.ID, err)
		}
		current = next
	}
	return current, nil
}

// checkOrder 校验事件排序键严格晚于状态游标
func checkOrder(state *entity.WorldEntity, event *entity.TimelineEvent) error {
	if !state.LastApplied.Less(event.Key()) {
		return fmt.Errorf("event %s at (%d,%d) is not after applied cursor (%d,%d)",
			event.ID, event.WorldTime, event.Seq,
			state.LastApplied.WorldTime, state.LastApplied.Seq)
	}
	return nil
}

// clamp01 钳制到 [0,1]
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// payloadFloat 从事件载荷取浮点值
func payloadFloat(event *entity.TimelineEvent, key string) (float64, bool) {
	if event.Payload == nil {
		return 0, false
	}
	switch v := event.Payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// payloadString 从事件载荷取字符串值
func payloadString(event *entity.TimelineEvent, key string) (string, bool) {
	if event.Payload == nil {
		return "", false
	}
	v, ok := event.Payload[key].(string)
	return v, ok
}

// payloadBool 从事件载荷取布尔值
func payloadBool(event *entity.TimelineEvent, key string) (bool, bool) {
	if event.Payload == nil {
		return false, false
	}
	v, ok := event.Payload[key].(bool)
	return v, ok
}
