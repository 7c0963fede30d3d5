// Package entity 定义领域实体
package entity

import (
	"math"
	"time"
)

// EventType 时间轴事件类型
type EventType string

// 角色事件
const (
	EventTypeCharacterBorn     EventType = "character.born"
	EventTypeCharacterDied     EventType = "character.died"
	EventTypeCharacterMet      EventType = "character.met"
	EventTypeCharacterParted   EventType = "character.parted"
	EventTypeRelationChanged   EventType = "character.relation_changed"
	EventTypePersonalityShift  EventType = "character.personality_shift"
	EventTypeFamilyTie         EventType = "character.family_tie"
	EventTypeCharacterTraveled EventType = "character.traveled"
)

// 地点事件
const (
	EventTypeSeasonChanged       EventType = "location.season_changed"
	EventTypeAccessibilityChange EventType = "location.accessibility_changed"
	EventTypeEnvironmentShift    EventType = "location.environment_shift"
	EventTypeLocationDiscovered  EventType = "location.discovered"
)

// 物品事件
const (
	EventTypeObjectCreated     EventType = "object.created"
	EventTypeObjectUsed        EventType = "object.used"
	EventTypeObjectRepaired    EventType = "object.repaired"
	EventTypeObjectTransferred EventType = "object.transferred"
	EventTypeObjectBroken      EventType = "object.broken"
)

// 世界级事件
const (
	EventTypeChoiceMade   EventType = "world.choice_made"
	EventTypeTimePassed   EventType = "world.time_passed"
	EventTypeCompensation EventType = "world.compensation"
)

// 重要性等级边界
const (
	SignificanceMin = 1
	SignificanceMax = 10
)

// OrderKey 时间轴全序键：(逻辑时间, 序号)
type OrderKey struct {
	WorldTime int64 `json:"world_time"`
	Seq       int64 `json:"seq"`
}

// OrderKeyFloor 先于一切合法事件的哨兵键。
// 空时间轴与重置后的派生状态从这里起步；家谱祖先等史前事件
// 允许负逻辑时间，所以哨兵不能是 (-1,-1)。
var OrderKeyFloor = OrderKey{WorldTime: math.MinInt64, Seq: math.MinInt64}

// Less 判断是否严格早于 other
func (k OrderKey) Less(other OrderKey) bool {
	if k.WorldTime != other.WorldTime {
		return k.WorldTime < other.WorldTime
	}
	return k.Seq < other.Seq
}

// Timeline 单个实体的只追加事件日志
type Timeline struct {
	ID         string     `json:"id"`
	WorldID    string     `json:"world_id"`
	EntityID   string     `json:"entity_id"`
	EntityKind EntityKind `json:"entity_kind"`
	// LastKey 当前尾部事件的排序键，追加校验依据
	LastKey    OrderKey  `json:"last_key"`
	EventCount int64     `json:"event_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewTimeline 创建时间轴
func NewTimeline(worldID, entityID string, kind EntityKind) *Timeline {
	now := time.Now()
	return &Timeline{
		WorldID:    worldID,
		EntityID:   entityID,
		EntityKind: kind,
		LastKey:    OrderKeyFloor,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// TimelineEvent 不可变事件记录，提交后不再修改
type TimelineEvent struct {
	ID          string    `json:"id"`
	TimelineID  string    `json:"timeline_id"`
	WorldID     string    `json:"world_id"`
	EntityID    string    `json:"entity_id"`
	EventType   EventType `json:"event_type"`
	Description string    `json:"description"`
	// Participants 参与实体 ID 列表（含主实体）
	Participants StringSlice `json:"participants,omitempty"`
	LocationID   string      `json:"location_id,omitempty"`
	// WorldTime 故事内逻辑时间；Seq 同一时间点内的追加序号
	WorldTime int64 `json:"world_time"`
	Seq       int64 `json:"seq"`
	// ConsequenceRefs 关联后果产生的事件 ID
	ConsequenceRefs StringSlice `json:"consequence_refs,omitempty"`
	EmotionalImpact float64     `json:"emotional_impact"`
	// Significance 重要性等级 1-10
	Significance int          `json:"significance"`
	Payload      AttributeMap `json:"payload,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// NewTimelineEvent 创建事件
func NewTimelineEvent(worldID, entityID string, eventType EventType, worldTime int64, description string) *TimelineEvent {
	return &TimelineEvent{
		WorldID:      worldID,
		EntityID:     entityID,
		EventType:    eventType,
		Description:  description,
		Participants: StringSlice{entityID},
		WorldTime:    worldTime,
		Significance: 5,
		CreatedAt:    time.Now(),
	}
}

// Key 返回事件的排序键
func (e *TimelineEvent) Key() OrderKey {
	return OrderKey{WorldTime: e.WorldTime, Seq: e.Seq}
}

// AddParticipant 添加参与实体
func (e *TimelineEvent) AddParticipant(entityID string) {
	if !e.Participants.Contains(entityID) {
		e.Participants = append(e.Participants, entityID)
	}
}

// ClampSignificance 将重要性钳制到合法区间
func (e *TimelineEvent) ClampSignificance() {
	if e.Significance < SignificanceMin {
		e.Significance = SignificanceMin
	}
	if e.Significance > SignificanceMax {
		e.Significance = SignificanceMax
	}
}

// IsRepair 是否为修复磨损的事件
func (e *TimelineEvent) IsRepair() bool {
	return e.EventType == EventTypeObjectRepaired
}
