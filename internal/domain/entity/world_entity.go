// Package entity 定义领域实体
package entity

import (
	"time"
)

// EntityKind 实体种类判别标记
type EntityKind string

const (
	EntityKindCharacter EntityKind = "character"
	EntityKindLocation  EntityKind = "location"
	EntityKindObject    EntityKind = "object"
)

// Valid 判断实体种类是否合法
func (k EntityKind) Valid() bool {
	switch k {
	case EntityKindCharacter, EntityKindLocation, EntityKindObject:
		return true
	}
	return false
}

// WorldEntity 世界实体：kind 判别 + 对应载荷的带标签变体。
// 派生状态永远是时间轴事件序列的确定性函数，可由回放重建。
type WorldEntity struct {
	ID         string     `json:"id"`
	WorldID    string     `json:"world_id"`
	Kind       EntityKind `json:"kind"`
	Name       string     `json:"name"`
	TimelineID string     `json:"timeline_id,omitempty"`
	// LastApplied 派生状态已吸收的最后一个事件排序键
	LastApplied OrderKey `json:"last_applied"`

	// 按 kind 恰好一个载荷非空
	Character *CharacterState `json:"character,omitempty"`
	Location  *LocationState  `json:"location,omitempty"`
	Object    *ObjectState    `json:"object,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CharacterState 角色派生状态
type CharacterState struct {
	// PersonalityWeights 个性维度权重 (0-1)。空映射也要序列化，
	// 省略会让 JSON 往返后的状态丢失映射本身
	PersonalityWeights FloatMap `json:"personality_weights"`
	Mood               float64  `json:"mood"`
	Alive              bool     `json:"alive"`
	LocationID         string   `json:"location_id,omitempty"`
	// Generation 家谱代际，0 为当前代，父母为 1
	Generation int `json:"generation"`
}

// LocationState 地点派生状态
type LocationState struct {
	Accessible bool   `json:"accessible"`
	Season     string `json:"season,omitempty"`
	// Environment 环境维度数值（温度、湿度等）
	Environment FloatMap `json:"environment"`
	Condition   string   `json:"condition,omitempty"`
}

// ObjectState 物品派生状态
type ObjectState struct {
	// Wear 磨损度 0-1，普通使用只增不减，仅修复事件可降低
	Wear    float64 `json:"wear"`
	OwnerID string  `json:"owner_id,omitempty"`
	Broken  bool    `json:"broken"`
}

// NewCharacter 创建角色实体
func NewCharacter(worldID, name string) *WorldEntity {
	now := time.Now()
	return &WorldEntity{
		WorldID:     worldID,
		Kind:        EntityKindCharacter,
		Name:        name,
		LastApplied: OrderKeyFloor,
		Character: &CharacterState{
			PersonalityWeights: make(FloatMap),
			Mood:               0.5,
			Alive:              true,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewLocation 创建地点实体
func NewLocation(worldID, name string) *WorldEntity {
	now := time.Now()
	return &WorldEntity{
		WorldID:     worldID,
		Kind:        EntityKindLocation,
		Name:        name,
		LastApplied: OrderKeyFloor,
		Location: &LocationState{
			Accessible:  true,
			Season:      "spring",
			Environment: make(FloatMap),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewObject 创建物品实体
func NewObject(worldID, name string) *WorldEntity {
	now := time.Now()
	return &WorldEntity{
		WorldID:     worldID,
		Kind:        EntityKindObject,
		Name:        name,
		LastApplied: OrderKeyFloor,
		Object:      &ObjectState{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CloneDerived 深拷贝派生状态部分，供纯函数 applyEvent 使用
func (e *WorldEntity) CloneDerived() *WorldEntity {
	clone := *e
	if e.Character != nil {
		cs := *e.Character
		cs.PersonalityWeights = e.Character.PersonalityWeights.Clone()
		clone.Character = &cs
	}
	if e.Location != nil {
		ls := *e.Location
		ls.Environment = e.Location.Environment.Clone()
		clone.Location = &ls
	}
	if e.Object != nil {
		os := *e.Object
		clone.Object = &os
	}
	return &clone
}

// ResetDerived 重置派生状态为初始值，回放修复的起点
func (e *WorldEntity) ResetDerived() {
	e.LastApplied = OrderKeyFloor
	switch e.Kind {
	case EntityKindCharacter:
		e.Character = &CharacterState{
			PersonalityWeights: make(FloatMap),
			Mood:               0.5,
			Alive:              true,
		}
	case EntityKindLocation:
		e.Location = &LocationState{
			Accessible:  true,
			Season:      "spring",
			Environment: make(FloatMap),
		}
	case EntityKindObject:
		e.Object = &ObjectState{}
	}
}
