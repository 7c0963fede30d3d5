// Package entity 定义领域实体
package entity

import (
	"time"
)

// ChoiceCategory 玩家选择类别
type ChoiceCategory string

const (
	ChoiceCategorySocial      ChoiceCategory = "social"
	ChoiceCategoryExploration ChoiceCategory = "exploration"
	ChoiceCategoryCrafting    ChoiceCategory = "crafting"
	ChoiceCategoryConflict    ChoiceCategory = "conflict"
	ChoiceCategorySensitive   ChoiceCategory = "sensitive"
)

// PlayerChoice 玩家行为输入。短生命周期：被选择影响系统消费后即丢弃，
// 只有由它产生的时间轴事件持久化。
type PlayerChoice struct {
	ID       string         `json:"id"`
	PlayerID string         `json:"player_id"`
	WorldID  string         `json:"world_id"`
	Intent   string         `json:"intent"`
	Category ChoiceCategory `json:"category"`
	// Context 选择上下文（当前地点、目标实体等）
	Context   map[string]string `json:"context,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// TargetEntityIDs 从上下文提取目标实体列表
func (c *PlayerChoice) TargetEntityIDs() []string {
	var ids []string
	if id := c.Context["target_entity_id"]; id != "" {
		ids = append(ids, id)
	}
	if id := c.Context["secondary_entity_id"]; id != "" {
		ids = append(ids, id)
	}
	return ids
}

// Sensitive 是否需要内容安全网关前置校验
func (c *PlayerChoice) Sensitive() bool {
	return c.Category == ChoiceCategorySensitive || c.Category == ChoiceCategoryConflict
}

// Consequence 传播产生的派生影响：(目标实体, 效果描述, 强度)
type Consequence struct {
	TargetEntityID string  `json:"target_entity_id"`
	Effect         string  `json:"effect"`
	Magnitude      float64 `json:"magnitude"`
	// EventType 该后果落地为时间轴事件时使用的类型
	EventType EventType `json:"event_type"`
}

// ChoiceImpactResult 选择处理结果
type ChoiceImpactResult struct {
	ChoiceID     string           `json:"choice_id"`
	Committed    bool             `json:"committed"`
	Consequences []Consequence    `json:"consequences,omitempty"`
	Events       []*TimelineEvent `json:"events,omitempty"`
	// PreferenceBias 更新后的玩家偏好向量
	PreferenceBias FloatMap `json:"preference_bias,omitempty"`
	// EvolutionGuidance 给后台演化的引导提示
	EvolutionGuidance string `json:"evolution_guidance,omitempty"`
	// FallbackNarrative 安全网关否决时返回的安全叙事挂钩（非错误）
	FallbackNarrative string `json:"fallback_narrative,omitempty"`
}

// PlayerPreference 玩家按世界维度的偏好向量
type PlayerPreference struct {
	PlayerID  string    `json:"player_id"`
	WorldID   string    `json:"world_id"`
	Bias      FloatMap  `json:"bias"`
	UpdatedAt time.Time `json:"updated_at"`
}
