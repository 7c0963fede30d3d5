// Package entity 定义领域实体
package entity

import (
	"time"
)

// RelationType 关系边类型
type RelationType string

const (
	// 角色图（家族边有向：source 是 target 的父/母）
	RelationTypeParentOf RelationType = "parent_of"
	RelationTypeFamily   RelationType = "family_member"
	RelationTypeFriend   RelationType = "friend"
	RelationTypeKnows    RelationType = "knows"
	RelationTypeRival    RelationType = "rival"

	// 地点图
	RelationTypeConnectedTo RelationType = "connected_to"

	// 实体-地点
	RelationTypeLocatedAt RelationType = "located_at"
)

// Directed 判断该类型的边是否有向
func (t RelationType) Directed() bool {
	switch t {
	case RelationTypeParentOf, RelationTypeLocatedAt:
		return true
	}
	return false
}

// Relation 实体间关系边。
// 关系图以实体 ID 为键的邻接结构表示，允许环（家族闭环、互相连通的地点），
// 从不以所有权指针建模；需要无环的子图（家谱）在写入时做遍历检查。
type Relation struct {
	ID             string       `json:"id"`
	WorldID        string       `json:"world_id"`
	SourceEntityID string       `json:"source_entity_id"`
	TargetEntityID string       `json:"target_entity_id"`
	RelationType   RelationType `json:"relation_type"`
	// Strength 关系强度 0-1
	Strength  float64   `json:"strength"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRelation 创建关系边
func NewRelation(worldID, sourceID, targetID string, relType RelationType) *Relation {
	now := time.Now()
	return &Relation{
		WorldID:        worldID,
		SourceEntityID: sourceID,
		TargetEntityID: targetID,
		RelationType:   relType,
		Strength:       0.5,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// UpdateStrength 更新关系强度并钳制到 [0,1]
func (r *Relation) UpdateStrength(strength float64) {
	if strength < 0 {
		strength = 0
	}
	if strength > 1 {
		strength = 1
	}
	r.Strength = strength
	r.UpdatedAt = time.Now()
}

// AdjacencyGraph 以实体 ID 为键的邻接表视图
type AdjacencyGraph map[string][]*Relation

// BuildAdjacency 从边集合构建邻接表；无向边双向登记
func BuildAdjacency(relations []*Relation) AdjacencyGraph {
	graph := make(AdjacencyGraph)
	for _, rel := range relations {
		graph[rel.SourceEntityID] = append(graph[rel.SourceEntityID], rel)
		if !rel.RelationType.Directed() {
			graph[rel.TargetEntityID] = append(graph[rel.TargetEntityID], rel)
		}
	}
	return graph
}
