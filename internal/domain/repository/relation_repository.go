// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"living-world-engine/internal/domain/entity"
)

// RelationFilter 关系过滤条件
type RelationFilter struct {
	RelationType entity.RelationType
	MinStrength  float64
}

// RelationRepository 关系边仓储接口
type RelationRepository interface {
	// Create 创建关系边
	Create(ctx context.Context, relation *entity.Relation) error

	// GetByID 根据 ID 获取关系
	GetByID(ctx context.Context, id string) (*entity.Relation, error)

	// GetBetween 获取两实体间指定类型的边
	GetBetween(ctx context.Context, worldID, sourceID, targetID string, relType entity.RelationType) (*entity.Relation, error)

	// UpdateStrength 更新关系强度
	UpdateStrength(ctx context.Context, id string, strength float64) error

	// ListByEntity 列出实体参与的全部边（作为源或目标）
	ListByEntity(ctx context.Context, entityID string) ([]*entity.Relation, error)

	// ListByWorld 列出世界内的边，可按类型过滤
	ListByWorld(ctx context.Context, worldID string, filter *RelationFilter) ([]*entity.Relation, error)

	// ListByType 列出世界内指定类型的全部边
	ListByType(ctx context.Context, worldID string, relType entity.RelationType) ([]*entity.Relation, error)

	// DeleteByEntity 删除实体相关的全部边
	DeleteByEntity(ctx context.Context, entityID string) error

	// DeleteByWorld 删除世界全部边（仅供导入覆盖使用）
	DeleteByWorld(ctx context.Context, worldID string) error
}

// PreferenceRepository 玩家偏好仓储接口
type PreferenceRepository interface {
	// Get 获取玩家在某世界的偏好向量，不存在时返回 nil
	Get(ctx context.Context, playerID, worldID string) (*entity.PlayerPreference, error)

	// Upsert 写入或更新偏好向量
	Upsert(ctx context.Context, pref *entity.PlayerPreference) error

	// ListByWorld 列出世界内全部玩家偏好（导出用）
	ListByWorld(ctx context.Context, worldID string) ([]*entity.PlayerPreference, error)
}
