// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"living-world-engine/internal/domain/entity"
)

// EntityFilter 实体过滤条件
type EntityFilter struct {
	Kind entity.EntityKind
	Name string
}

// EntityRepository 世界实体仓储接口
type EntityRepository interface {
	// Create 创建实体
	Create(ctx context.Context, e *entity.WorldEntity) error

	// GetByID 根据 ID 获取实体
	GetByID(ctx context.Context, id string) (*entity.WorldEntity, error)

	// UpdateDerived 更新派生状态与 last_applied 游标
	UpdateDerived(ctx context.Context, e *entity.WorldEntity) error

	// ListByWorld 分页列出世界实体
	ListByWorld(ctx context.Context, worldID string, filter *EntityFilter, pagination Pagination) (*PagedResult[*entity.WorldEntity], error)

	// ListAllByWorld 列出世界全部实体（导出/修复用）
	ListAllByWorld(ctx context.Context, worldID string) ([]*entity.WorldEntity, error)

	// CountByKind 按种类统计世界实体数
	CountByKind(ctx context.Context, worldID string) (map[string]int64, error)

	// ExistingIDs 返回给定 ID 中确实存在于该世界的子集，孤儿事件校验用
	ExistingIDs(ctx context.Context, worldID string, ids []string) (map[string]bool, error)

	// DeleteByWorld 删除世界全部实体（仅供导入覆盖使用）
	DeleteByWorld(ctx context.Context, worldID string) error
}
