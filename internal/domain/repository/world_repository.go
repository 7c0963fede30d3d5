// Package repository 定义数据访问层接口
package repository

import (
	"context"
	"time"

	"living-world-engine/internal/domain/entity"
)

// WorldRepository 世界仓储接口
type WorldRepository interface {
	// Create 创建世界
	Create(ctx context.Context, world *entity.World) error

	// GetByID 根据 ID 获取世界
	GetByID(ctx context.Context, id string) (*entity.World, error)

	// Update 更新世界（逻辑时钟、标记、演化时间戳），写版本号自增
	Update(ctx context.Context, world *entity.World) error

	// UpdateStatus 状态机转移，带前置状态校验
	UpdateStatus(ctx context.Context, id string, from, to entity.WorldStatus) error

	// SetFlags 覆盖世界标记
	SetFlags(ctx context.Context, id string, flags entity.AttributeMap) error

	// List 分页列出世界
	List(ctx context.Context, pagination Pagination) (*PagedResult[*entity.World], error)

	// ListDueForEvolution 列出到期需要演化的活跃世界
	ListDueForEvolution(ctx context.Context, now time.Time, limit int) ([]*entity.World, error)

	// SetLastValidated 记录一致性校验通过的检查点
	SetLastValidated(ctx context.Context, id string, worldTime int64) error
}
