// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"living-world-engine/internal/domain/entity"
)

// TimelineRepository 时间轴仓储接口
type TimelineRepository interface {
	// Create 创建时间轴；实体已有时间轴时返回 DuplicateTimeline
	Create(ctx context.Context, timeline *entity.Timeline) error

	// GetByID 根据 ID 获取时间轴
	GetByID(ctx context.Context, id string) (*entity.Timeline, error)

	// GetByEntity 根据实体 ID 获取时间轴
	GetByEntity(ctx context.Context, entityID string) (*entity.Timeline, error)

	// ListByWorld 列出世界内全部时间轴
	ListByWorld(ctx context.Context, worldID string) ([]*entity.Timeline, error)

	// AdvanceCursor 推进尾部排序键与事件计数；仅允许单调前进
	AdvanceCursor(ctx context.Context, id string, key entity.OrderKey, appended int64) error

	// DeleteByWorld 删除世界全部时间轴（仅供导入覆盖使用）
	DeleteByWorld(ctx context.Context, worldID string) error
}

// EventCursor 事件流键集游标。无限时间轴必须以游标迭代，不允许全量物化。
type EventCursor struct {
	// After 上一页最后一个事件的排序键；零值从头开始
	After entity.OrderKey
	// AfterEntity 世界级遍历的平局位置。(world_time, seq) 只在单条时间轴内
	// 唯一，世界级全序按 (world_time, entity_id, seq) 裁决，翻页位置必须
	// 带上实体 ID，否则页界落在同一逻辑时间点时会漏掉其余时间轴的事件。
	// 单时间轴遍历忽略该字段。
	AfterEntity string
	Limit       int
}

// NewEventCursor 创建游标
func NewEventCursor(limit int) EventCursor {
	if limit < 1 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	return EventCursor{
		After: entity.OrderKeyFloor,
		Limit: limit,
	}
}

// EventRepository 事件仓储接口（FOLLOWS 链）
type EventRepository interface {
	// Append 追加单个事件（不做排序校验，校验在时间轴引擎）
	Append(ctx context.Context, event *entity.TimelineEvent) error

	// AppendBatch 批量追加，调用方负责置于事务中
	AppendBatch(ctx context.Context, events []*entity.TimelineEvent) error

	// GetByID 根据 ID 获取事件
	GetByID(ctx context.Context, id string) (*entity.TimelineEvent, error)

	// ListByTimeline 按 (world_time, seq) 升序游标遍历时间轴事件
	ListByTimeline(ctx context.Context, timelineID string, cursor EventCursor) ([]*entity.TimelineEvent, error)

	// ListByTimeRange 按逻辑时间区间查询时间轴事件
	ListByTimeRange(ctx context.Context, timelineID string, startTime, endTime int64, cursor EventCursor) ([]*entity.TimelineEvent, error)

	// ListByWorld 按 (world_time, entity_id, seq) 全序游标遍历世界事件，
	// 跨实体同时间戳的平局以实体 ID、再以插入序裁决，保证回放确定性
	ListByWorld(ctx context.Context, worldID string, cursor EventCursor) ([]*entity.TimelineEvent, error)

	// CountByTimeline 统计时间轴事件数
	CountByTimeline(ctx context.Context, timelineID string) (int64, error)

	// CountByWorld 统计世界事件数
	CountByWorld(ctx context.Context, worldID string) (int64, error)

	// CountByTypeForWorld 按类型统计世界事件数
	CountByTypeForWorld(ctx context.Context, worldID string) (map[string]int64, error)

	// DeleteByWorld 删除世界全部事件（仅供导入覆盖使用）
	DeleteByWorld(ctx context.Context, worldID string) error
}
