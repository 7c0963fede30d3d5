package dto

import (
	"living-world-engine/internal/domain/entity"
)

// CreateWorldRequest 创建世界请求
type CreateWorldRequest struct {
	Name string `json:"name" binding:"required,min=1,max=128"`
	// EvolutionIntervalSeconds 演化周期秒数，0 取服务端默认
	EvolutionIntervalSeconds int `json:"evolution_interval_seconds" binding:"min=0"`
}

// SetFlagsRequest 覆盖世界标记请求
type SetFlagsRequest struct {
	Flags entity.AttributeMap `json:"flags" binding:"required"`
}

// CreateEntityRequest 创建实体请求
type CreateEntityRequest struct {
	Kind string `json:"kind" binding:"required,oneof=character location object"`
	Name string `json:"name" binding:"required,min=1,max=128"`
	// HistoryDepth 初始历史事件条数，0 取服务端默认
	HistoryDepth int   `json:"history_depth" binding:"min=0"`
	HistorySeed  int64 `json:"history_seed"`
}

// AppendEventRequest 追加事件请求
type AppendEventRequest struct {
	EventType    string              `json:"event_type" binding:"required"`
	Description  string              `json:"description"`
	WorldTime    int64               `json:"world_time" binding:"min=0"`
	Participants []string            `json:"participants"`
	LocationID   string              `json:"location_id"`
	Significance int                 `json:"significance" binding:"min=0,max=10"`
	Impact       float64             `json:"emotional_impact"`
	Payload      entity.AttributeMap `json:"payload"`
}

// ChoiceRequest 玩家选择请求
type ChoiceRequest struct {
	PlayerID string            `json:"player_id" binding:"required"`
	Intent   string            `json:"intent" binding:"required,min=1,max=2048"`
	Category string            `json:"category" binding:"required,oneof=social exploration crafting conflict sensitive"`
	Context  map[string]string `json:"context"`
}

// FamilyTreeRequest 家谱生成请求
type FamilyTreeRequest struct {
	Generations int `json:"generations" binding:"required,min=1,max=8"`
}

// FamilyTieRequest 亲子边请求
type FamilyTieRequest struct {
	ParentID string `json:"parent_id" binding:"required"`
	ChildID  string `json:"child_id" binding:"required"`
}

// EvolveRequest 手动触发演化请求
type EvolveRequest struct {
	Guidance string `json:"guidance"`
}

// EventQueryParams 事件游标查询参数
type EventQueryParams struct {
	AfterTime int64 `form:"after_time,default=-1"`
	AfterSeq  int64 `form:"after_seq,default=-1"`
	Limit     int   `form:"limit,default=100" binding:"min=0,max=1000"`
	StartTime int64 `form:"start_time,default=-1"`
	EndTime   int64 `form:"end_time,default=-1"`
}

// EntityListParams 实体列表查询参数
type EntityListParams struct {
	Kind     string `form:"kind"`
	Name     string `form:"name"`
	Page     int    `form:"page,default=1" binding:"min=1"`
	PageSize int    `form:"page_size,default=20" binding:"min=1,max=500"`
}
