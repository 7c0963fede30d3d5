// Package entity 定义领域实体
package entity

import (
	"time"
)

// WorldAnalytics 世界分析报表。按需重算的只读派生数据，永不作为权威状态。
type WorldAnalytics struct {
	WorldID         string           `json:"world_id"`
	Status          WorldStatus      `json:"status"`
	CurrentTime     int64            `json:"current_time"`
	EntityCounts    map[string]int64 `json:"entity_counts"`
	EventCount      int64            `json:"event_count"`
	EventsByType    map[string]int64 `json:"events_by_type"`
	RelationCount   int64            `json:"relation_count"`
	LastEvolutionAt time.Time        `json:"last_evolution_at"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// DebugMetrics 调试指标。只读，不反写任何状态。
type DebugMetrics struct {
	RegisteredWorlds int            `json:"registered_worlds"`
	HeldWorldLocks   []string       `json:"held_world_locks,omitempty"`
	CacheStats       map[string]any `json:"cache_stats,omitempty"`
	StoreStats       map[string]any `json:"store_stats,omitempty"`
	GeneratedAt      time.Time      `json:"generated_at"`
}

// WorldExport 世界全量导出。导出后再导入必须无损重建时间轴集合与世界标记。
type WorldExport struct {
	Version     int                 `json:"version"`
	World       *World              `json:"world"`
	Entities    []*WorldEntity      `json:"entities"`
	Timelines   []*Timeline         `json:"timelines"`
	Events      []*TimelineEvent    `json:"events"`
	Relations   []*Relation         `json:"relations"`
	Preferences []*PlayerPreference `json:"preferences,omitempty"`
	ExportedAt  time.Time           `json:"exported_at"`
}

// ExportFormatVersion 当前导出格式版本
const ExportFormatVersion = 1
