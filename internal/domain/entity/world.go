// Package entity 定义领域实体
package entity

import (
	"time"
)

// WorldStatus 世界生命周期状态
type WorldStatus string

const (
	WorldStatusInitializing WorldStatus = "initializing"
	WorldStatusActive       WorldStatus = "active"
	WorldStatusPaused       WorldStatus = "paused"
	// WorldStatusArchived 终态，归档后拒绝一切写入
	WorldStatusArchived WorldStatus = "archived"
)

// CanTransitionTo 判断状态机转移是否合法
// Initializing → Active ⇄ Paused → Archived（终态）
func (s WorldStatus) CanTransitionTo(target WorldStatus) bool {
	if s == WorldStatusArchived {
		return false
	}
	switch target {
	case WorldStatusActive:
		return s == WorldStatusInitializing || s == WorldStatusPaused
	case WorldStatusPaused:
		return s == WorldStatusActive
	case WorldStatusArchived:
		return true
	default:
		return false
	}
}

// World 顶层聚合：一个持久化的模拟世界实例
type World struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Status WorldStatus `json:"status"`
	// CurrentTime 世界逻辑时钟（故事内时间，单调递增）
	CurrentTime int64        `json:"current_time"`
	Flags       AttributeMap `json:"flags,omitempty"`
	// EvolutionInterval 后台演化周期
	EvolutionInterval time.Duration `json:"evolution_interval"`
	LastEvolutionAt   time.Time     `json:"last_evolution_at"`
	// LastValidatedTime 最近一次一致性校验通过的逻辑时间，修复回放的检查点
	LastValidatedTime int64 `json:"last_validated_time"`
	// Version 写版本号，每次成功提交递增，用于缓存栅栏
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorld 创建新世界（处于 Initializing 状态）
func NewWorld(name string, evolutionInterval time.Duration) *World {
	now := time.Now()
	return &World{
		Name:              name,
		Status:            WorldStatusInitializing,
		CurrentTime:       0,
		Flags:             make(AttributeMap),
		EvolutionInterval: evolutionInterval,
		LastEvolutionAt:   now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// SetFlag 设置世界标记
func (w *World) SetFlag(key string, value interface{}) {
	if w.Flags == nil {
		w.Flags = make(AttributeMap)
	}
	w.Flags[key] = value
}

// IsMutable 世界是否接受写入
func (w *World) IsMutable() bool {
	return w.Status != WorldStatusArchived
}

// EvolutionDue 判断是否到达演化时间
func (w *World) EvolutionDue(now time.Time) bool {
	if w.Status != WorldStatusActive {
		return false
	}
	return now.Sub(w.LastEvolutionAt) >= w.EvolutionInterval
}
