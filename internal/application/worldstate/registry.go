// Package worldstate 实现世界状态管理：演化调度、一致性校验与回放修复
package worldstate

import (
	"sort"
	"sync"
	"sync/atomic"

	"living-world-engine/pkg/metrics"
)

// Registry 按世界维度的互斥登记表。
// 同一世界的演化批次串行执行，不同世界互不阻塞。
type Registry struct {
	mu    sync.Mutex
	locks map[string]*worldLock
}

type worldLock struct {
	mu sync.Mutex
	// held 仅供调试快照，锁语义由 mu 保证
	held atomic.Bool
}

// NewRegistry 创建登记表
func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*worldLock)}
}

// Acquire 取得世界锁，阻塞到可用
func (r *Registry) Acquire(worldID string) {
	l := r.lockFor(worldID)
	l.mu.Lock()
	l.held.Store(true)
}

// TryAcquire 非阻塞取锁，成功返回 true
func (r *Registry) TryAcquire(worldID string) bool {
	l := r.lockFor(worldID)
	if !l.mu.TryLock() {
		return false
	}
	l.held.Store(true)
	return true
}

// Release 释放世界锁
func (r *Registry) Release(worldID string) {
	l := r.lockFor(worldID)
	l.held.Store(false)
	l.mu.Unlock()
}

// Register 登记活跃世界
func (r *Registry) Register(worldID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.locks[worldID]; !ok {
		r.locks[worldID] = &worldLock{}
		metrics.ActiveWorlds.Set(float64(len(r.locks)))
	}
}

// Unregister 注销世界（归档后调用）
func (r *Registry) Unregister(worldID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.locks[worldID]; ok {
		delete(r.locks, worldID)
		metrics.ActiveWorlds.Set(float64(len(r.locks)))
	}
}

// Size 当前登记的世界数
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

// HeldLocks 当前被持有的世界锁快照，调试接口用
func (r *Registry) HeldLocks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var held []string
	for id, l := range r.locks {
		if l.held.Load() {
			held = append(held, id)
		}
	}
	sort.Strings(held)
	return held
}

func (r *Registry) lockFor(worldID string) *worldLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[worldID]
	if !ok {
		l = &worldLock{}
		r.locks[worldID] = l
		metrics.ActiveWorlds.Set(float64(len(r.locks)))
	}
	return l
}
