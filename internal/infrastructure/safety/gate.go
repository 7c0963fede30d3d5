// Package safety 提供内容安全网关接入
package safety

import (
	"context"
)

// Verdict 网关裁决结果
type Verdict struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
	// FallbackNarrative 否决时给玩家的安全叙事挂钩
	FallbackNarrative string `json:"fallback_narrative,omitempty"`
}

// Gate 内容安全网关接口。
// 敏感类玩家选择在落地为时间轴事件之前必须先通过裁决；
// 裁决逻辑本身是外部系统的职责，这里只定义接入点。
type Gate interface {
	Validate(ctx context.Context, content string, choiceContext map[string]string) (*Verdict, error)
}

// PermissiveGate 放行实现，未配置外部网关时使用
type PermissiveGate struct{}

// NewPermissiveGate 创建放行网关
func NewPermissiveGate() *PermissiveGate {
	return &PermissiveGate{}
}

// Validate 恒定放行
func (g *PermissiveGate) Validate(ctx context.Context, content string, choiceContext map[string]string) (*Verdict, error) {
	return &Verdict{Approved: true}, nil
}
