// Package narrative 提供事件叙事文本生成能力
package narrative

import (
	"context"
	"fmt"
	"strings"

	"living-world-engine/internal/domain/entity"
)

// Request 单条事件的叙事生成请求
type Request struct {
	WorldID      string
	EventType    entity.EventType
	EntityName   string
	Participants []string
	WorldTime    int64
	// Guidance 演化引导提示（来自玩家选择或管理标记）
	Guidance string
}

// Generator 叙事文本生成器。
// 引擎本身不关心文本从哪里来：确定性模板和外部模型都实现此接口，
// 生成失败时引擎以模板结果兜底，时间轴写入从不因叙事失败而阻塞。
type Generator interface {
	Describe(ctx context.Context, req Request) (string, error)
}

// TemplateGenerator 确定性模板实现。
// 相同请求恒产出相同文本，回放与测试依赖这一点。
type TemplateGenerator struct{}

// NewTemplateGenerator 创建模板生成器
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

// 事件类型到模板的映射；未知类型落到通用模板
var templates = map[entity.EventType]string{
	entity.EventTypeCharacterBorn:        "%s came into the world",
	entity.EventTypeCharacterDied:        "%s passed away",
	entity.EventTypeCharacterMet:         "%s crossed paths with %s",
	entity.EventTypeCharacterParted:      "%s parted ways with %s",
	entity.EventTypeRelationChanged:      "something shifted between %s and %s",
	entity.EventTypePersonalityShift:     "a change of heart came over %s",
	entity.EventTypeFamilyTie:            "%s was bound by blood to %s",
	entity.EventTypeCharacterTraveled:    "%s set out for somewhere new",
	entity.EventTypeSeasonChanged:        "the season turned at %s",
	entity.EventTypeAccessibilityChange:  "the way to %s changed",
	entity.EventTypeEnvironmentShift:     "the air shifted around %s",
	entity.EventTypeLocationDiscovered:   "%s was found at last",
	entity.EventTypeObjectCreated:        "%s was brought into being",
	entity.EventTypeObjectUsed:           "%s was put to use",
	entity.EventTypeObjectRepaired:       "%s was carefully restored",
	entity.EventTypeObjectTransferred:    "%s changed hands",
	entity.EventTypeObjectBroken:         "%s finally gave out",
	entity.EventTypeChoiceMade:           "%s acted upon the world",
	entity.EventTypeTimePassed:           "time drifted onward around %s",
	entity.EventTypeCompensation:         "the record of %s was set straight",
}

// Describe 生成模板叙事
func (g *TemplateGenerator) Describe(ctx context.Context, req Request) (string, error) {
	tmpl, ok := templates[req.EventType]
	if !ok {
		tmpl = "something happened to %s"
	}

	var text string
	if strings.Count(tmpl, "%s") == 2 {
		other := "a stranger"
		if len(req.Participants) > 0 {
			other = req.Participants[0]
		}
		text = fmt.Sprintf(tmpl, req.EntityName, other)
	} else {
		text = fmt.Sprintf(tmpl, req.EntityName)
	}

	return fmt.Sprintf("[t=%d] %s", req.WorldTime, text), nil
}
