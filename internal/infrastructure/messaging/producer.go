// Package messaging 提供消息队列实现
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	maxLen int64
}

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()

	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishEvolutionTask 发布世界演化任务
func (p *Producer) PublishEvolutionTask(ctx context.Context, task *WorldEvolutionMessage) (string, error) {
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}

	msg, err := NewMessage(task.TaskID, TypeWorldEvolution, task.WorldID, task)
	if err != nil {
		return "", err
	}

	msg.SetMetadata("trigger", task.Trigger)
	return p.Publish(ctx, StreamWorldEvolution, msg)
}

// PublishAuditLog 发布管理操作审计日志
func (p *Producer) PublishAuditLog(ctx context.Context, log *AuditLogMessage) (string, error) {
	msg, err := NewMessage(log.RequestID, TypeAudit, log.WorldID, log)
	if err != nil {
		return "", err
	}

	return p.Publish(ctx, StreamAuditLog, msg)
}

// WorldEvolutionMessage 世界演化任务消息。
// Trigger 为 scheduled（调度器扫描到期）或 choice（玩家选择触发补充演化）。
type WorldEvolutionMessage struct {
	TaskID   string `json:"task_id"`
	WorldID  string `json:"world_id"`
	Trigger  string `json:"trigger"`
	Guidance string `json:"guidance,omitempty"`
	// BatchLimit 本次演化最多生成的事件数，0 取配置默认值
	BatchLimit int `json:"batch_limit,omitempty"`
}

// AuditLogMessage 管理操作审计消息
type AuditLogMessage struct {
	WorldID      string                 `json:"world_id,omitempty"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	RequestID    string                 `json:"request_id"`
	TraceID      string                 `json:"trace_id,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	Changes      map[string]interface{} `json:"changes,omitempty"`
}
