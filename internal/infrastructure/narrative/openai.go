// Package narrative 提供事件叙事文本生成能力
package narrative

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"living-world-engine/internal/config"
	apperrors "living-world-engine/pkg/errors"
)

var tracer = otel.Tracer("narrative")

const systemPrompt = `You narrate events inside a persistent simulated world.
Write exactly one vivid sentence describing the given event from an
omniscient narrator's view. Past tense. No quotation marks, no preamble.`

// OpenAIGenerator 基于外部模型的叙事生成器。
// 调用失败在重试预算内退避重试，预算耗尽回退到模板文本，
// 绝不让叙事失败阻塞时间轴写入。
type OpenAIGenerator struct {
	client     *openai.Client
	model      string
	retryLimit int
	fallback   *TemplateGenerator
}

// NewOpenAIGenerator 创建 OpenAI 生成器
func NewOpenAIGenerator(cfg *config.NarrativeConfig) *OpenAIGenerator {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	retryLimit := cfg.RetryLimit
	if retryLimit <= 0 {
		retryLimit = 2
	}

	client := openai.NewClient(opts...)
	return &OpenAIGenerator{
		client:     &client,
		model:      model,
		retryLimit: retryLimit,
		fallback:   NewTemplateGenerator(),
	}
}

// Describe 生成叙事文本
func (g *OpenAIGenerator) Describe(ctx context.Context, req Request) (string, error) {
	ctx, span := tracer.Start(ctx, "narrative.Describe",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("narrative.event_type", string(req.EventType)),
			attribute.String("narrative.model", g.model),
		))
	defer span.End()

	prompt := g.buildPrompt(req)

	var lastErr error
	for attempt := 0; attempt <= g.retryLimit; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
		}

		resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: shared.ChatModel(g.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(systemPrompt),
				openai.UserMessage(prompt),
			},
			MaxCompletionTokens: openai.Int(120),
		})
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("no completion choices returned")
			continue
		}

		text := strings.TrimSpace(resp.Choices[0].Message.Content)
		if text == "" {
			lastErr = fmt.Errorf("empty completion")
			continue
		}

		span.SetAttributes(
			attribute.Int64("gen_ai.usage.input_tokens", resp.Usage.PromptTokens),
			attribute.Int64("gen_ai.usage.output_tokens", resp.Usage.CompletionTokens),
		)
		return text, nil
	}

	span.RecordError(lastErr)

	// 回退到确定性模板
	text, err := g.fallback.Describe(ctx, req)
	if err != nil {
		return "", apperrors.ErrGenerationFailed.WithError(lastErr)
	}
	return text, nil
}

// buildPrompt 构建用户侧提示
func (g *OpenAIGenerator) buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event: %s\nSubject: %s\nWorld time: %d\n",
		req.EventType, req.EntityName, req.WorldTime)
	if len(req.Participants) > 0 {
		fmt.Fprintf(&b, "Also involved: %s\n", strings.Join(req.Participants, ", "))
	}
	if req.Guidance != "" {
		fmt.Fprintf(&b, "Tone guidance: %s\n", req.Guidance)
	}
	return b.String()
}

// NewGeneratorFromConfig 根据配置选择生成器实现
func NewGeneratorFromConfig(cfg *config.NarrativeConfig) Generator {
	if cfg != nil && cfg.Provider == "openai" && cfg.APIKey != "" {
		return NewOpenAIGenerator(cfg)
	}
	return NewTemplateGenerator()
}
