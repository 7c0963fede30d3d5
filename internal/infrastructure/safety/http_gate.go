// Package safety 提供内容安全网关接入
package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"living-world-engine/internal/config"
	apperrors "living-world-engine/pkg/errors"
	"living-world-engine/pkg/logger"
	"living-world-engine/pkg/metrics"
)

var tracer = otel.Tracer("safety")

// HTTPGate 外部安全网关的 HTTP 客户端。
// 网关不可用时按 FailClosed 决定默认裁决：fail_closed 拒绝并给出
// 安全叙事，否则放行。
type HTTPGate struct {
	endpoint   string
	failClosed bool
	retryLimit int
	httpClient *http.Client
}

// NewHTTPGate 创建 HTTP 网关客户端
func NewHTTPGate(cfg *config.SafetyConfig) *HTTPGate {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	retryLimit := cfg.RetryLimit
	if retryLimit <= 0 {
		retryLimit = 2
	}

	return &HTTPGate{
		endpoint:   cfg.Endpoint,
		failClosed: cfg.FailClosed,
		retryLimit: retryLimit,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// validateRequest 网关请求体
type validateRequest struct {
	Content string            `json:"content"`
	Context map[string]string `json:"context,omitempty"`
}

// Validate 调用网关裁决内容
func (g *HTTPGate) Validate(ctx context.Context, content string, choiceContext map[string]string) (*Verdict, error) {
	ctx, span := tracer.Start(ctx, "safety.Validate")
	defer span.End()

	start := time.Now()

	body, err := json.Marshal(validateRequest{Content: content, Context: choiceContext})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal validate request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= g.retryLimit; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}

		verdict, err := g.call(ctx, body)
		if err == nil {
			label := "rejected"
			if verdict.Approved {
				label = "approved"
			}
			span.SetAttributes(attribute.Bool("safety.approved", verdict.Approved))
			metrics.SafetyGateVerdicts.WithLabelValues(label).Inc()
			metrics.SafetyGateDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
			return verdict, nil
		}
		lastErr = err
	}

	span.RecordError(lastErr)
	metrics.SafetyGateVerdicts.WithLabelValues("error").Inc()
	metrics.SafetyGateDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
	logger.Warn(ctx, "safety gate unavailable, applying default verdict",
		"fail_closed", g.failClosed,
		"error", lastErr.Error(),
	)

	if g.failClosed {
		return &Verdict{
			Approved:          false,
			Reason:            "safety gate unavailable",
			FallbackNarrative: "一阵莫名的犹豫让这个念头没有付诸行动。",
		}, nil
	}
	return &Verdict{Approved: true}, nil
}

// call 执行单次网关调用
func (g *HTTPGate) call(ctx context.Context, body []byte) (*Verdict, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build gate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.CodeSafetyGateError,
			fmt.Sprintf("gate returned status %d", resp.StatusCode))
	}

	var verdict Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("failed to decode gate response: %w", err)
	}
	return &verdict, nil
}

// NewGateFromConfig 根据配置选择网关实现；endpoint 为空时使用放行实现
func NewGateFromConfig(cfg *config.SafetyConfig) Gate {
	if cfg == nil || cfg.Endpoint == "" {
		return NewPermissiveGate()
	}
	return NewHTTPGate(cfg)
}
