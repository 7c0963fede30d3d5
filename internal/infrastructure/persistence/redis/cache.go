// Package redis 提供 Redis 缓存实现
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	apperrors "living-world-engine/pkg/errors"
	"living-world-engine/pkg/metrics"
)

var cacheTracer = otel.Tracer("redis.cache")

// 世界缓存键约定。实体与时间轴条目都挂在 world:{id}: 前缀下，
// 整世界失效只需一次模式扫描。实体键按种类分段：
// world:{id}:character/{location,object}:{id}。
const (
	keyWorldState     = "world:%s:state"
	keyWorldMetrics   = "world:%s:metrics"
	keyEntityState    = "world:%s:%s:%s"
	keyTimelineRecent = "world:%s:timeline:%s:recent"
	keyWorldPattern   = "world:%s:*"
)

// WorldStateKey 世界状态缓存键
func WorldStateKey(worldID string) string {
	return fmt.Sprintf(keyWorldState, worldID)
}

// WorldMetricsKey 世界统计缓存键
func WorldMetricsKey(worldID string) string {
	return fmt.Sprintf(keyWorldMetrics, worldID)
}

// EntityStateKey 实体状态缓存键，kind 取实体种类标记
func EntityStateKey(worldID, kind, entityID string) string {
	return fmt.Sprintf(keyEntityState, worldID, kind, entityID)
}

// TimelineRecentKey 实体近期时间轴缓存键
func TimelineRecentKey(worldID, entityID string) string {
	return fmt.Sprintf(keyTimelineRecent, worldID, entityID)
}

// envelope 缓存条目信封；ver 取世界写版本号作为新鲜度栅栏
type envelope struct {
	Ver  int64           `json:"ver"`
	Data json.RawMessage `json:"data"`
}

// WorldCache 世界状态缓存。
// 条目携带写入时的世界版本号；读取方带上权威版本号即可识别落后条目，
// 落后条目按未命中处理并回源，绝不向调用方返回陈旧数据。
type WorldCache struct {
	client *Client
	group  singleflight.Group
}

// NewWorldCache 创建世界缓存
func NewWorldCache(client *Client) *WorldCache {
	return &WorldCache{client: client}
}

// Get 读取缓存条目。minVer 为调用方已知的权威世界版本；
// 条目版本落后时返回 ErrCacheDesync，调用方应回源并回填。
// minVer 传 0 表示接受任何版本。
func (c *WorldCache) Get(ctx context.Context, namespace, key string, minVer int64, dest interface{}) error {
	ctx, span := cacheTracer.Start(ctx, "cache.Get",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	raw, err := c.client.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			span.SetAttributes(attribute.Bool("cache.hit", false))
			metrics.CacheHitsTotal.WithLabelValues(namespace, "miss").Inc()
			return err
		}
		span.RecordError(err)
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		span.RecordError(err)
		metrics.CacheHitsTotal.WithLabelValues(namespace, "miss").Inc()
		return redis.Nil
	}

	if minVer > 0 && env.Ver < minVer {
		span.SetAttributes(
			attribute.Bool("cache.hit", false),
			attribute.Int64("cache.entry_ver", env.Ver),
			attribute.Int64("cache.min_ver", minVer),
		)
		metrics.CacheHitsTotal.WithLabelValues(namespace, "stale").Inc()
		return apperrors.ErrCacheDesync.WithDetail(
			fmt.Sprintf("entry version %d behind store version %d", env.Ver, minVer))
	}

	span.SetAttributes(attribute.Bool("cache.hit", true))
	metrics.CacheHitsTotal.WithLabelValues(namespace, "hit").Inc()
	return json.Unmarshal(env.Data, dest)
}

// Set 写入带版本号的缓存条目
func (c *WorldCache) Set(ctx context.Context, key string, ver int64, value interface{}, ttl time.Duration) error {
	ctx, span := cacheTracer.Start(ctx, "cache.Set",
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.Int64("cache.ver", ver),
			attribute.Int64("cache.ttl_ms", ttl.Milliseconds()),
		))
	defer span.End()

	data, err := json.Marshal(value)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	raw, err := json.Marshal(envelope{Ver: ver, Data: data})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	return c.client.rdb.Set(ctx, key, raw, ttl).Err()
}

// GetOrLoad Read-Through 缓存模式，singleflight 合并并发回源。
// loader 返回权威数据及其版本号；未命中与版本落后都走回源路径。
func (c *WorldCache) GetOrLoad(ctx context.Context, namespace, key string, minVer int64, ttl time.Duration, dest interface{}, loader func() (interface{}, int64, error)) error {
	ctx, span := cacheTracer.Start(ctx, "cache.GetOrLoad",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	err := c.Get(ctx, namespace, key, minVer, dest)
	if err == nil {
		return nil
	}
	if err != redis.Nil && !apperrors.Is(err, apperrors.CodeCacheDesync) {
		span.RecordError(err)
		return err
	}

	raw, err, shared := c.group.Do(key, func() (interface{}, error) {
		data, ver, err := loader()
		if err != nil {
			return nil, err
		}

		bytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}

		envBytes, err := json.Marshal(envelope{Ver: ver, Data: bytes})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal envelope: %w", err)
		}

		// 回填失败不影响返回结果
		if err := c.client.rdb.Set(ctx, key, envBytes, ttl).Err(); err != nil {
			span.RecordError(err)
		}

		return bytes, nil
	})

	span.SetAttributes(attribute.Bool("cache.shared", shared))

	if err != nil {
		span.RecordError(err)
		return err
	}

	return json.Unmarshal(raw.([]byte), dest)
}

// Delete 删除缓存条目
func (c *WorldCache) Delete(ctx context.Context, namespace string, keys ...string) error {
	ctx, span := cacheTracer.Start(ctx, "cache.Delete",
		trace.WithAttributes(attribute.Int("cache.key_count", len(keys))))
	defer span.End()

	metrics.CacheInvalidationsTotal.WithLabelValues(namespace).Add(float64(len(keys)))
	return c.client.rdb.Del(ctx, keys...).Err()
}

// InvalidatePattern 按模式使缓存失效
func (c *WorldCache) InvalidatePattern(ctx context.Context, namespace, pattern string) error {
	ctx, span := cacheTracer.Start(ctx, "cache.InvalidatePattern",
		trace.WithAttributes(attribute.String("cache.pattern", pattern)))
	defer span.End()

	iter := c.client.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return err
	}

	if len(keys) > 0 {
		span.SetAttributes(attribute.Int("cache.invalidated_count", len(keys)))
		metrics.CacheInvalidationsTotal.WithLabelValues(namespace).Add(float64(len(keys)))
		return c.client.rdb.Del(ctx, keys...).Err()
	}

	return nil
}

// InvalidateEntity 使实体相关缓存失效
func (c *WorldCache) InvalidateEntity(ctx context.Context, worldID, kind, entityID string) error {
	return c.Delete(ctx, "entity",
		EntityStateKey(worldID, kind, entityID),
		TimelineRecentKey(worldID, entityID),
	)
}

// InvalidateWorld 使整个世界的缓存失效。
// 必须在存储层提交之后调用，先失效后提交会让并发读回填旧值。
func (c *WorldCache) InvalidateWorld(ctx context.Context, worldID string) error {
	return c.InvalidatePattern(ctx, "world", fmt.Sprintf(keyWorldPattern, worldID))
}
