// Package metrics 提供 Prometheus 指标采集功能
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "living_world"
)

var (
	// HTTP 请求指标
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// 业务指标 - 时间轴
	TimelineAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timeline",
			Name:      "appends_total",
			Help:      "Total number of timeline event appends",
		},
		[]string{"entity_kind", "status"},
	)

	TimelineEventsQueried = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timeline",
			Name:      "events_queried_total",
			Help:      "Total number of timeline events read",
		},
		[]string{"entity_kind"},
	)

	// 业务指标 - 世界演化
	EvolutionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "runs_total",
			Help:      "Total number of world evolution runs",
		},
		[]string{"trigger", "status"}, // trigger: scheduled/choice
	)

	EvolutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "duration_seconds",
			Help:      "World evolution run duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"trigger"},
	)

	EvolutionEventsGenerated = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "evolution",
			Name:      "events_generated",
			Help:      "Events generated per evolution batch",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250},
		},
		[]string{"trigger"},
	)

	// 业务指标 - 玩家选择
	ChoicesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "choice",
			Name:      "processed_total",
			Help:      "Total number of player choices processed",
		},
		[]string{"category", "status"}, // status: committed/rejected/failed
	)

	ConsequencesPropagated = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "choice",
			Name:      "consequences_propagated",
			Help:      "Consequences propagated per choice",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"category"},
	)

	// 安全网关指标
	SafetyGateVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "safety",
			Name:      "verdicts_total",
			Help:      "Total number of safety gate verdicts",
		},
		[]string{"verdict"}, // approved/rejected/error
	)

	SafetyGateDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "safety",
			Name:      "call_duration_seconds",
			Help:      "Safety gate call duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"verdict"},
	)

	// 缓存指标
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache lookups by outcome",
		},
		[]string{"namespace", "outcome"}, // outcome: hit/miss/stale
	)

	CacheInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Total number of cache invalidations",
		},
		[]string{"namespace"},
	)

	// 队列指标
	RedisStreamLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "stream_lag",
			Help:      "Redis stream consumer lag",
		},
		[]string{"stream", "consumer_group"},
	)

	RedisStreamProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "stream_processed_total",
			Help:      "Total number of Redis stream messages processed",
		},
		[]string{"stream", "status"},
	)

	// 一致性与修复指标
	ConsistencyChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consistency",
			Name:      "checks_total",
			Help:      "Total number of world consistency checks",
		},
		[]string{"status"}, // ok/violation
	)

	RepairRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consistency",
			Name:      "repair_runs_total",
			Help:      "Total number of world repair (replay) runs",
		},
		[]string{"status"},
	)

	// 活跃世界指标
	ActiveWorlds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "world",
			Name:      "active",
			Help:      "Current number of registered active worlds",
		},
	)
)
