// Package config 提供配置加载和管理功能
package config

import (
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Engine        EngineConfig        `yaml:"engine" mapstructure:"engine"`
	Safety        SafetyConfig        `yaml:"safety" mapstructure:"safety"`
	Narrative     NarrativeConfig     `yaml:"narrative" mapstructure:"narrative"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Security      SecurityConfig      `yaml:"security" mapstructure:"security"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPServerConfig `yaml:"http" mapstructure:"http"`
}

// HTTPServerConfig HTTP 服务器配置
type HTTPServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	RetryLimit      int           `yaml:"retry_limit" mapstructure:"retry_limit"`
	RetryBackoff    BackoffConfig `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis         RedisConfig   `yaml:"redis" mapstructure:"redis"`
	WorldStateTTL time.Duration `yaml:"world_state_ttl" mapstructure:"world_state_ttl"`
	TimelineTTL   time.Duration `yaml:"timeline_ttl" mapstructure:"timeline_ttl"`
	EntityTTL     time.Duration `yaml:"entity_ttl" mapstructure:"entity_ttl"`
	MetricsTTL    time.Duration `yaml:"metrics_ttl" mapstructure:"metrics_ttl"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// EngineConfig 世界引擎配置
type EngineConfig struct {
	Evolution EvolutionConfig `yaml:"evolution" mapstructure:"evolution"`
	Choice    ChoiceConfig    `yaml:"choice" mapstructure:"choice"`
	History   HistoryConfig   `yaml:"history" mapstructure:"history"`
}

// EvolutionConfig 后台演化配置
type EvolutionConfig struct {
	// DefaultInterval 世界默认演化周期
	DefaultInterval time.Duration `yaml:"default_interval" mapstructure:"default_interval"`
	// MaxBatchEvents 单次演化批次生成事件上限
	MaxBatchEvents int `yaml:"max_batch_events" mapstructure:"max_batch_events"`
	// MaxParallelWorlds 并行演化的世界数上限
	MaxParallelWorlds int `yaml:"max_parallel_worlds" mapstructure:"max_parallel_worlds"`
	// BatchTimeout 单个世界演化批次的超时
	BatchTimeout time.Duration `yaml:"batch_timeout" mapstructure:"batch_timeout"`
	// ScanInterval 调度器扫描到期世界的周期
	ScanInterval time.Duration `yaml:"scan_interval" mapstructure:"scan_interval"`
}

// ChoiceConfig 玩家选择处理配置
type ChoiceConfig struct {
	// PreferenceDecay 偏好向量 EMA 衰减系数 (0-1)，越大越偏向近期选择
	PreferenceDecay float64 `yaml:"preference_decay" mapstructure:"preference_decay"`
	// PropagationTimeout 后果传播事务超时
	PropagationTimeout time.Duration `yaml:"propagation_timeout" mapstructure:"propagation_timeout"`
	// MaxConsequences 单个选择的后果数量上限
	MaxConsequences int `yaml:"max_consequences" mapstructure:"max_consequences"`
}

// HistoryConfig 历史生成配置
type HistoryConfig struct {
	// DefaultDepth 实体初始历史事件默认条数
	DefaultDepth int `yaml:"default_depth" mapstructure:"default_depth"`
	// MaxDepth 历史生成事件条数上限
	MaxDepth int `yaml:"max_depth" mapstructure:"max_depth"`
}

// SafetyConfig 内容安全网关配置
type SafetyConfig struct {
	// Endpoint 网关 HTTP 地址，为空时使用放行实现
	Endpoint   string        `yaml:"endpoint" mapstructure:"endpoint"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RetryLimit int           `yaml:"retry_limit" mapstructure:"retry_limit"`
	// FailClosed 网关不可用时是否拒绝内容
	FailClosed bool `yaml:"fail_closed" mapstructure:"fail_closed"`
}

// NarrativeConfig 叙事生成器配置
type NarrativeConfig struct {
	// Provider 生成器实现：template（确定性）或 openai
	Provider   string        `yaml:"provider" mapstructure:"provider"`
	APIKey     string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL    string        `yaml:"base_url" mapstructure:"base_url"`
	Model      string        `yaml:"model" mapstructure:"model"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RetryLimit int           `yaml:"retry_limit" mapstructure:"retry_limit"`
}

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	RedisStream RedisStreamConfig `yaml:"redis_stream" mapstructure:"redis_stream"`
}

// RedisStreamConfig Redis Stream 配置
type RedisStreamConfig struct {
	MaxLen              int           `yaml:"max_len" mapstructure:"max_len"`
	ConsumerGroupPrefix string        `yaml:"consumer_group_prefix" mapstructure:"consumer_group_prefix"`
	BlockTimeout        time.Duration `yaml:"block_timeout" mapstructure:"block_timeout"`
	ClaimInterval       time.Duration `yaml:"claim_interval" mapstructure:"claim_interval"`
	RetryLimit          int           `yaml:"retry_limit" mapstructure:"retry_limit"`
	RetryBackoff        BackoffConfig `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" mapstructure:"initial"`
	Max        time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier float64       `yaml:"multiplier" mapstructure:"multiplier"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Output string `yaml:"output" mapstructure:"output"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Exporter   string  `yaml:"exporter" mapstructure:"exporter"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" mapstructure:"cors"`
	// IdempotencyTTL 幂等键保留时间
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl" mapstructure:"idempotency_ttl"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerSecond int  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int  `yaml:"burst" mapstructure:"burst"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}
