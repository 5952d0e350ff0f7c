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
	Tenancy       TenancyConfig       `yaml:"tenancy" mapstructure:"tenancy"`
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

// PostgresConfig PostgreSQL 配置（主目录库）
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
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
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

// TenancyConfig 多租户路由配置
type TenancyConfig struct {
	// TenantHeader 携带租户标识的请求头
	TenantHeader string `yaml:"tenant_header" mapstructure:"tenant_header"`
	// APIKeyHeader 携带租户访问凭证的请求头
	APIKeyHeader string `yaml:"api_key_header" mapstructure:"api_key_header"`
	// SchemaPrefix 独立 Schema 的命名前缀
	SchemaPrefix string `yaml:"schema_prefix" mapstructure:"schema_prefix"`
	// SharedTables 共享存储下受 RLS 保护的租户表
	SharedTables []string `yaml:"shared_tables" mapstructure:"shared_tables"`

	Router          RouterConfig   `yaml:"router" mapstructure:"router"`
	Activity        ActivityConfig `yaml:"activity" mapstructure:"activity"`
	MetricsCacheTTL time.Duration  `yaml:"metrics_cache_ttl" mapstructure:"metrics_cache_ttl"`
}

// RouterConfig 连接路由配置
type RouterConfig struct {
	// HandleIdleTimeout 句柄空闲回收阈值
	HandleIdleTimeout time.Duration `yaml:"handle_idle_timeout" mapstructure:"handle_idle_timeout"`
	// SweepInterval 空闲回收扫描周期
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	// AcquireTimeout 连接借出超时（区别于查询超时）
	AcquireTimeout time.Duration `yaml:"acquire_timeout" mapstructure:"acquire_timeout"`
	// QueryTimeout 单次借出内查询超时
	QueryTimeout time.Duration `yaml:"query_timeout" mapstructure:"query_timeout"`
	// DedicatedMaxOpenConns 独立库连接池上限
	DedicatedMaxOpenConns int `yaml:"dedicated_max_open_conns" mapstructure:"dedicated_max_open_conns"`
	// DedicatedMaxIdleConns 独立库空闲连接上限
	DedicatedMaxIdleConns int `yaml:"dedicated_max_idle_conns" mapstructure:"dedicated_max_idle_conns"`
}

// ActivityConfig 活动采集配置
type ActivityConfig struct {
	// BufferSize 异步写缓冲大小，写满即丢弃
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size"`
	// FlushTimeout 后台落库单次写超时
	FlushTimeout time.Duration `yaml:"flush_timeout" mapstructure:"flush_timeout"`
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
	JWT       JWTConfig       `yaml:"jwt" mapstructure:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" mapstructure:"cors"`
}

// JWTConfig JWT 配置（管理面鉴权）
type JWTConfig struct {
	Secret     string        `yaml:"secret" mapstructure:"secret"`
	Issuer     string        `yaml:"issuer" mapstructure:"issuer"`
	Expiration time.Duration `yaml:"expiration" mapstructure:"expiration"`
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
