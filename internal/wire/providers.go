// Package wire 提供依赖注入配置
package wire

import (
	"resto-ops-api/internal/application/tenancy"
	"resto-ops-api/internal/config"
	"resto-ops-api/internal/domain/repository"
	"resto-ops-api/internal/infrastructure/persistence/postgres"
	"resto-ops-api/internal/infrastructure/persistence/redis"
	"resto-ops-api/internal/interfaces/http/router"
)

// App 组装完成的应用
//
// Router 直接对外服务；ConnRouter 与 Collector 带有后台协程，
// 由入口统一 Start/Stop
type App struct {
	Router     *router.Router
	Registry   *tenancy.Registry
	ConnRouter *tenancy.ConnRouter
	Collector  *tenancy.Collector
}

// DataLayer 数据层依赖容器
type DataLayer struct {
	// PostgreSQL（主目录库）
	PgClient      *postgres.Client
	TxManager     *postgres.TxManager
	TenantContext *postgres.TenantContext
	TenantRepo    *postgres.TenantRepository
	SchemaRepo    *postgres.SchemaMappingRepository
	ActivityRepo  *postgres.ActivityRepository

	// Redis
	RedisClient *redis.Client
	Cache       *redis.Cache
	RateLimiter *redis.RateLimiter
}

// TenancyLayer 租户核心组件容器（bootstrap 使用）
type TenancyLayer struct {
	PgClient    *postgres.Client
	TxManager   *postgres.TxManager
	TenantCtx   *postgres.TenantContext
	TenantRepo  *postgres.TenantRepository
	Registry    *tenancy.Registry
	Enforcer    *tenancy.Enforcer
	Provisioner *tenancy.Provisioner
}

// ProvidePostgresClient 提供 PostgreSQL 客户端
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClient 提供 Redis 客户端
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		client.Close()
	}
	return client, cleanup, nil
}

// ProvideEnforcer 提供 RLS 安全执行器
func ProvideEnforcer(sessions tenancy.SessionProvider, tenantCtx repository.TenantContextManager, cfg *config.Config) *tenancy.Enforcer {
	return tenancy.NewEnforcer(sessions, tenantCtx, cfg.Tenancy.SharedTables)
}

// ProvideConnRouter 提供连接路由器
// 执行器兼任共享存储策略的盖标器
func ProvideConnRouter(
	registry *tenancy.Registry,
	schemas repository.SchemaMappingRepository,
	client *postgres.Client,
	enforcer *tenancy.Enforcer,
	cfg *config.Config,
) *tenancy.ConnRouter {
	return tenancy.NewConnRouter(registry, schemas, client.DB(), enforcer, cfg.Tenancy.Router)
}

// ProvideProvisioner 提供 Schema 供给器
func ProvideProvisioner(sessions tenancy.SessionProvider, mappings repository.SchemaMappingRepository, cfg *config.Config) *tenancy.Provisioner {
	return tenancy.NewProvisioner(sessions, mappings, cfg.Tenancy.SchemaPrefix)
}

// ProvideCollector 提供活动采集器
func ProvideCollector(
	activities repository.ActivityRepository,
	connRouter *tenancy.ConnRouter,
	cache tenancy.MetricsCache,
	cfg *config.Config,
) *tenancy.Collector {
	return tenancy.NewCollector(activities, connRouter, cache, cfg.Tenancy)
}

// ProvideRouter 提供 HTTP 路由器
func ProvideRouter(cfg *config.Config, deps router.Deps) *router.Router {
	return router.New(cfg, deps)
}
