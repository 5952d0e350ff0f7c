//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	"resto-ops-api/internal/application/tenancy"
	"resto-ops-api/internal/config"
	"resto-ops-api/internal/domain/repository"
	"resto-ops-api/internal/infrastructure/persistence/postgres"
	"resto-ops-api/internal/infrastructure/persistence/redis"
	"resto-ops-api/internal/interfaces/http/handler"
	"resto-ops-api/internal/interfaces/http/middleware"
	"resto-ops-api/internal/interfaces/http/router"
)

// InitializeDataLayer 初始化数据层
func InitializeDataLayer(ctx context.Context, cfg *config.Config) (*DataLayer, func(), error) {
	wire.Build(
		RepoSet,
		RedisSet,
		wire.Struct(new(DataLayer), "*"),
	)
	return nil, nil, nil
}

// InitializeTenancyLayer 初始化租户核心组件（bootstrap 使用，不依赖 Redis）
func InitializeTenancyLayer(ctx context.Context, cfg *config.Config) (*TenancyLayer, func(), error) {
	wire.Build(
		RepoSet,
		tenancy.NewRegistry,
		ProvideEnforcer,
		ProvideProvisioner,
		wire.Struct(new(TenancyLayer), "*"),
	)
	return nil, nil, nil
}

// InitializeApp 初始化整个应用（带路由器）
func InitializeApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	wire.Build(
		RepoSet,
		RedisSet,
		TenancySet,
		RouterSet,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}

// PostgresSet PostgreSQL 提供者集合
var PostgresSet = wire.NewSet(
	ProvidePostgresClient,
	postgres.NewTxManager,
	postgres.NewTenantContext,
	postgres.NewTenantRepository,
	postgres.NewSchemaMappingRepository,
	postgres.NewActivityRepository,
)

// RepoSet 整合了具体实现与接口绑定的集合
var RepoSet = wire.NewSet(
	PostgresSet,
	wire.Bind(new(repository.Transactor), new(*postgres.TxManager)),
	wire.Bind(new(repository.TenantContextManager), new(*postgres.TenantContext)),
	wire.Bind(new(repository.TenantRepository), new(*postgres.TenantRepository)),
	wire.Bind(new(repository.SchemaMappingRepository), new(*postgres.SchemaMappingRepository)),
	wire.Bind(new(repository.ActivityRepository), new(*postgres.ActivityRepository)),
	wire.Bind(new(tenancy.SessionProvider), new(*postgres.Client)),
)

// RedisSet Redis 提供者集合
var RedisSet = wire.NewSet(
	ProvideRedisClient,
	redis.NewCache,
	redis.NewRateLimiter,
	wire.Bind(new(tenancy.MetricsCache), new(*redis.Cache)),
	wire.Bind(new(middleware.RateLimiter), new(*redis.RateLimiter)),
)

// TenancySet 租户核心组件集合
var TenancySet = wire.NewSet(
	tenancy.NewRegistry,
	ProvideEnforcer,
	ProvideConnRouter,
	ProvideProvisioner,
	ProvideCollector,
	tenancy.NewAdminService,
)

// RouterSet 路由器提供者集合
var RouterSet = wire.NewSet(
	handler.NewHealthHandler,
	handler.NewTenantHandler,
	handler.NewDiagnosticsHandler,
	wire.Struct(new(router.Deps), "*"),
	ProvideRouter,
)
