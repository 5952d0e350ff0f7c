// Package router 提供 HTTP 路由配置
package router

import (
	"resto-ops-api/internal/application/tenancy"
	"resto-ops-api/internal/config"
	"resto-ops-api/internal/domain/repository"
	"resto-ops-api/internal/interfaces/http/handler"
	"resto-ops-api/internal/interfaces/http/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps 路由依赖集合
type Deps struct {
	Registry    *tenancy.Registry
	TxManager   repository.Transactor
	TenantCtx   repository.TenantContextManager
	RateLimiter middleware.RateLimiter
	Health      *handler.HealthHandler
	Tenants     *handler.TenantHandler
	Diagnostics *handler.DiagnosticsHandler
}

// Router HTTP 路由器
type Router struct {
	engine *gin.Engine
	cfg    *config.Config
	deps   Deps
}

// New 创建新的路由器
func New(cfg *config.Config, deps Deps) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	r := &Router{
		engine: engine,
		cfg:    cfg,
		deps:   deps,
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// setupMiddleware 配置全局中间件
func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())

	r.engine.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: r.cfg.Security.CORS.AllowedOrigins,
		AllowedMethods: r.cfg.Security.CORS.AllowedMethods,
		AllowedHeaders: r.cfg.Security.CORS.AllowedHeaders,
	}))

	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name))
		r.engine.Use(middleware.TraceContext())
	}

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics())
	}

	// 认证在租户解析之前：JWT 声明里的租户优先于请求头
	r.engine.Use(middleware.Auth(middleware.AuthConfig{
		Secret:    r.cfg.Security.JWT.Secret,
		Issuer:    r.cfg.Security.JWT.Issuer,
		SkipPaths: middleware.DefaultSkipPaths,
		Enabled:   r.cfg.Security.JWT.Secret != "",
	}))

	r.engine.Use(middleware.Tenant(middleware.TenantConfig{
		HeaderName:   r.cfg.Tenancy.TenantHeader,
		APIKeyHeader: r.cfg.Tenancy.APIKeyHeader,
	}, r.deps.Registry))

	r.engine.Use(middleware.RateLimit(middleware.RateLimitConfig{
		Enabled:           r.cfg.Security.RateLimit.Enabled,
		RequestsPerSecond: r.cfg.Security.RateLimit.RequestsPerSecond,
	}, r.deps.RateLimiter))

	r.engine.Use(middleware.Audit(middleware.AuditConfig{
		Enabled:   true,
		SkipPaths: middleware.DefaultAuditSkipPaths,
	}))
}

// setupRoutes 配置路由
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.deps.Health.Health)
	r.engine.GET("/ready", r.deps.Health.Ready)
	r.engine.GET("/live", r.deps.Health.Live)

	if r.cfg.Observability.Metrics.Enabled {
		path := r.cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.engine.GET(path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.engine.Group("/v1")
	RegisterV1Routes(v1, r.deps)
}
