// Package middleware 提供 HTTP 中间件
package middleware

import (
	"context"

	"resto-ops-api/internal/application/tenancy"
	"resto-ops-api/pkg/errors"

	"github.com/gin-gonic/gin"
)

// TenantContextKey 租户上下文 Key 类型
type TenantContextKey string

const (
	// TenantIDKey 租户 ID 上下文 Key
	TenantIDKey TenantContextKey = "tenant_id"
	// StrategyKey 隔离策略上下文 Key
	StrategyKey TenantContextKey = "strategy"
)

// TenantConfig 租户解析配置
type TenantConfig struct {
	// HeaderName 承载租户 ID 的请求头
	HeaderName string
	// APIKeyHeader 承载租户 API Key 的请求头
	APIKeyHeader string
}

// Tenant 租户解析中间件
//
// 解析顺序：认证中间件写入的 JWT 声明 > 租户 ID 头 > API Key 头。
// 解析成功后把租户 ID 与隔离策略写入请求上下文；
// 解析不到时不报错也不注入任何默认值，由 RequireTenant
// 在租户作用域的路由上拒绝请求——缺失的租户上下文
// 必须是显式错误，绝不能静默落进某个兜底租户
func Tenant(cfg TenantConfig, registry *tenancy.Registry) gin.HandlerFunc {
	if cfg.HeaderName == "" {
		cfg.HeaderName = "X-Tenant-ID"
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}

	return func(c *gin.Context) {
		// 优先取认证中间件解析出的租户
		tenantID := c.GetString("tenant_id")

		if tenantID == "" {
			tenantID = c.GetHeader(cfg.HeaderName)
		}

		// 都没有时尝试 API Key
		if tenantID == "" {
			if apiKey := c.GetHeader(cfg.APIKeyHeader); apiKey != "" {
				if tenant, err := registry.GetByAPIKey(apiKey); err == nil {
					tenantID = tenant.ID
				}
			}
		}

		if tenantID != "" {
			c.Set("tenant_id", tenantID)
			ctx := context.WithValue(c.Request.Context(), TenantIDKey, tenantID)

			if tenant, err := registry.Get(tenantID); err == nil {
				c.Set("strategy", string(tenant.Strategy))
				ctx = context.WithValue(ctx, StrategyKey, string(tenant.Strategy))
			}

			c.Request = c.Request.WithContext(ctx)
		}

		c.Next()
	}
}

// RequireTenant 租户作用域路由的守门中间件
// 解析不到租户时直接拒绝
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("tenant_id") == "" {
			appErr := errors.ErrTenantContextMissing
			c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
				"code":     appErr.Code,
				"message":  appErr.Message,
				"trace_id": c.GetString("trace_id"),
			})
			return
		}
		c.Next()
	}
}

// GetTenantID 从 context 中获取租户 ID
func GetTenantID(ctx context.Context) string {
	if v := ctx.Value(TenantIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetTenantIDFromGin 从 Gin Context 中获取租户 ID
func GetTenantIDFromGin(c *gin.Context) string {
	return c.GetString("tenant_id")
}

// GetStrategyFromGin 从 Gin Context 中获取隔离策略
func GetStrategyFromGin(c *gin.Context) string {
	return c.GetString("strategy")
}
