// Package router 提供 HTTP 路由配置
package router

import (
	"resto-ops-api/internal/interfaces/http/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(v1 *gin.RouterGroup, deps Deps) {
	// 租户管理（管理面）：只操作主目录库元数据，
	// 走请求级事务保证元数据与隔离单元供给的原子性
	// 租户自助视角：凭 API Key 或会话查看自己的资料
	self := v1.Group("/tenants")
	self.Use(middleware.RequireTenant())
	self.Use(middleware.DBTransaction(deps.TxManager, deps.TenantCtx))
	{
		self.GET("/current", deps.Tenants.GetCurrentTenant)
	}

	tenants := v1.Group("/tenants")
	tenants.Use(middleware.RequireRole("admin", "operator"))
	tenants.Use(middleware.DBTransaction(deps.TxManager, deps.TenantCtx))
	{
		tenants.GET("", deps.Tenants.ListTenants)
		tenants.POST("", deps.Tenants.CreateTenant)
		tenants.GET("/:tid", deps.Tenants.GetTenant)
		tenants.PUT("/:tid", deps.Tenants.UpdateTenant)
		tenants.DELETE("/:tid", deps.Tenants.DeleteTenant)
		tenants.POST("/:tid/regenerate-api-key", deps.Tenants.RotateAPIKey)
		tenants.POST("/:tid/migrate-strategy", deps.Tenants.MigrateStrategy)
		tenants.GET("/:tid/metrics", deps.Tenants.GetMetrics)
	}

	// 隔离诊断：必须带租户上下文，事务中间件在事务内盖标，
	// 诊断探针看到的即业务查询看到的可见性
	diagnostics := v1.Group("/diagnostics")
	diagnostics.Use(middleware.RequireTenant())
	diagnostics.Use(middleware.DBTransaction(deps.TxManager, deps.TenantCtx))
	{
		diagnostics.GET("/whoami", deps.Diagnostics.WhoAmI)
		diagnostics.GET("/tenant-visibility", deps.Diagnostics.TenantVisibility)
	}
}
