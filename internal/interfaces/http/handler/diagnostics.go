package handler

import (
	"strings"

	"resto-ops-api/internal/application/tenancy"
	"resto-ops-api/internal/interfaces/http/dto"
	"resto-ops-api/internal/interfaces/http/middleware"
	"resto-ops-api/pkg/logger"

	"github.com/gin-gonic/gin"
)

// DiagnosticsHandler 隔离诊断处理器
//
// 这些接口跑在请求级事务内，事务中间件已经按解析出的
// 租户盖好了标记，诊断看到的就是业务查询会看到的世界
type DiagnosticsHandler struct {
	enforcer *tenancy.Enforcer
}

// NewDiagnosticsHandler 创建隔离诊断处理器
func NewDiagnosticsHandler(enforcer *tenancy.Enforcer) *DiagnosticsHandler {
	return &DiagnosticsHandler{enforcer: enforcer}
}

// WhoAmI 连接身份探针
// @Summary 连接身份
// @Description 报告数据库角色、RLS 生效状态与当前租户上下文
// @Tags Diagnostics
// @Produce json
// @Success 200 {object} dto.Response[tenancy.WhoAmIReport]
// @Router /v1/diagnostics/whoami [get]
func (h *DiagnosticsHandler) WhoAmI(c *gin.Context) {
	ctx := c.Request.Context()

	report, err := h.enforcer.WhoAmI(ctx)
	if err != nil {
		logger.Error(ctx, "whoami probe failed", err)
		dto.AppError(c, err)
		return
	}
	dto.Success(c, report)
}

// TenantVisibility 越权可见性诊断
// @Summary 泄漏诊断
// @Description 统计当前租户上下文下可见但不属于该租户的行，未设置上下文时拒绝
// @Tags Diagnostics
// @Produce json
// @Param tables query string false "待检查的表（逗号分隔）"
// @Param detail query bool false "是否返回逐表明细"
// @Success 200 {object} dto.Response[tenancy.LeakReport]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/diagnostics/tenant-visibility [get]
func (h *DiagnosticsHandler) TenantVisibility(c *gin.Context) {
	ctx := c.Request.Context()

	var query dto.TenantVisibilityQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		dto.BadRequest(c, "invalid query: "+err.Error())
		return
	}

	var tables []string
	if query.Tables != "" {
		for _, t := range strings.Split(query.Tables, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tables = append(tables, t)
			}
		}
	}

	tenantID := middleware.GetTenantIDFromGin(c)

	report, err := h.enforcer.Diagnose(ctx, tenantID, tables)
	if err != nil {
		logger.Error(ctx, "leak diagnosis failed", err, "tenant_id", tenantID)
		dto.AppError(c, err)
		return
	}
	if !query.Detail {
		report.Tables = nil
	}
	dto.Success(c, report)
}
