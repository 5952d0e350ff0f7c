// Package handler 提供 HTTP 请求处理器
package handler

import (
	"resto-ops-api/internal/application/tenancy"
	"resto-ops-api/internal/domain/entity"
	"resto-ops-api/internal/domain/repository"
	"resto-ops-api/internal/interfaces/http/dto"
	"resto-ops-api/internal/interfaces/http/middleware"
	apperrors "resto-ops-api/pkg/errors"
	"resto-ops-api/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TenantHandler 租户管理处理器
type TenantHandler struct {
	admin     *tenancy.AdminService
	collector *tenancy.Collector
}

// NewTenantHandler 创建租户管理处理器
func NewTenantHandler(admin *tenancy.AdminService, collector *tenancy.Collector) *TenantHandler {
	return &TenantHandler{
		admin:     admin,
		collector: collector,
	}
}

// CreateTenant 创建租户
// @Summary 创建租户
// @Description 创建租户并按隔离策略供给隔离单元，API Key 仅在本响应中完整下发一次
// @Tags Tenants
// @Accept json
// @Produce json
// @Param body body dto.CreateTenantRequest true "租户信息"
// @Success 201 {object} dto.Response[dto.TenantCreatedResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/tenants [post]
func (h *TenantHandler) CreateTenant(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	tenant, err := h.admin.CreateTenant(ctx, req.ToInput())
	if err != nil {
		logger.Error(ctx, "failed to create tenant", err, "slug", req.Slug)
		dto.AppError(c, err)
		return
	}

	resp := dto.TenantCreatedResponse{
		TenantResponse: dto.ToTenantResponse(tenant),
		APIKey:         tenant.APIKey,
	}
	dto.Created(c, resp)
}

// ListTenants 租户列表
// @Summary 租户列表
// @Description 按状态与隔离策略过滤的分页租户列表
// @Tags Tenants
// @Produce json
// @Success 200 {object} dto.Response[[]dto.TenantResponse]
// @Router /v1/tenants [get]
func (h *TenantHandler) ListTenants(c *gin.Context) {
	ctx := c.Request.Context()

	var query dto.ListTenantsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		dto.BadRequest(c, "invalid query: "+err.Error())
		return
	}

	filter := repository.TenantFilter{
		Status:   entity.TenantStatus(query.Status),
		Strategy: entity.IsolationStrategy(query.Strategy),
	}
	pagination := repository.NewPagination(query.Page, query.PageSize)

	result, err := h.admin.ListTenants(ctx, filter, pagination)
	if err != nil {
		logger.Error(ctx, "failed to list tenants", err)
		dto.AppError(c, err)
		return
	}

	meta := dto.NewPageMeta(result.Page, result.PageSize, int(result.Total))
	dto.SuccessWithPage(c, dto.ToTenantResponses(result.Items), meta)
}

// GetTenant 查询单个租户
// @Summary 查询租户
// @Description 租户详情及其运营指标，指标聚合失败时仅返回详情
// @Tags Tenants
// @Produce json
// @Success 200 {object} dto.Response[dto.TenantDetailResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/tenants/{tid} [get]
func (h *TenantHandler) GetTenant(c *gin.Context) {
	ctx := c.Request.Context()

	tenant, err := h.admin.GetTenant(ctx, c.Param("tid"))
	if err != nil {
		dto.AppError(c, err)
		return
	}

	detail := dto.TenantDetailResponse{TenantResponse: dto.ToTenantResponse(tenant)}
	if m, err := h.collector.Metrics(ctx, tenant.ID, 0); err != nil {
		logger.Warn(ctx, "tenant metrics unavailable for detail response",
			"tenant_id", tenant.ID, "error", err)
	} else {
		detail.Metrics = m
	}
	dto.Success(c, detail)
}

// UpdateTenant 更新租户元数据
// @Summary 更新租户
// @Description 修改名称、套餐与配额，隔离策略不可在此修改
// @Tags Tenants
// @Accept json
// @Produce json
// @Param body body dto.UpdateTenantRequest true "更新内容"
// @Success 200 {object} dto.Response[dto.TenantResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/tenants/{tid} [put]
func (h *TenantHandler) UpdateTenant(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.UpdateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	tenant, err := h.admin.UpdateTenant(ctx, c.Param("tid"), req.ToInput())
	if err != nil {
		logger.Error(ctx, "failed to update tenant", err, "tenant_id", c.Param("tid"))
		dto.AppError(c, err)
		return
	}
	dto.Success(c, dto.ToTenantResponse(tenant))
}

// DeleteTenant 终止或删除租户
// @Summary 终止租户
// @Description 默认软终止：进入终止态并失去路由能力，数据保留；force=true 时物理删除元数据行
// @Tags Tenants
// @Produce json
// @Param force query bool false "物理删除"
// @Success 204
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/tenants/{tid} [delete]
func (h *TenantHandler) DeleteTenant(c *gin.Context) {
	ctx := c.Request.Context()
	tid := c.Param("tid")

	var err error
	if c.Query("force") == "true" {
		err = h.admin.DeleteTenant(ctx, tid)
	} else {
		err = h.admin.TerminateTenant(ctx, tid)
	}
	if err != nil {
		logger.Error(ctx, "failed to remove tenant", err,
			"tenant_id", tid, "force", c.Query("force"))
		dto.AppError(c, err)
		return
	}
	dto.NoContent(c)
}

// RotateAPIKey 轮换租户 API Key
// @Summary 轮换 API Key
// @Description 生成新 Key 并使旧 Key 立即失效，新 Key 仅在本响应中下发一次
// @Tags Tenants
// @Produce json
// @Success 200 {object} dto.Response[dto.APIKeyRotatedResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/tenants/{tid}/regenerate-api-key [post]
func (h *TenantHandler) RotateAPIKey(c *gin.Context) {
	ctx := c.Request.Context()

	tenant, err := h.admin.RotateAPIKey(ctx, c.Param("tid"))
	if err != nil {
		logger.Error(ctx, "failed to rotate api key", err, "tenant_id", c.Param("tid"))
		dto.AppError(c, err)
		return
	}
	dto.Success(c, dto.APIKeyRotatedResponse{
		TenantID: tenant.ID,
		APIKey:   tenant.APIKey,
	})
}

// MigrateStrategy 策略迁移
// @Summary 隔离策略迁移
// @Description 生成迁移计划；实际数据搬迁尚未实现，plan_only=false 时返回 501
// @Tags Tenants
// @Accept json
// @Produce json
// @Param body body dto.MigrateStrategyRequest true "目标策略"
// @Success 200 {object} dto.Response[tenancy.MigrationPlan]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 501 {object} dto.ErrorResponse
// @Router /v1/tenants/{tid}/migrate-strategy [post]
func (h *TenantHandler) MigrateStrategy(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.MigrateStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	target := entity.IsolationStrategy(req.TargetStrategy)

	if !req.ConfirmMigration {
		plan, err := h.admin.PlanStrategyMigration(ctx, c.Param("tid"), target)
		if err != nil {
			dto.AppError(c, err)
			return
		}
		dto.Success(c, plan)
		return
	}

	if err := h.admin.MigrateStrategy(ctx, c.Param("tid"), target); err != nil {
		if !apperrors.IsCode(err, apperrors.CodeMigrationNotImplemented) {
			logger.Error(ctx, "strategy migration rejected", err, "tenant_id", c.Param("tid"))
		}
		dto.AppError(c, err)
		return
	}
}

// GetMetrics 租户运营指标
// @Summary 租户指标
// @Description 聚合租户的实体行数与近期活动，结果短暂缓存
// @Tags Tenants
// @Produce json
// @Success 200 {object} dto.Response[tenancy.TenantMetrics]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/tenants/{tid}/metrics [get]
func (h *TenantHandler) GetMetrics(c *gin.Context) {
	ctx := c.Request.Context()

	var query dto.MetricsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		dto.BadRequest(c, "invalid query: "+err.Error())
		return
	}

	m, err := h.collector.Metrics(ctx, c.Param("tid"), query.Days)
	if err != nil {
		logger.Error(ctx, "failed to collect tenant metrics", err, "tenant_id", c.Param("tid"))
		dto.AppError(c, err)
		return
	}
	dto.Success(c, m)
}

// GetCurrentTenant 获取当前租户信息
// @Summary 当前租户资料
// @Description 获取请求上下文对应租户的详细信息
// @Tags Tenants
// @Produce json
// @Success 200 {object} dto.Response[dto.TenantResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/tenants/current [get]
func (h *TenantHandler) GetCurrentTenant(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := middleware.GetTenantIDFromGin(c)

	tenant, err := h.admin.GetTenant(ctx, tenantID)
	if err != nil {
		dto.AppError(c, err)
		return
	}
	dto.Success(c, dto.ToTenantResponse(tenant))
}
