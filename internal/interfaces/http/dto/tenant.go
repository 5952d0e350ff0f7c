package dto

import (
	"time"

	"resto-ops-api/internal/application/tenancy"
	"resto-ops-api/internal/domain/entity"
	"resto-ops-api/pkg/utils"
)

// CreateTenantRequest 创建租户请求
// API Key 与时间戳由服务端生成，请求体不接受
type CreateTenantRequest struct {
	Name         string `json:"name" binding:"required,min=1,max=200"`
	Slug         string `json:"slug" binding:"required,min=2,max=100"`
	Strategy     string `json:"strategy" binding:"required"`
	Tier         string `json:"tier"`
	MaxLocations int    `json:"max_locations" binding:"omitempty,min=1"`
	MaxUsers     int    `json:"max_users" binding:"omitempty,min=1"`
	DatabaseDSN  string `json:"database_dsn"`
}

// ToInput 转换为应用层输入
func (r *CreateTenantRequest) ToInput() tenancy.CreateTenantInput {
	return tenancy.CreateTenantInput{
		Name:         r.Name,
		Slug:         r.Slug,
		Strategy:     entity.IsolationStrategy(r.Strategy),
		Tier:         r.Tier,
		MaxLocations: r.MaxLocations,
		MaxUsers:     r.MaxUsers,
		DatabaseDSN:  r.DatabaseDSN,
	}
}

// UpdateTenantRequest 更新租户请求
// Slug 与隔离策略不可在此修改，策略变更必须走迁移接口
type UpdateTenantRequest struct {
	Name         *string `json:"name" binding:"omitempty,min=1,max=200"`
	Tier         *string `json:"tier"`
	MaxLocations *int    `json:"max_locations" binding:"omitempty,min=1"`
	MaxUsers     *int    `json:"max_users" binding:"omitempty,min=1"`
}

// ToInput 转换为应用层输入
func (r *UpdateTenantRequest) ToInput() tenancy.UpdateTenantInput {
	return tenancy.UpdateTenantInput{
		Name:         r.Name,
		Tier:         r.Tier,
		MaxLocations: r.MaxLocations,
		MaxUsers:     r.MaxUsers,
	}
}

// MigrateStrategyRequest 策略迁移请求
type MigrateStrategyRequest struct {
	TargetStrategy string `json:"target_strategy" binding:"required"`
	// ConfirmMigration 为 false 时只生成迁移计划，
	// 为 true 时尝试执行（当前必然返回未实现）
	ConfirmMigration bool `json:"confirm_migration"`
}

// TenantResponse 租户响应
// 敏感字段不回传：API Key 只在创建与轮换响应中出现一次
type TenantResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	Strategy     string    `json:"strategy"`
	Status       string    `json:"status"`
	Tier         string    `json:"tier"`
	MaxLocations int       `json:"max_locations"`
	MaxUsers     int       `json:"max_users"`
	APIKeyMasked string    `json:"api_key_masked,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TenantDetailResponse 租户详情响应，附带运营指标
// 指标聚合失败时省略，不拖垮详情本身
type TenantDetailResponse struct {
	TenantResponse
	Metrics *tenancy.TenantMetrics `json:"metrics,omitempty"`
}

// TenantCreatedResponse 创建租户响应，唯一一次完整下发 API Key
type TenantCreatedResponse struct {
	TenantResponse
	APIKey string `json:"api_key"`
}

// APIKeyRotatedResponse Key 轮换响应
type APIKeyRotatedResponse struct {
	TenantID string `json:"tenant_id"`
	APIKey   string `json:"api_key"`
}

// ToTenantResponse 实体转响应
func ToTenantResponse(t *entity.Tenant) TenantResponse {
	return TenantResponse{
		ID:           t.ID,
		Name:         t.Name,
		Slug:         t.Slug,
		Strategy:     string(t.Strategy),
		Status:       string(t.Status),
		Tier:         t.Tier,
		MaxLocations: t.MaxLocations,
		MaxUsers:     t.MaxUsers,
		APIKeyMasked: utils.MaskAPIKey(t.APIKey),
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

// ToTenantResponses 实体列表转响应列表
func ToTenantResponses(tenants []*entity.Tenant) []TenantResponse {
	out := make([]TenantResponse, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, ToTenantResponse(t))
	}
	return out
}
