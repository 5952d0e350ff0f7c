// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"resto-ops-api/internal/domain/entity"
)

// SchemaMappingRepository 隔离单元映射仓储接口
type SchemaMappingRepository interface {
	// Create 记录租户与 Schema 的映射，tenant_id 唯一约束保证不会重复供给
	Create(ctx context.Context, mapping *entity.TenantSchema) error

	// GetByTenantID 获取租户的隔离单元映射
	GetByTenantID(ctx context.Context, tenantID string) (*entity.TenantSchema, error)

	// Deactivate 停用映射（注销租户时调用，不删除）
	Deactivate(ctx context.Context, tenantID string) error
}
