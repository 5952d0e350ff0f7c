// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"resto-ops-api/internal/domain/entity"
)

// SchemaMappingRepository 隔离单元映射仓储实现
type SchemaMappingRepository struct {
	client *Client
}

// NewSchemaMappingRepository 创建隔离单元映射仓储
func NewSchemaMappingRepository(client *Client) *SchemaMappingRepository {
	return &SchemaMappingRepository{client: client}
}

// Create 记录租户与 Schema 的映射
// tenant_id 上的唯一索引兜底并发供给：后写入方收到唯一约束冲突
func (r *SchemaMappingRepository) Create(ctx context.Context, mapping *entity.TenantSchema) error {
	ctx, span := tracer.Start(ctx, "postgres.SchemaMappingRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(mapping).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create schema mapping: %w", err)
	}
	return nil
}

// GetByTenantID 获取租户的隔离单元映射
func (r *SchemaMappingRepository) GetByTenantID(ctx context.Context, tenantID string) (*entity.TenantSchema, error) {
	ctx, span := tracer.Start(ctx, "postgres.SchemaMappingRepository.GetByTenantID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var mapping entity.TenantSchema
	if err := db.First(&mapping, "tenant_id = ?", tenantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get schema mapping: %w", err)
	}
	return &mapping, nil
}

// Deactivate 停用映射
func (r *SchemaMappingRepository) Deactivate(ctx context.Context, tenantID string) error {
	ctx, span := tracer.Start(ctx, "postgres.SchemaMappingRepository.Deactivate")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Model(&entity.TenantSchema{}).
		Where("tenant_id = ?", tenantID).
		Update("active", false).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to deactivate schema mapping: %w", err)
	}
	return nil
}
