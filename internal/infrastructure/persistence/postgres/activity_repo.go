// Package postgres 提供 PostgreSQL Repository 实现
package postgres

import (
	"context"
	"fmt"
	"time"

	"resto-ops-api/internal/domain/entity"
)

// ActivityRepository 活动记录仓储实现（仅追加）
type ActivityRepository struct {
	client *Client
}

// NewActivityRepository 创建活动记录仓储
func NewActivityRepository(client *Client) *ActivityRepository {
	return &ActivityRepository{client: client}
}

// Create 写入一条活动记录
func (r *ActivityRepository) Create(ctx context.Context, record *entity.ActivityRecord) error {
	ctx, span := tracer.Start(ctx, "postgres.ActivityRepository.Create")
	defer span.End()

	db := getDB(ctx, r.client.db)
	if err := db.Create(record).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create activity record: %w", err)
	}
	return nil
}

// ListRecent 获取租户近期活动
func (r *ActivityRepository) ListRecent(ctx context.Context, tenantID string, since time.Time, limit int) ([]*entity.ActivityRecord, error) {
	ctx, span := tracer.Start(ctx, "postgres.ActivityRepository.ListRecent")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}

	db := getDB(ctx, r.client.db)
	var records []*entity.ActivityRecord
	if err := db.Where("tenant_id = ? AND created_at >= ?", tenantID, since).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list recent activity: %w", err)
	}
	return records, nil
}

// CountByType 按活动类型统计
func (r *ActivityRepository) CountByType(ctx context.Context, tenantID string, since time.Time) (map[string]int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.ActivityRepository.CountByType")
	defer span.End()

	type row struct {
		ActivityType string
		Count        int64
	}

	db := getDB(ctx, r.client.db)
	var rows []row
	if err := db.Model(&entity.ActivityRecord{}).
		Select("activity_type, count(*) as count").
		Where("tenant_id = ? AND created_at >= ?", tenantID, since).
		Group("activity_type").
		Scan(&rows).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count activity by type: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.ActivityType] = r.Count
	}
	return counts, nil
}
