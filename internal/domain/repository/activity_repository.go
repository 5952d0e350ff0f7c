// Package repository 定义数据访问层接口
package repository

import (
	"context"
	"time"

	"resto-ops-api/internal/domain/entity"
)

// ActivityRepository 活动记录仓储接口（仅追加）
type ActivityRepository interface {
	// Create 写入一条活动记录
	Create(ctx context.Context, record *entity.ActivityRecord) error

	// ListRecent 获取租户近期活动（since 为窗口起点）
	ListRecent(ctx context.Context, tenantID string, since time.Time, limit int) ([]*entity.ActivityRecord, error)

	// CountByType 按活动类型统计
	CountByType(ctx context.Context, tenantID string, since time.Time) (map[string]int64, error)
}
