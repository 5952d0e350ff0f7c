// Package repository 定义数据访问层接口
package repository

import "context"

// TenantContextManager 租户上下文管理接口（用于 PostgreSQL RLS）
// 会话级租户标记仅在当前事务内有效，跨借出不保留，
// 因此每次连接借出都必须重新设置
type TenantContextManager interface {
	// SetTenant 设置当前租户上下文
	SetTenant(ctx context.Context, tenantID string) error
	// GetCurrentTenant 获取当前租户上下文，未设置时返回空串
	GetCurrentTenant(ctx context.Context) (string, error)
	// ClearTenant 清除当前租户上下文
	ClearTenant(ctx context.Context) error
}
