// Package entity 定义领域实体
package entity

import (
	"time"

	"github.com/google/uuid"
)

// IsolationStrategy 租户数据隔离策略
type IsolationStrategy string

const (
	// StrategySharedStorage 共享存储 + 行级安全策略
	StrategySharedStorage IsolationStrategy = "shared_storage"
	// StrategyDedicatedSchema 独立 Schema
	StrategyDedicatedSchema IsolationStrategy = "dedicated_schema"
	// StrategyDedicatedDatabase 独立数据库
	StrategyDedicatedDatabase IsolationStrategy = "dedicated_database"
)

// Valid 检查策略是否为枚举值之一
func (s IsolationStrategy) Valid() bool {
	switch s {
	case StrategySharedStorage, StrategyDedicatedSchema, StrategyDedicatedDatabase:
		return true
	}
	return false
}

// TenantStatus 租户状态
type TenantStatus string

const (
	TenantStatusActive     TenantStatus = "active"
	TenantStatusTerminated TenantStatus = "terminated"
)

// Tenant 租户实体
// APIKey 与 DatabaseDSN 属于敏感字段，永不进入 JSON 响应
type Tenant struct {
	ID           string            `json:"id" gorm:"primaryKey;size:36"`
	Name         string            `json:"name" gorm:"not null;size:200"`
	Slug         string            `json:"slug" gorm:"uniqueIndex;not null;size:100"`
	Strategy     IsolationStrategy `json:"strategy" gorm:"not null;size:30;index"`
	Status       TenantStatus      `json:"status" gorm:"not null;size:20;index;default:'active'"`
	Tier         string            `json:"tier" gorm:"size:30;default:'standard'"`
	MaxLocations int               `json:"max_locations" gorm:"default:10"`
	MaxUsers     int               `json:"max_users" gorm:"default:50"`
	APIKey       string            `json:"-" gorm:"uniqueIndex;size:100;column:api_key"`
	DatabaseDSN  string            `json:"-" gorm:"column:database_dsn"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// TableName 表名
func (Tenant) TableName() string {
	return "tenants"
}

// NewTenant 创建新租户
func NewTenant(name, slug string, strategy IsolationStrategy) *Tenant {
	now := time.Now()
	return &Tenant{
		ID:           uuid.NewString(),
		Name:         name,
		Slug:         slug,
		Strategy:     strategy,
		Status:       TenantStatusActive,
		Tier:         "standard",
		MaxLocations: 10,
		MaxUsers:     50,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsActive 检查租户是否活跃
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}
