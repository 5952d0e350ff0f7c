// Package entity 定义领域实体
package entity

import "time"

// TenantSchema 隔离单元映射
// 记录 dedicated_schema 租户与物理 Schema 的对应关系
// Schema 一经创建不再改名，租户注销时仅停用、不删除
type TenantSchema struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID   string    `json:"tenant_id" gorm:"uniqueIndex;not null;size:36"`
	SchemaName string    `json:"schema_name" gorm:"not null;size:100"`
	Active     bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName 表名
func (TenantSchema) TableName() string {
	return "tenant_schemas"
}
