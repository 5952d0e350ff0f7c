// Package entity 定义领域实体
package entity

import "time"

// 活动类型
const (
	ActivityTenantCreated     = "tenant_created"
	ActivityTenantUpdated     = "tenant_updated"
	ActivityTenantTerminated  = "tenant_terminated"
	ActivityTenantDeleted     = "tenant_deleted"
	ActivityKeyRotated        = "api_key_rotated"
	ActivitySchemaProvisioned = "schema_provisioned"
	ActivitySchemaDeactivated = "schema_deactivated"
	ActivityMigrationPlanned  = "migration_planned"
	ActivityLeakDiagnosed     = "leak_diagnosed"
)

// ActivityRecord 租户活动记录（仅追加，不更新）
type ActivityRecord struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID     string    `json:"tenant_id" gorm:"index;not null;size:36"`
	ActivityType string    `json:"activity_type" gorm:"not null;size:50;index"`
	Payload      string    `json:"payload" gorm:"type:jsonb"`
	CreatedAt    time.Time `json:"created_at" gorm:"index"`
}

// TableName 表名
func (ActivityRecord) TableName() string {
	return "tenant_activities"
}
