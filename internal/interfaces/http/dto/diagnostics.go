package dto

// TenantVisibilityQuery 泄漏诊断查询参数
type TenantVisibilityQuery struct {
	// Tables 待检查的表（逗号分隔），为空时使用配置的共享表集合
	Tables string `form:"tables"`
	// Detail 是否返回逐表明细
	Detail bool `form:"detail,default=true"`
}

// ListTenantsQuery 租户列表查询参数
type ListTenantsQuery struct {
	Status   string `form:"status"`
	Strategy string `form:"strategy"`
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20"`
}

// MetricsQuery 租户指标查询参数
type MetricsQuery struct {
	Days int `form:"days,default=7" binding:"omitempty,min=1,max=90"`
}
