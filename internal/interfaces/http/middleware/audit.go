// Package middleware 提供 HTTP 中间件
package middleware

import (
	"time"

	"resto-ops-api/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AuditConfig 审计配置
type AuditConfig struct {
	// Enabled 是否启用审计
	Enabled bool
	// SkipPaths 跳过审计的路径
	SkipPaths []string
}

// Audit 审计日志中间件
// 记录每个请求的租户、策略与处理结果，用于排查跨租户问题
func Audit(cfg AuditConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	skipMap := make(map[string]bool)
	for _, path := range cfg.SkipPaths {
		skipMap[path] = true
	}

	return func(c *gin.Context) {
		if skipMap[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()

		c.Next()

		duration := time.Since(start)

		logger.Info(c.Request.Context(), "api request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", duration.Milliseconds(),
			"ip", c.ClientIP(),
			"tenant_id", c.GetString("tenant_id"),
			"strategy", c.GetString("strategy"),
			"request_id", c.GetString("request_id"),
			"trace_id", c.GetString("trace_id"),
			"body_size", c.Writer.Size(),
		)
	}
}

// DefaultAuditSkipPaths 默认跳过审计的路径
var DefaultAuditSkipPaths = []string{
	"/health",
	"/ready",
	"/live",
	"/metrics",
}
