// Package middleware 提供 HTTP 中间件
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"resto-ops-api/internal/domain/repository"
	"resto-ops-api/pkg/logger"

	"github.com/gin-gonic/gin"
)

type rollbackOnlyError struct {
	status int
}

func (e rollbackOnlyError) Error() string {
	return fmt.Sprintf("rollback only: status=%d", e.status)
}

// DBTransaction 为每个 HTTP 请求自动管理主目录库事务，并设置租户安全上下文。
//
// 核心功能：
//  1. **请求级事务 (Request-Scoped Transaction)**: 将整个请求的处理过程包裹在一个数据库事务中。
//  2. **租户隔离 (RLS Context)**: 在事务开启后立即设置当前租户 ID，确保 PostgreSQL 的行级安全策略 (RLS) 生效。
//     注意：PostgreSQL 的 `set_config(..., is_local=TRUE)` 仅在当前事务内有效，因此必须绑定在事务中。
//  3. **自动提交/回滚**:
//     - 成功：HTTP 状态码 < 400 且无内部错误 -> 提交事务。
//     - 失败：HTTP 状态码 >= 400 或存在 Gin 错误 -> 回滚事务。
//
// 租户作用域的数据接口不经过这里：它们通过连接路由器
// 借出租户自己的句柄，事务与盖标由句柄的借出序列完成
func DBTransaction(tx repository.Transactor, tenantCtx repository.TenantContextManager) gin.HandlerFunc {
	if tx == nil || tenantCtx == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		// 指标拉取与健康检查不需要事务
		path := c.Request.URL.Path
		if path == "/metrics" || strings.HasPrefix(path, "/health") ||
			path == "/ready" || path == "/live" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		tenantID := GetTenantID(ctx)

		err := tx.WithTransaction(ctx, func(txCtx context.Context) error {
			// 必须在事务开启后、执行任何查询前盖租户标记，
			// 否则 FORCE 模式下所有查询都只会看到空集
			if tenantID != "" {
				if err := tenantCtx.SetTenant(txCtx, tenantID); err != nil {
					return err
				}
			}

			c.Request = c.Request.WithContext(txCtx)

			c.Next()

			status := c.Writer.Status()
			if status >= http.StatusBadRequest {
				return rollbackOnlyError{status: status}
			}
			if len(c.Errors) > 0 {
				return rollbackOnlyError{status: status}
			}
			return nil
		})

		if err == nil {
			return
		}

		// rollbackOnlyError 说明业务主动要求回滚，响应已由 Handler 写入
		var rbErr rollbackOnlyError
		if errors.As(err, &rbErr) {
			return
		}

		logger.Error(ctx, "db transaction failed", err)
		if !c.Writer.Written() && c.Writer.Status() < http.StatusBadRequest {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":     http.StatusInternalServerError,
				"message":  "internal server error",
				"trace_id": c.GetString("trace_id"),
			})
		}
	}
}
