// Package errors 提供统一的错误定义
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeSuccess            ErrorCode = "0"
	CodeUnknown            ErrorCode = "1000"
	CodeInvalidParam       ErrorCode = "1001"
	CodeUnauthorized       ErrorCode = "1002"
	CodeForbidden          ErrorCode = "1003"
	CodeNotFound           ErrorCode = "1004"
	CodeConflict           ErrorCode = "1005"
	CodeTooManyRequests    ErrorCode = "1006"
	CodeInternalError      ErrorCode = "1007"
	CodeServiceUnavailable ErrorCode = "1008"

	// 租户路由错误 (2xxx)
	CodeTenantUnavailable       ErrorCode = "2001"
	CodeTenantConflict          ErrorCode = "2002"
	CodeInvalidStrategy         ErrorCode = "2003"
	CodeTenantContextMissing    ErrorCode = "2004"
	CodeTenantContextInvalid    ErrorCode = "2005"
	CodeRLSViolation            ErrorCode = "2006"
	CodeProvisioningFailed      ErrorCode = "2007"
	CodeMigrationNotImplemented ErrorCode = "2008"

	// 连接与资源错误 (3xxx)
	CodeAcquireTimeout ErrorCode = "3001"
	CodeHandleClosed   ErrorCode = "3002"

	// 外部服务错误 (5xxx)
	CodeDatabaseError ErrorCode = "5001"
	CodeCacheError    ErrorCode = "5002"
)

// AppError 应用错误
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Err        error     `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail 添加详细信息
func (e *AppError) WithDetail(detail string) *AppError {
	clone := *e
	clone.Detail = detail
	return &clone
}

// WithError 添加底层错误
func (e *AppError) WithError(err error) *AppError {
	clone := *e
	clone.Err = err
	return &clone
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Err:        err,
	}
}

// codeToHTTPStatus 错误码转 HTTP 状态码
func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam, CodeInvalidStrategy, CodeTenantContextMissing, CodeTenantContextInvalid:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeRLSViolation:
		return http.StatusForbidden
	case CodeNotFound, CodeTenantUnavailable:
		return http.StatusNotFound
	case CodeConflict, CodeTenantConflict:
		return http.StatusConflict
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeMigrationNotImplemented:
		return http.StatusNotImplemented
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeAcquireTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidParam       = New(CodeInvalidParam, "invalid parameter")
	ErrUnauthorized       = New(CodeUnauthorized, "unauthorized")
	ErrForbidden          = New(CodeForbidden, "forbidden")
	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrConflict           = New(CodeConflict, "resource conflict")
	ErrTooManyRequests    = New(CodeTooManyRequests, "too many requests")
	ErrInternalError      = New(CodeInternalError, "internal server error")
	ErrServiceUnavailable = New(CodeServiceUnavailable, "service unavailable")

	ErrTenantUnavailable = New(CodeTenantUnavailable, "tenant unknown or terminated")
	ErrTenantConflict    = New(CodeTenantConflict, "tenant already exists")
	ErrInvalidStrategy   = New(CodeInvalidStrategy, "unrecognized isolation strategy")
	ErrTenantContextMissing = New(CodeTenantContextMissing,
		"tenant context not set; supply the X-Tenant-ID header or an authenticated session")
	ErrTenantContextInvalid = New(CodeTenantContextInvalid, "tenant context malformed")
	ErrRLSViolation         = New(CodeRLSViolation,
		"write blocked by row security policy; ensure tenant context is set before querying")
	ErrProvisioningFailed      = New(CodeProvisioningFailed, "tenant provisioning failed")
	ErrMigrationNotImplemented = New(CodeMigrationNotImplemented,
		"strategy migration is not implemented; no data was moved")

	ErrAcquireTimeout = New(CodeAcquireTimeout, "timed out acquiring a connection")
	ErrHandleClosed   = New(CodeHandleClosed, "connection handle already closed")
)

// IsAppError 检查是否为 AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError 将错误转换为 AppError
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeUnknown, "unknown error")
}

// IsCode 检查错误是否携带指定错误码
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
