// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation_error"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeError        ErrorType = "processing_error"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeTimeout      ErrorType = "timeout"

	// 前置条件不满足（未选择角色/聊天室、缺少 API 金钥等），不自动重试
	ErrorTypePrecondition ErrorType = "precondition_failed"
	// 上游 HTTP 非 2xx 或网络中断
	ErrorTypeTransport ErrorType = "transport_error"
	// 结构化内容（例如 AI 提议的场景 JSON）无法解析
	ErrorTypeParse ErrorType = "parse_error"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string

	// 仅 transport 错误使用
	StatusCode int
	Body       string
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

func NewUnauthorizedError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUnauthorized, message, originalError)
}

func NewForbiddenError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeForbidden, message, originalError)
}

func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewPreconditionError 前置条件错误，消息直接展示给用户
func NewPreconditionError(message string) *AppError {
	return NewAppError(ErrorTypePrecondition, message, nil)
}

// NewParseError 解析失败
func NewParseError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeParse, message, originalError)
}

// NewTransportError 上游返回非 2xx 时使用，保留状态码和原始响应体
func NewTransportError(message string, statusCode int, body string) *AppError {
	e := NewAppError(ErrorTypeTransport, message, nil)
	e.StatusCode = statusCode
	e.Body = body
	return e
}

func is(err error, t ErrorType) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == t
	}
	return false
}

func IsValidationError(err error) bool   { return is(err, ErrorTypeValidation) }
func IsNotFoundError(err error) bool     { return is(err, ErrorTypeNotFound) }
func IsUnauthorizedError(err error) bool { return is(err, ErrorTypeUnauthorized) }
func IsForbiddenError(err error) bool    { return is(err, ErrorTypeForbidden) }
func IsConflictError(err error) bool     { return is(err, ErrorTypeConflict) }
func IsPreconditionError(err error) bool { return is(err, ErrorTypePrecondition) }
func IsTransportError(err error) bool    { return is(err, ErrorTypeTransport) }
func IsParseError(err error) bool        { return is(err, ErrorTypeParse) }

// TypeOf 返回错误类型，非 AppError 视为处理错误
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ErrorTypeError
}

// HTTPStatus 把错误类型映射到 HTTP 状态码
func HTTPStatus(err error) int {
	switch TypeOf(err) {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypePrecondition:
		return http.StatusPreconditionFailed
	case ErrorTypeTransport:
		return http.StatusBadGateway
	case ErrorTypeParse:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf 返回用户友好的错误代码
func CodeOf(err error) string {
	var appError *AppError
	if errors.As(err, &appError) && appError.Code != "" {
		return appError.Code
	}
	return generateErrorCode(ErrorTypeError)
}

func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeUnauthorized:
		return "UNAUTHORIZED"
	case ErrorTypeForbidden:
		return "FORBIDDEN"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypePrecondition:
		return "PRECONDITION_FAILED"
	case ErrorTypeTransport:
		return "UPSTREAM_ERROR"
	case ErrorTypeParse:
		return "PARSE_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}
