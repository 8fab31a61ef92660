// internal/api/error_codes.go
package api

// API错误代码常量。服务层错误的代码由 errors.CodeOf 生成
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorInvalidJSON   = "INVALID_JSON"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorUnauthorized  = "UNAUTHORIZED"

	// 限流
	ErrorRateLimitExceeded = "RATE_LIMIT_EXCEEDED"

	// 请求参数
	ErrorMissingSession   = "MISSING_SESSION"
	ErrorInvalidParameter = "INVALID_PARAMETER"
	ErrorImportTooLarge   = "IMPORT_TOO_LARGE"
)
