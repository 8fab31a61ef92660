// internal/api/response_helpers.go
package api

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/LoreChat/internal/errors"
	"github.com/Corphon/LoreChat/internal/models"
	"github.com/Corphon/LoreChat/internal/utils"
)

// APIResponse 统一响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct {
	metrics *utils.ChatMetrics
}

// NewResponseHelper 创建响应助手
func NewResponseHelper(metrics *utils.ChatMetrics) *ResponseHelper {
	return &ResponseHelper{metrics: metrics}
}

// Success 成功响应
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	rh.write(c, http.StatusOK, data, message)
}

// Created 创建成功响应
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}, message ...string) {
	if len(message) == 0 {
		message = []string{"资源创建成功"}
	}
	rh.write(c, http.StatusCreated, data, message)
}

func (rh *ResponseHelper) write(c *gin.Context, status int, data interface{}, message []string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	}
	if len(message) > 0 {
		response.Message = message[0]
	}
	c.JSON(status, response)
}

// sanitizeErrorMessage 去掉可能包含金钥的内容
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, pattern := range []string{"api_key", "apikey", "secret", "bearer ", "sk-"} {
		if strings.Contains(lower, pattern) {
			return "An internal error occurred"
		}
	}
	return message
}

// Error 错误响应
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	rh.errorWithData(c, statusCode, errorCode, message, nil, details...)
}

func (rh *ResponseHelper) errorWithData(c *gin.Context, statusCode int, errorCode, message string, data interface{}, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: sanitizeErrorMessage(message),
	}
	if len(details) > 0 && details[0] != "" {
		apiError.Details = sanitizeErrorMessage(details[0])
	}

	c.JSON(statusCode, &APIResponse{
		Success:   false,
		Data:      data,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	})
}

// HandleError 按 AppError 类型选择状态码和错误代码
func (rh *ResponseHelper) HandleError(c *gin.Context, err error) {
	rh.HandleErrorWithData(c, err, nil)
}

// HandleErrorWithData 同 HandleError，同时返回已写入的部分结果（例如保存为错误消息的回复）
func (rh *ResponseHelper) HandleErrorWithData(c *gin.Context, err error, data interface{}) {
	status := errors.HTTPStatus(err)
	message := err.Error()
	details := ""

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		message = appErr.Message
		if appErr.Err != nil {
			details = appErr.Err.Error()
		}
		if appErr.Type == errors.ErrorTypeTransport && appErr.Body != "" {
			details = utils.Truncate(appErr.Body, 500)
		}
	}

	if status >= http.StatusInternalServerError {
		utils.GetLogger().Error("请求处理失败", map[string]interface{}{
			"path":       c.FullPath(),
			"request_id": getRequestID(c),
			"error":      err.Error(),
		})
		if rh.metrics != nil {
			rh.metrics.RecordError(string(errors.TypeOf(err)), "api")
		}
	}

	rh.errorWithData(c, status, errors.CodeOf(err), message, data, details)
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// InvalidJSON 请求体无法解析
func (rh *ResponseHelper) InvalidJSON(c *gin.Context, err error) {
	rh.Error(c, http.StatusBadRequest, ErrorInvalidJSON, "请求格式错误", err.Error())
}

// NotFound 404错误响应
func (rh *ResponseHelper) NotFound(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusNotFound, ErrorNotFound, message, details...)
}

// InternalError 500错误响应
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, details...)
}

// ExportResponse 导出响应，download 为真时以附件返回
func (rh *ResponseHelper) ExportResponse(c *gin.Context, result *models.ExportResult, download bool) {
	if !download {
		rh.Success(c, result, "导出成功")
		return
	}
	contentType := "text/markdown; charset=utf-8"
	if result.Format == "html" {
		contentType = "text/html; charset=utf-8"
	}
	rh.DownloadResponse(c, []byte(result.Content), result.FileName, contentType)
}

// DownloadResponse 下载响应（强制下载）
func (rh *ResponseHelper) DownloadResponse(c *gin.Context, content []byte, filename string, contentType string) {
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Content-Length", fmt.Sprintf("%d", len(content)))
	c.Data(http.StatusOK, contentType, content)
}

// getRequestID 获取请求ID
func getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
