package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/graph"
	"github.com/BaSui01/agentgraph/internal/ctxkeys"
	"github.com/BaSui01/agentgraph/types"
)

// maxBodyBytes 请求体大小上限
const maxBodyBytes = 1 << 20

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	HTTPStatus int    `json:"-"` // 不序列化到 JSON
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	// 响应头已写出，编码失败时无法再改状态码
	_ = json.NewEncoder(w).Encode(data)
}

func requestID(ctx context.Context) string {
	id, _ := ctxkeys.RequestID(ctx)
	return id
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	WriteStatus(w, r, http.StatusOK, data)
}

// WriteStatus 以指定状态码写入成功响应
func WriteStatus(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	WriteJSON(w, status, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: requestID(r.Context()),
	})
}

// WriteError 写入错误响应（从 types.Error）
func WriteError(w http.ResponseWriter, r *http.Request, err *types.Error, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(err.Code)
	}

	errorInfo := &ErrorInfo{
		Code:       string(err.Code),
		Message:    err.Message,
		Retryable:  err.Retryable,
		HTTPStatus: status,
	}
	if err.Cause != nil {
		errorInfo.Details = err.Cause.Error()
	}

	if logger != nil {
		log := logger.Warn
		if status >= http.StatusInternalServerError {
			log = logger.Error
		}
		log("API error",
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err.Cause),
		)
	}

	WriteJSON(w, status, Response{
		Success:   false,
		Error:     errorInfo,
		Timestamp: time.Now(),
		RequestID: requestID(r.Context()),
	})
}

// WriteErrorMessage 写入简单错误消息
func WriteErrorMessage(w http.ResponseWriter, r *http.Request, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, r, types.NewError(code, message).WithHTTPStatus(status), logger)
}

// WriteEngineError 把引擎返回的错误映射为 API 错误并写入
func WriteEngineError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	WriteError(w, r, FromEngineError(err), logger)
}

// FromEngineError 将 graph 包的哨兵错误映射为 types.Error
func FromEngineError(err error) *types.Error {
	if e, ok := types.AsError(err); ok {
		return e
	}

	var code types.ErrorCode
	retryable := false
	switch {
	case errors.Is(err, graph.ErrGraphNotFound):
		code = types.ErrGraphNotFound
	case errors.Is(err, graph.ErrExecutionNotFound):
		code = types.ErrExecutionNotFound
	case errors.Is(err, graph.ErrCheckpointNotFound):
		code = types.ErrCheckpointNotFound
	case errors.Is(err, graph.ErrRequestNotFound):
		code = types.ErrInputNotFound
	case errors.Is(err, graph.ErrInvalidGraph):
		code = types.ErrInvalidGraph
	case errors.Is(err, graph.ErrApprovalPending):
		code = types.ErrApprovalPending
	case errors.Is(err, graph.ErrApprovalRejected):
		code = types.ErrApprovalRejected
	case errors.Is(err, graph.ErrNotResumable):
		code = types.ErrNotResumable
	case errors.Is(err, graph.ErrExecutionBusy):
		code, retryable = types.ErrExecutionBusy, true
	case errors.Is(err, graph.ErrEngineClosed):
		code = types.ErrUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code, retryable = types.ErrTimeout, true
	default:
		code = types.ErrInternalError
	}

	msg := err.Error()
	if code == types.ErrInternalError {
		msg = "internal error"
	}
	return types.NewError(code, msg).WithCause(err).WithRetryable(retryable)
}

// =============================================================================
// 🔄 错误码到 HTTP 状态码映射
// =============================================================================

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	// 4xx 客户端错误
	case types.ErrInvalidRequest, types.ErrInvalidGraph:
		return http.StatusBadRequest
	case types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrForbidden:
		return http.StatusForbidden
	case types.ErrNotFound, types.ErrGraphNotFound, types.ErrExecutionNotFound,
		types.ErrCheckpointNotFound, types.ErrInputNotFound:
		return http.StatusNotFound
	case types.ErrApprovalPending, types.ErrApprovalRejected, types.ErrNotResumable, types.ErrExecutionBusy:
		return http.StatusConflict
	case types.ErrRateLimited:
		return http.StatusTooManyRequests

	// 5xx 服务端错误
	case types.ErrTimeout:
		return http.StatusGatewayTimeout
	case types.ErrUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrInternalError:
		return http.StatusInternalServerError

	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体。空请求体在 allowEmpty 时视为 {}。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool, logger *zap.Logger) bool {
	if r.Body == nil || r.Body == http.NoBody {
		if allowEmpty {
			return true
		}
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "request body is empty", logger)
		return false
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields() // 严格模式：拒绝未知字段

	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return true
		}
		WriteError(w, r, types.NewError(types.ErrInvalidRequest, "invalid JSON body").
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest), logger)
		return false
	}
	return true
}

// ValidateContentType 验证 Content-Type（无请求体时跳过）
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	if r.ContentLength == 0 {
		return true
	}
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		WriteErrorMessage(w, r, http.StatusUnsupportedMediaType, types.ErrInvalidRequest, "Content-Type must be application/json", logger)
		return false
	}
	return true
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode   int
	Written      bool
	BytesWritten int64
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 重写 WriteHeader 以捕获状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 重写 Write 以标记已写入
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.BytesWritten += int64(n)
	return n, err
}
