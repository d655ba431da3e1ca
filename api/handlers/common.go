package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/types"
)

// maxBodyBytes JSON 请求体上限
const maxBodyBytes = 1 << 20

// =============================================================================
// 📦 响应信封
// =============================================================================

// Response 错误信封。业务接口成功时直接输出各自的结构（前端依赖原始形状），
// 只有 WriteSuccess 才包一层。
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorInfo 信封里的 error 字段
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteJSON 写出状态码与 JSON 体
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 200 + 信封
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, Response{Success: true, Data: data, Timestamp: time.Now()})
}

// WriteError 按错误码写出信封；5xx 记 Error，其余记 Warn
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := err.Status()
	if logger != nil {
		log := logger.Warn
		if status >= http.StatusInternalServerError {
			log = logger.Error
		}
		log("API error",
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.Bool("retryable", err.Retryable),
			zap.NamedError("cause", err.Cause),
		)
	}

	WriteJSON(w, status, Response{
		Error: &ErrorInfo{
			Code:      string(err.Code),
			Message:   err.Message,
			Retryable: err.Retryable,
		},
		Timestamp: time.Now(),
	})
}

// WriteErrorMessage 显式状态码的简写
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, types.NewError(code, message).WithHTTPStatus(status), logger)
}

// writeAnyError 非 *types.Error 的错误按内部错误处理，细节只进日志
func writeAnyError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var apiErr *types.Error
	if !errors.As(err, &apiErr) {
		apiErr = types.NewError(types.ErrInternalError, "erreur interne").WithCause(err)
	}
	WriteError(w, apiErr, logger)
}

// =============================================================================
// 🛡️ 请求辅助
// =============================================================================

// DecodeJSONBody 解码请求体，超过 1 MB 截断。未知字段忽略（前端会多带字段）。
// 失败时已写出 400，调用方直接 return。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) error {
	var cause error
	if r.Body == nil || r.Body == http.NoBody {
		cause = io.EOF
	} else {
		cause = json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	}
	if cause == nil {
		return nil
	}
	apiErr := types.NewError(types.ErrInvalidRequest, "JSON invalide").WithCause(cause)
	WriteError(w, apiErr, logger)
	return apiErr
}

// ClientIP 对端地址的 IP 部分，不看转发头
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
