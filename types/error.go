package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode 对外暴露的错误码，出现在错误信封的 error.code 里
type ErrorCode string

// 请求与传输
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// 本机协作服务（llama / piper / whisper / 视觉守护进程 / 搜索 / 数据库）
const (
	ErrUpstreamError       ErrorCode = "UPSTREAM_ERROR"
	ErrInferenceFailed     ErrorCode = "INFERENCE_FAILED"
	ErrSynthesisFailed     ErrorCode = "SYNTHESIS_FAILED"
	ErrTranscriptionFailed ErrorCode = "TRANSCRIPTION_FAILED"
	ErrVisionUnavailable   ErrorCode = "VISION_UNAVAILABLE"
	ErrSearchFailed        ErrorCode = "SEARCH_FAILED"
	ErrPersistenceFailed   ErrorCode = "PERSISTENCE_FAILED"
)

var codeStatus = map[ErrorCode]int{
	ErrInvalidRequest:      http.StatusBadRequest,
	ErrUnauthorized:        http.StatusUnauthorized,
	ErrForbidden:           http.StatusForbidden,
	ErrNotFound:            http.StatusNotFound,
	ErrRateLimited:         http.StatusTooManyRequests,
	ErrTimeout:             http.StatusGatewayTimeout,
	ErrServiceUnavailable:  http.StatusServiceUnavailable,
	ErrInferenceFailed:     http.StatusServiceUnavailable,
	ErrVisionUnavailable:   http.StatusServiceUnavailable,
	ErrUpstreamError:       http.StatusBadGateway,
	ErrSynthesisFailed:     http.StatusBadGateway,
	ErrTranscriptionFailed: http.StatusBadGateway,
	ErrSearchFailed:        http.StatusBadGateway,
}

// HTTPStatus 错误码的默认状态码，未登记的一律 500
func (c ErrorCode) HTTPStatus() int {
	if s, ok := codeStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error 带错误码的错误。HTTPStatus 为 0 时按 Code 推导。
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Upstream   string    `json:"upstream,omitempty"`
	Cause      error     `json:"-"`
}

func (e *Error) Error() string {
	msg := "[" + string(e.Code) + "] " + e.Message
	if e.Cause == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status 实际要写出的 HTTP 状态码
func (e *Error) Status() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return e.Code.HTTPStatus()
}

// NewError 创建错误
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithUpstream 记录出错的协作服务名（llama、piper、whisper、vision…）
func (e *Error) WithUpstream(name string) *Error {
	e.Upstream = name
	return e
}

// AsError 沿错误链查找 *Error
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// IsRetryable 链上没有 *Error 时为 false
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	return ok && e.Retryable
}

// GetErrorCode 链上没有 *Error 时返回空串
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode err 的错误链上是否带有 code
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
