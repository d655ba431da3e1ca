package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/kyronex/llm"
)

// =============================================================================
// ⚠️ 错误映射
// =============================================================================

// hint 按响应消息中的关键词细分同一状态码
type hint struct {
	words     []string
	code      llm.ErrorCode
	retryable bool
}

// statusHints llama.cpp 的 400/503 需要看消息才能区分
var statusHints = map[int][]hint{
	http.StatusBadRequest: {
		{words: []string{"context", "exceeds", "too long"}, code: llm.ErrContextOverflow},
		{code: llm.ErrInvalidRequest},
	},
	http.StatusServiceUnavailable: {
		{words: []string{"loading"}, code: llm.ErrProviderUnavailable, retryable: true},
		{words: []string{"slot"}, code: llm.ErrModelOverloaded, retryable: true},
		{code: llm.ErrUpstreamError, retryable: true},
	},
	http.StatusUnauthorized:    {{code: llm.ErrUnauthorized}},
	http.StatusForbidden:       {{code: llm.ErrUnauthorized}},
	http.StatusTooManyRequests: {{code: llm.ErrRateLimited, retryable: true}},
	http.StatusGatewayTimeout:  {{code: llm.ErrUpstreamTimeout, retryable: true}},
}

// MapHTTPError 把推理服务的非 2xx 响应转成 llm.Error
func MapHTTPError(status int, msg string, provider string) *llm.Error {
	out := &llm.Error{
		Code:       llm.ErrUpstreamError,
		Message:    msg,
		HTTPStatus: status,
		Retryable:  status >= 500,
		Provider:   provider,
	}

	lower := strings.ToLower(msg)
	for _, h := range statusHints[status] {
		if len(h.words) > 0 && !containsAny(lower, h.words) {
			continue
		}
		out.Code = h.code
		out.Retryable = h.retryable
		break
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// TransportError 连接失败等网络错误，一律可重试
func TransportError(err error, provider string) *llm.Error {
	return &llm.Error{
		Code:       llm.ErrUpstreamError,
		Message:    err.Error(),
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
		Provider:   provider,
	}
}

// ReadErrorMessage 提取 {"error":{"message","type"}}，不是 JSON 时返回去空白的原文
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &envelope) != nil || envelope.Error.Message == "" {
		return strings.TrimSpace(string(data))
	}
	if envelope.Error.Type == "" {
		return envelope.Error.Message
	}
	return fmt.Sprintf("%s (type: %s)", envelope.Error.Message, envelope.Error.Type)
}

// CloseBody 关闭响应体，忽略错误
func CloseBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}

// =============================================================================
// 📦 /v1/chat/completions 线协议
// =============================================================================

// WireMessage 线上的一条消息
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
}

// CompletionRequest 请求体。top_k 之后的采样字段是 llama.cpp 扩展。
type CompletionRequest struct {
	Model         string        `json:"model"`
	Messages      []WireMessage `json:"messages"`
	MaxTokens     int           `json:"max_tokens,omitempty"`
	Temperature   float32       `json:"temperature,omitempty"`
	TopP          float32       `json:"top_p,omitempty"`
	TopK          int           `json:"top_k,omitempty"`
	MinP          float32       `json:"min_p,omitempty"`
	RepeatPenalty float32       `json:"repeat_penalty,omitempty"`
	RepeatLastN   int           `json:"repeat_last_n,omitempty"`
	Stop          []string      `json:"stop,omitempty"`
	Stream        bool          `json:"stream,omitempty"`
}

// CompletionChoice 非流式时读 Message，流式时读 Delta
type CompletionChoice struct {
	Index        int          `json:"index"`
	FinishReason string       `json:"finish_reason"`
	Message      WireMessage  `json:"message"`
	Delta        *WireMessage `json:"delta,omitempty"`
}

// CompletionUsage token 用量
type CompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse 响应体，也是每个 SSE data 帧的结构
type CompletionResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   *CompletionUsage   `json:"usage,omitempty"`
	Created int64              `json:"created,omitempty"`
}

// ToWireMessages 转换消息列表
func ToWireMessages(msgs []llm.Message) []WireMessage {
	out := make([]WireMessage, len(msgs))
	for i, m := range msgs {
		out[i] = WireMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

// ToUsage nil 时返回零值
func ToUsage(u *CompletionUsage) llm.ChatUsage {
	if u == nil {
		return llm.ChatUsage{}
	}
	return llm.ChatUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// ChooseModel 请求里的模型优先，其次配置，最后兜底名
func ChooseModel(req *llm.ChatRequest, configured, fallback string) string {
	switch {
	case req != nil && req.Model != "":
		return req.Model
	case configured != "":
		return configured
	default:
		return fallback
	}
}
