package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/agent/orchestrator"
	"github.com/BaSui01/kyronex/api"
	"github.com/BaSui01/kyronex/types"
)

// VisionPrompt /api/vision 未带消息时的默认问题
const VisionPrompt = "Que vois-tu ?"

// =============================================================================
// 💬 对话接口 Handler
// =============================================================================

// Replier 回复编排器，*orchestrator.Orchestrator 满足该接口
type Replier interface {
	Reply(ctx context.Context, req orchestrator.TurnRequest, em orchestrator.Emitter) (*orchestrator.Outcome, error)
	Complete(ctx context.Context, req orchestrator.TurnRequest) (*orchestrator.Outcome, error)
}

// SessionResetter 清空会话历史
type SessionResetter interface {
	Reset(id string) bool
}

// ChatHandler 对话接口处理器
type ChatHandler struct {
	replier  Replier
	sessions SessionResetter
	identity *Identity
	logger   *zap.Logger
}

// NewChatHandler 创建对话处理器
func NewChatHandler(replier Replier, sessions SessionResetter, identity *Identity, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		replier:  replier,
		sessions: sessions,
		identity: identity,
		logger:   logger.With(zap.String("component", "chat_handler")),
	}
}

// HandleChat 非流式回复
// @Summary 对话
// @Tags 对话
// @Accept json
// @Produce json
// @Param request body api.ChatRequest true "对话请求"
// @Success 200 {object} api.ChatResponse
// @Failure 400 {object} Response "消息为空"
// @Failure 503 {object} Response "推理服务不可用"
// @Router /api/chat [post]
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "Message vide", h.logger)
		return
	}

	oc, err := h.replier.Complete(r.Context(), h.turnRequest(r, &req))
	if err != nil {
		writeAnyError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, api.ChatResponse{
		Reply:     oc.Reply,
		AudioURL:  oc.AudioRef,
		SessionID: oc.SessionID,
		Lang:      oc.Lang,
		Emotion:   string(oc.Emotion),
		Timing: api.ChatTiming{
			LLMMs:   oc.Timing.LLMMs,
			TTSMs:   oc.Timing.TTSMs,
			TotalMs: oc.Timing.TotalMs,
		},
	})
}

// HandleStream 流式回复
// @Summary 流式对话
// @Description SSE 事件：token {"token"}；segment {"audio_chunk","chunk_text"}；done {"done","timing"}；
// @Description 响应头写出后失败时为 error {"error":{"code","message"}}。
// @Description Accept: application/x-ndjson 或 ?format=ndjson 时改为每行一个 JSON（无事件名）。
// @Tags 对话
// @Accept json
// @Produce text/event-stream
// @Param request body api.ChatRequest true "对话请求"
// @Success 200 {string} string "事件流"
// @Failure 400 {object} Response "消息为空"
// @Router /api/chat/stream [post]
func (h *ChatHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "Message vide", h.logger)
		return
	}
	h.stream(w, r, h.turnRequest(r, &req))
}

// HandleVision 强制视觉采集后流式回复
// @Summary 视觉对话
// @Tags 对话
// @Accept json
// @Produce text/event-stream
// @Param request body api.ChatRequest true "对话请求（消息可为空）"
// @Success 200 {string} string "事件流"
// @Router /api/vision [post]
func (h *ChatHandler) HandleVision(w http.ResponseWriter, r *http.Request) {
	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		req.Message = VisionPrompt
	}
	tr := h.turnRequest(r, &req)
	tr.ForceVision = true
	h.stream(w, r, tr)
}

// HandleReset 清空会话
// @Summary 重置会话
// @Tags 对话
// @Accept json
// @Produce json
// @Param request body api.ResetRequest true "会话"
// @Success 200 {object} api.StatusResponse
// @Router /api/reset [post]
func (h *ChatHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	var req api.ResetRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}
	if h.sessions != nil {
		h.sessions.Reset(req.SessionID)
	}
	h.logger.Info("session reset", zap.String("session_id", req.SessionID))
	WriteJSON(w, http.StatusOK, api.StatusResponse{Status: "conversation réinitialisée"})
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (h *ChatHandler) turnRequest(r *http.Request, req *api.ChatRequest) orchestrator.TurnRequest {
	ip, device := h.identity.Resolve(r)
	return orchestrator.TurnRequest{
		Text:      req.Message,
		LangHint:  req.Lang,
		SessionID: req.SessionID,
		DeviceKey: device,
		IP:        ip,
		UserName:  req.UserName,
		WantAudio: req.WantAudio(),
	}
}

func (h *ChatHandler) stream(w http.ResponseWriter, r *http.Request, tr orchestrator.TurnRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, types.NewError(types.ErrInternalError, "streaming not supported"), h.logger)
		return
	}

	em := newStreamEmitter(w, flusher, wantsNDJSON(r))
	em.writeHeaders()

	if _, err := h.replier.Reply(r.Context(), tr, em); err != nil {
		// 响应头已写出，错误只能作为事件发出
		h.logger.Warn("stream reply failed", zap.String("session_id", tr.SessionID), zap.Error(err))
		_ = em.emitError(r.Context(), err)
	}
}

func wantsNDJSON(r *http.Request) bool {
	if r.URL.Query().Get("format") == "ndjson" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/x-ndjson")
}

// =============================================================================
// 📡 流式事件写出
// =============================================================================

// errStreamGone 客户端已断开
var errStreamGone = errors.New("stream: client gone")

// streamEmitter 把回复事件写成 SSE 记录或 NDJSON 行
type streamEmitter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	ndjson  bool
}

func newStreamEmitter(w http.ResponseWriter, flusher http.Flusher, ndjson bool) *streamEmitter {
	return &streamEmitter{w: w, flusher: flusher, ndjson: ndjson}
}

func (e *streamEmitter) writeHeaders() {
	if e.ndjson {
		e.w.Header().Set("Content-Type", "application/x-ndjson")
	} else {
		e.w.Header().Set("Content-Type", "text/event-stream")
	}
	e.w.Header().Set("Cache-Control", "no-cache")
	e.w.Header().Set("Connection", "keep-alive")
	e.w.Header().Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲
	e.w.WriteHeader(http.StatusOK)
	e.flusher.Flush()
}

// streamError error 事件的载荷
type streamError struct {
	Error ErrorInfo `json:"error"`
}

// Emit 实现 orchestrator.Emitter
func (e *streamEmitter) Emit(ctx context.Context, ev orchestrator.Event) error {
	return e.write(ctx, ev.Kind(), ev)
}

// emitError 非 *types.Error 的细节不外泄
func (e *streamEmitter) emitError(ctx context.Context, err error) error {
	var apiErr *types.Error
	if !errors.As(err, &apiErr) {
		apiErr = types.NewError(types.ErrInternalError, "erreur interne")
	}
	return e.write(ctx, "error", streamError{Error: ErrorInfo{
		Code:      string(apiErr.Code),
		Message:   apiErr.Message,
		Retryable: apiErr.Retryable,
	}})
}

// write SSE 记录为 "event: <name>\ndata: <json>\n\n"，NDJSON 只写 JSON 行
func (e *streamEmitter) write(ctx context.Context, name string, v any) error {
	if ctx.Err() != nil {
		return errStreamGone
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	var buf []byte
	if e.ndjson {
		buf = append(payload, '\n')
	} else {
		buf = make([]byte, 0, len(name)+len(payload)+16)
		buf = append(buf, "event: "...)
		buf = append(buf, name...)
		buf = append(buf, "\ndata: "...)
		buf = append(buf, payload...)
		buf = append(buf, '\n', '\n')
	}
	if _, err := e.w.Write(buf); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}
