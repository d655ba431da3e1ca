package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/agent/language"
	"github.com/BaSui01/kyronex/agent/persistence"
	"github.com/BaSui01/kyronex/api"
	"github.com/BaSui01/kyronex/types"
)

// ProfileStore 设备档案读写
type ProfileStore interface {
	ProfileReader
	SetName(ctx context.Context, deviceKey, name, lang string) (string, error)
	SetLang(ctx context.Context, deviceKey, lang string) error
}

// MemoryStore 记忆事实
type MemoryStore interface {
	Facts(ctx context.Context) []persistence.MemoryFact
	AddFact(ctx context.Context, fact, user string) (int64, error)
}

// SessionLanguages 会话级语言偏好，*conversation.Store 满足该接口
type SessionLanguages interface {
	SetLanguage(id, lang string)
}

// SessionStats 心跳与连接统计
type SessionStats interface {
	Beat(ctx context.Context, hb persistence.Heartbeat) (int, bool)
	Summary(ctx context.Context) persistence.Summary
}

// =============================================================================
// 👤 设备档案 / 心跳 / 记忆 Handler
// =============================================================================

// ProfileHandler 设备档案、会话心跳与记忆接口
type ProfileHandler struct {
	profiles ProfileStore
	memory   MemoryStore
	stats    SessionStats
	sessions SessionLanguages
	identity *Identity
	logger   *zap.Logger
}

// NewProfileHandler 创建处理器
func NewProfileHandler(profiles ProfileStore, memory MemoryStore, stats SessionStats, identity *Identity, logger *zap.Logger) *ProfileHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileHandler{
		profiles: profiles,
		memory:   memory,
		stats:    stats,
		identity: identity,
		logger:   logger.With(zap.String("component", "profile_handler")),
	}
}

// WithSessions 设置后 /api/set-lang 带 session_id 时同时记录到会话
func (h *ProfileHandler) WithSessions(sessions SessionLanguages) *ProfileHandler {
	h.sessions = sessions
	return h
}

// HandleSetName 为当前设备登记名字
// @Summary 登记名字
// @Tags 设备
// @Accept json
// @Produce json
// @Param request body api.SetNameRequest true "名字与可选语言"
// @Success 200 {object} api.SetNameResponse
// @Failure 400 {object} Response "缺少名字"
// @Router /api/set-name [post]
func (h *ProfileHandler) HandleSetName(w http.ResponseWriter, r *http.Request) {
	var req api.SetNameRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "Nom requis", h.logger)
		return
	}

	ip, device := h.identity.Resolve(r)
	name, err := h.profiles.SetName(r.Context(), device, req.Name, req.Lang)
	if err != nil {
		WriteError(w, types.NewError(types.ErrPersistenceFailed, "enregistrement impossible").WithCause(err), h.logger)
		return
	}
	h.logger.Info("device named", zap.String("device", device), zap.String("ip", ip), zap.String("name", name))
	WriteJSON(w, http.StatusOK, api.SetNameResponse{OK: true, Name: name, MAC: device})
}

// HandleWhoAmI 返回当前设备的身份
// @Summary 设备身份
// @Tags 设备
// @Produce json
// @Success 200 {object} api.WhoAmIResponse
// @Router /api/whoami [get]
func (h *ProfileHandler) HandleWhoAmI(w http.ResponseWriter, r *http.Request) {
	ip, device := h.identity.Resolve(r)
	p := h.profiles.Profile(r.Context(), device)
	WriteJSON(w, http.StatusOK, api.WhoAmIResponse{Name: p.Name, MAC: device, IP: ip, Lang: p.Lang})
}

// HandleSetLang 记录语言偏好
// @Summary 语言偏好
// @Tags 设备
// @Accept json
// @Produce json
// @Param request body api.SetLangRequest true "语言代码"
// @Success 200 {object} api.SetLangResponse
// @Failure 400 {object} Response "未知语言"
// @Router /api/set-lang [post]
func (h *ProfileHandler) HandleSetLang(w http.ResponseWriter, r *http.Request) {
	var req api.SetLangRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	lang := strings.ToLower(strings.TrimSpace(req.Lang))
	if !language.IsSupported(lang) {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "Langue inconnue: "+lang, h.logger)
		return
	}

	if h.sessions != nil && req.SessionID != "" {
		h.sessions.SetLanguage(req.SessionID, lang)
	}
	_, device := h.identity.Resolve(r)
	if err := h.profiles.SetLang(r.Context(), device, lang); err != nil {
		WriteError(w, types.NewError(types.ErrPersistenceFailed, "enregistrement impossible").WithCause(err), h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, api.SetLangResponse{OK: true, Lang: lang})
}

// HandlePing 会话心跳
// @Summary 会话心跳
// @Tags 会话
// @Accept json
// @Produce json
// @Param request body api.PingRequest true "会话"
// @Success 200 {object} api.PingResponse
// @Failure 400 {object} api.PingResponse "缺少会话 ID"
// @Router /api/ping [post]
func (h *ProfileHandler) HandlePing(w http.ResponseWriter, r *http.Request) {
	// 心跳请求体可能为空或不完整，解析失败按空处理
	var req api.PingRequest
	if r.Body != nil {
		_ = json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req)
	}
	if req.SessionID == "" {
		WriteJSON(w, http.StatusBadRequest, api.PingResponse{OK: false})
		return
	}

	ip, device := h.identity.Resolve(r)
	p := h.profiles.Profile(r.Context(), device)
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = p.Name
	}
	active, _ := h.stats.Beat(r.Context(), persistence.Heartbeat{
		SessionID: req.SessionID,
		IP:        ip,
		MAC:       device,
		Name:      name,
		Lang:      p.Lang,
	})
	WriteJSON(w, http.StatusOK, api.PingResponse{OK: true, Active: active})
}

// HandleStats 连接统计
// @Summary 连接统计
// @Tags 会话
// @Produce json
// @Success 200 {object} persistence.Summary
// @Router /api/stats [get]
func (h *ProfileHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.stats.Summary(r.Context()))
}

// HandleMemory 返回全部记忆
// @Summary 记忆列表
// @Tags 记忆
// @Produce json
// @Success 200 {object} api.MemoryResponse
// @Router /api/memory [get]
func (h *ProfileHandler) HandleMemory(w http.ResponseWriter, r *http.Request) {
	facts := h.memory.Facts(r.Context())
	out := api.MemoryResponse{Facts: make([]api.MemoryFact, 0, len(facts))}
	for _, f := range facts {
		out.Facts = append(out.Facts, api.MemoryFact{Fact: f.Fact, User: f.UserName, Date: f.Day})
	}
	WriteJSON(w, http.StatusOK, out)
}

// HandleMemoryAdd 手动添加一条记忆
// @Summary 添加记忆
// @Tags 记忆
// @Accept json
// @Produce json
// @Param request body api.MemoryAddRequest true "记忆"
// @Success 200 {object} api.MemoryAddResponse
// @Failure 400 {object} Response "缺少内容"
// @Router /api/memory [post]
func (h *ProfileHandler) HandleMemoryAdd(w http.ResponseWriter, r *http.Request) {
	var req api.MemoryAddRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	fact := strings.TrimSpace(req.Fact)
	if fact == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "Fait requis", h.logger)
		return
	}
	user := strings.TrimSpace(req.User)
	if user == "" {
		user = "manual"
	}
	total, err := h.memory.AddFact(r.Context(), fact, user)
	if err != nil {
		WriteError(w, types.NewError(types.ErrPersistenceFailed, "enregistrement impossible").WithCause(err), h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, api.MemoryAddResponse{OK: true, Total: total})
}
