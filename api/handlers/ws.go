package handlers

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/agent/proactive"
	"github.com/BaSui01/kyronex/api"
	"github.com/BaSui01/kyronex/types"
)

// Subscriber 订阅集合，*proactive.Hub 满足该接口
type Subscriber interface {
	Serve(ctx context.Context, conn proactive.Conn) error
}

// VigilanceSwitch 警戒模式开关
type VigilanceSwitch interface {
	SetVigilance(enabled bool)
}

// =============================================================================
// 📡 推送 Handler
// =============================================================================

// PushHandler 主动播报与对话监控的 WebSocket，以及警戒模式开关
type PushHandler struct {
	proactive Subscriber
	monitor   Subscriber
	vigilance VigilanceSwitch
	origins   []string
	logger    *zap.Logger
}

// NewPushHandler 创建处理器；origins 为允许的跨域来源模式（空表示仅同源）
func NewPushHandler(proactiveHub, monitorHub Subscriber, vigilance VigilanceSwitch, origins []string, logger *zap.Logger) *PushHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushHandler{
		proactive: proactiveHub,
		monitor:   monitorHub,
		vigilance: vigilance,
		origins:   origins,
		logger:    logger.With(zap.String("component", "push_handler")),
	}
}

// HandleProactiveWS 订阅主动播报
// @Summary 主动播报
// @Tags 推送
// @Router /api/proactive/ws [get]
func (h *PushHandler) HandleProactiveWS(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "proactive", h.proactive)
}

// HandleMonitorWS 订阅对话监控，仅允许本地地址
// @Summary 对话监控
// @Tags 推送
// @Failure 403 {object} Response "非本地地址"
// @Router /api/monitor/ws [get]
func (h *PushHandler) HandleMonitorWS(w http.ResponseWriter, r *http.Request) {
	ip := ClientIP(r)
	if !IsLocalIP(ip) {
		WriteErrorMessage(w, http.StatusForbidden, types.ErrForbidden, "Accès refusé", h.logger)
		return
	}
	h.serve(w, r, "monitor", h.monitor)
}

// HandleVigilance 开关警戒模式
// @Summary 警戒模式
// @Tags 推送
// @Accept json
// @Produce json
// @Param request body api.VigilanceRequest true "开关"
// @Success 200 {object} api.VigilanceResponse
// @Router /api/vigilance [post]
func (h *PushHandler) HandleVigilance(w http.ResponseWriter, r *http.Request) {
	var req api.VigilanceRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if h.vigilance == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrVisionUnavailable, "vigilance indisponible", h.logger)
		return
	}
	h.vigilance.SetVigilance(req.Enabled)
	WriteJSON(w, http.StatusOK, api.VigilanceResponse{Vigilance: req.Enabled})
}

// serve 升级连接并交给订阅集合；连接只写不读
func (h *PushHandler) serve(w http.ResponseWriter, r *http.Request, name string, hub Subscriber) {
	if hub == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable, name+" indisponible", h.logger)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.String("hub", name), zap.Error(err))
		return
	}
	ip := ClientIP(r)
	h.logger.Info("subscriber connected", zap.String("hub", name), zap.String("ip", ip))

	// CloseRead 丢弃客户端消息，并在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())
	if err := hub.Serve(ctx, proactive.NewWSConn(conn)); err != nil {
		h.logger.Debug("subscriber write failed", zap.String("hub", name), zap.Error(err))
	}
	conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Info("subscriber disconnected", zap.String("hub", name), zap.String("ip", ip))
}
