package api

// =============================================================================
// 💬 对话
// =============================================================================

// ChatRequest 一次用户输入（/api/chat、/api/chat/stream、/api/vision）
// @Description 对话请求
type ChatRequest struct {
	// 用户消息
	Message string `json:"message" example:"Bonjour KITT"`
	// 会话 ID，缺省为 default
	SessionID string `json:"session_id,omitempty" example:"default"`
	// 客户端语言提示
	Lang string `json:"lang,omitempty" example:"fr"`
	// 客户端提供的用户名，优先于设备档案
	UserName string `json:"user_name,omitempty" example:"Manix"`
	// 是否需要语音，缺省 true
	Audio *bool `json:"audio,omitempty"`
}

// WantAudio 缺省需要语音
func (r *ChatRequest) WantAudio() bool {
	return r.Audio == nil || *r.Audio
}

// ChatTiming 非流式回复的耗时
type ChatTiming struct {
	LLMMs   int64 `json:"llm_ms"`
	TTSMs   int64 `json:"tts_ms"`
	TotalMs int64 `json:"total_ms"`
}

// ChatResponse 非流式回复
// @Description 对话响应
type ChatResponse struct {
	Reply     string     `json:"reply"`
	AudioURL  string     `json:"audio_url,omitempty"`
	SessionID string     `json:"session_id"`
	Lang      string     `json:"lang,omitempty"`
	Emotion   string     `json:"emotion,omitempty"`
	Timing    ChatTiming `json:"timing"`
}

// ResetRequest 清空会话
type ResetRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// StatusResponse 简单状态
type StatusResponse struct {
	Status string `json:"status"`
}

// =============================================================================
// 🎙️ 语音识别
// =============================================================================

// TranscriptionResponse /api/stt 的结果
type TranscriptionResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	STTMs    int64  `json:"stt_ms"`
	Retried  bool   `json:"retried,omitempty"`
}

// =============================================================================
// 👤 设备档案与会话
// =============================================================================

// SetNameRequest 登记名字
type SetNameRequest struct {
	Name string `json:"name"`
	Lang string `json:"lang,omitempty"`
}

// SetNameResponse 登记结果
type SetNameResponse struct {
	OK   bool   `json:"ok"`
	Name string `json:"name"`
	MAC  string `json:"mac"`
}

// WhoAmIResponse 设备身份
type WhoAmIResponse struct {
	Name string `json:"name"`
	MAC  string `json:"mac"`
	IP   string `json:"ip"`
	Lang string `json:"lang"`
}

// SetLangRequest 语言偏好
type SetLangRequest struct {
	Lang      string `json:"lang"`
	SessionID string `json:"session_id,omitempty"`
}

// SetLangResponse 语言偏好结果
type SetLangResponse struct {
	OK   bool   `json:"ok"`
	Lang string `json:"lang"`
}

// PingRequest 会话心跳，客户端每 30 秒一次
type PingRequest struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name,omitempty"`
}

// PingResponse 心跳结果
type PingResponse struct {
	OK     bool `json:"ok"`
	Active int  `json:"active,omitempty"`
}

// =============================================================================
// 🧠 记忆
// =============================================================================

// MemoryFact 一条记忆
type MemoryFact struct {
	Fact string `json:"fact"`
	User string `json:"user"`
	Date string `json:"date"`
}

// MemoryResponse 全部记忆
type MemoryResponse struct {
	Facts []MemoryFact `json:"facts"`
}

// MemoryAddRequest 手动添加记忆
type MemoryAddRequest struct {
	Fact string `json:"fact"`
	User string `json:"user,omitempty"`
}

// MemoryAddResponse 添加结果
type MemoryAddResponse struct {
	OK    bool  `json:"ok"`
	Total int64 `json:"total"`
}

// =============================================================================
// 🛰️ 警戒模式
// =============================================================================

// VigilanceRequest 开关警戒模式
type VigilanceRequest struct {
	Enabled bool `json:"enabled"`
}

// VigilanceResponse 警戒模式状态
type VigilanceResponse struct {
	Vigilance bool `json:"vigilance"`
}

// =============================================================================
// 🏥 健康
// =============================================================================

// HealthResponse /api/health 的结果
type HealthResponse struct {
	Status    string `json:"status"`
	KITT      string `json:"kitt"`
	LLMServer bool   `json:"llm_server"`
}
