// Package api 定义 KYRONEX HTTP 接口的请求与响应结构。
//
// # 接口概览
//
//   - POST /api/chat          非流式回复（文本 + 整段语音）
//   - POST /api/chat/stream   流式回复（SSE，token / audio_chunk / done）
//   - POST /api/vision        强制视觉采集的流式回复
//   - POST /api/stt           语音识别（multipart 字段 audio）
//   - POST /api/reset         清空会话
//   - GET  /api/health        推理服务探活
//   - POST /api/set-name, /api/set-lang, /api/ping；GET /api/whoami, /api/stats
//   - GET/POST /api/memory    记忆
//   - GET  /api/proactive/ws  主动播报 WebSocket
//   - GET  /api/monitor/ws    对话监控 WebSocket（仅本地地址）
//   - POST /api/vigilance     警戒模式开关
//   - GET  /audio/{name}      合成音频
//
// # 鉴权
//
// 配置了 server.api_keys 时，除健康检查与静态资源外的接口需要
// X-API-Key 请求头。
package api
