/*
Package handlers 实现 KYRONEX HTTP 接口的请求处理器。

# 核心类型

  - ChatHandler    — /api/chat、/api/chat/stream（SSE 或 NDJSON）、/api/vision、/api/reset
  - SpeechHandler  — /api/stt，multipart 音频识别，低置信度重试
  - ProfileHandler — 设备档案、会话心跳、连接统计与记忆
  - PushHandler    — 主动播报与对话监控 WebSocket，警戒模式开关
  - HealthHandler  — /api/health 推理探活，/healthz、/ready 探针
  - AudioHandler   — /audio/{name} 合成音频
  - Identity       — 从请求识别设备（X-Device-ID 头或 ARP 解析的 MAC）

# 响应约定

成功时返回各接口自身的 JSON 结构，与网页前端兼容；失败时统一
返回 Response 信封（success=false + error{code, message, retryable}），
HTTP 状态码由 types.ErrorCode 映射。请求体解析宽松，忽略未知字段。
*/
package handlers
