/*
Package main 提供 KYRONEX 服务端程序入口。

# 概述

cmd/kyronex 启动 KITT 语音助手：HTTP 接口（流式回复、语音识别、设备资料）、
WebSocket 推送（主动播报、对话监控）、后台播报器与知识库监听。
程序支持 YAML 配置文件 + KYRONEX_ 环境变量、结构化日志（zap）、
Prometheus 指标与 OpenTelemetry 追踪。

# 核心类型

  - Server         — 持有全部组件，管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware     — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - statusRecorder — 捕获状态码，同时保留 Flush（SSE）与 Hijack（WebSocket）

# 主要能力

  - 子命令：serve、migrate（golang-migrate）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、Observe（追踪、指标、访问日志）、
    CORS、RateLimiter（基于 IP）、
    APIKeyAuth（X-API-Key，WebSocket 握手可用 ?api_key=）
  - 启动时执行数据库迁移，失败时退回 gorm AutoMigrate
  - 优雅关闭：信号 → 关闭 HTTP/Metrics → 停止后台任务与订阅流 → 关闭存储与遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
