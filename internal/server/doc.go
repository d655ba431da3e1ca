// Package server 管理 kyronex 的 HTTP 监听端口（API 与 /metrics 各一个）。
//
// Manager 包装 http.Server：Start 非阻塞，Shutdown 带超时且可重复调用，
// Serve 的异常经 Errors() 送出。Watch 同时盯住多个 Manager，
// 任一出错或 ctx 结束即返回，供进程主循环决定何时优雅关闭。
package server
