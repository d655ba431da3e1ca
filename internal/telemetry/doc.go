// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，为 KYRONEX 提供
// 集中式的 TracerProvider 和 MeterProvider 配置，以及回复流水线各阶段的
// span 辅助函数 StartStage。遥测禁用时使用 noop 实现，不连接任何外部服务。
package telemetry
