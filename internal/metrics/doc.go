/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、LLM 流、
回复编排、语音合成与识别、上下文增强、主动播报以及缓存七个维度。

# 核心类型

  - Collector：指标收集器，通过 promauto 自动注册，按 namespace 隔离。

所有 Record* / Set* 方法对 nil 接收者安全，未启用指标的组件可直接传 nil。
*/
package metrics
