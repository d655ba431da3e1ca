package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 Prometheus 指标收集器
// =============================================================================

// Collector 指标收集器。
// 所有 Record* 方法对 nil 接收者安全，未启用指标时组件可直接传 nil。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// LLM 流式指标
	llmStreamsTotal     *prometheus.CounterVec
	llmFirstToken       prometheus.Histogram
	llmStreamDuration   *prometheus.HistogramVec
	llmPromptTokens     prometheus.Histogram
	llmFilteredSegments prometheus.Counter
	llmBreakerState     prometheus.Gauge
	llmBreakerTrips     prometheus.Counter

	// 回复编排指标
	turnsTotal       *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
	stateTransitions *prometheus.CounterVec
	replyEmotions    *prometheus.CounterVec

	// 语音指标
	synthesisTotal    *prometheus.CounterVec
	synthesisDuration *prometheus.HistogramVec
	transcribeTotal   *prometheus.CounterVec

	// 上下文增强指标
	enrichmentBlocks *prometheus.CounterVec
	functionCalls    *prometheus.CounterVec

	// 主动播报指标
	proactiveEvents    *prometheus.CounterVec
	proactiveDeferrals prometheus.Counter
	subscribers        *prometheus.GaugeVec

	// 缓存 / 会话指标
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	activeSessions prometheus.Gauge

	logger *zap.Logger
}

// factory 给所有指标统一加 namespace，注册到默认 registry
type factory struct {
	auto promauto.Factory
	ns   string
}

func (f factory) counter(name, help string) prometheus.Counter {
	return f.auto.NewCounter(prometheus.CounterOpts{Namespace: f.ns, Name: name, Help: help})
}

func (f factory) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return f.auto.NewCounterVec(prometheus.CounterOpts{Namespace: f.ns, Name: name, Help: help}, labels)
}

func (f factory) gauge(name, help string) prometheus.Gauge {
	return f.auto.NewGauge(prometheus.GaugeOpts{Namespace: f.ns, Name: name, Help: help})
}

func (f factory) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return f.auto.NewGaugeVec(prometheus.GaugeOpts{Namespace: f.ns, Name: name, Help: help}, labels)
}

func (f factory) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return f.auto.NewHistogram(prometheus.HistogramOpts{Namespace: f.ns, Name: name, Help: help, Buckets: buckets})
}

func (f factory) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return f.auto.NewHistogramVec(prometheus.HistogramOpts{Namespace: f.ns, Name: name, Help: help, Buckets: buckets}, labels)
}

// NewCollector 同一 namespace 在进程内只能创建一次（promauto 重复注册会 panic）
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := factory{auto: promauto.With(prometheus.DefaultRegisterer), ns: namespace}

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),

		httpRequestsTotal:   f.counterVec("http_requests_total", "Total number of HTTP requests", "method", "path", "status"),
		httpRequestDuration: f.histogramVec("http_request_duration_seconds", "HTTP request duration in seconds", prometheus.DefBuckets, "method", "path"),

		llmStreamsTotal:     f.counterVec("llm_streams_total", "Total number of LLM completion streams", "status"),
		llmFirstToken:       f.histogram("llm_first_token_seconds", "Time until the first visible LLM token", []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16}),
		llmStreamDuration:   f.histogramVec("llm_stream_duration_seconds", "LLM stream duration in seconds", []float64{0.5, 1, 2, 5, 10, 20, 40, 80}, "status"),
		llmPromptTokens:     f.histogram("llm_prompt_tokens", "Estimated prompt size in tokens", prometheus.ExponentialBuckets(64, 2, 8)),
		llmFilteredSegments: f.counter("llm_meta_segments_dropped_total", "Reasoning blocks and control tokens removed from the stream"),
		llmBreakerState:     f.gauge("llm_breaker_state", "LLM circuit breaker state (0 closed, 1 open, 2 half-open)"),
		llmBreakerTrips:     f.counter("llm_breaker_trips_total", "Times the LLM circuit breaker opened"),

		turnsTotal:       f.counterVec("reply_turns_total", "Total number of reply turns by path and status", "path", "status"),
		turnDuration:     f.histogramVec("reply_turn_duration_seconds", "Reply turn duration in seconds", []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40, 80}, "path"),
		stateTransitions: f.counterVec("reply_state_transitions_total", "Reply state machine transitions", "from", "to"),
		replyEmotions:    f.counterVec("reply_emotions_total", "Classified emotion of completed replies", "emotion"),

		synthesisTotal:    f.counterVec("tts_segments_total", "Total number of synthesized segments", "language", "status"),
		synthesisDuration: f.histogramVec("tts_segment_duration_seconds", "Per-segment synthesis duration in seconds", []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8}, "language"),
		transcribeTotal:   f.counterVec("stt_requests_total", "Total number of transcription requests", "status", "retried"),

		enrichmentBlocks: f.counterVec("enrichment_blocks_total", "Context enrichment outcomes by kind", "kind", "outcome"),
		functionCalls:    f.counterVec("function_calls_total", "Deterministic function answers served without the LLM", "function"),

		proactiveEvents:    f.counterVec("proactive_events_total", "Proactive and vigilance broadcasts by kind", "kind"),
		proactiveDeferrals: f.counter("proactive_deferrals_total", "Broadcasts deferred because a reply was in progress"),
		subscribers:        f.gaugeVec("websocket_subscribers", "Connected websocket subscribers by hub", "hub"),

		cacheHits:      f.counterVec("cache_hits_total", "Total number of cache hits", "cache"),
		cacheMisses:    f.counterVec("cache_misses_total", "Total number of cache misses", "cache"),
		activeSessions: f.gauge("conversation_sessions", "Sessions held in the conversation store"),
	}

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🤖 LLM 指标记录
// =============================================================================

// RecordLLMStream 记录一次流式补全；firstToken 为 0 表示没有可见输出
func (c *Collector) RecordLLMStream(status string, firstToken, duration time.Duration) {
	if c == nil {
		return
	}
	c.llmStreamsTotal.WithLabelValues(status).Inc()
	c.llmStreamDuration.WithLabelValues(status).Observe(duration.Seconds())
	if firstToken > 0 {
		c.llmFirstToken.Observe(firstToken.Seconds())
	}
}

// RecordPromptTokens 记录提示词估算 token 数
func (c *Collector) RecordPromptTokens(n int) {
	if c == nil {
		return
	}
	c.llmPromptTokens.Observe(float64(n))
}

// RecordMetaDropped 记录被过滤的思考块 / 控制符
func (c *Collector) RecordMetaDropped(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.llmFilteredSegments.Add(float64(n))
}

// SetBreakerState 熔断状态变化时调用；opened 为 true 时累计一次熔断
func (c *Collector) SetBreakerState(state int, opened bool) {
	if c == nil {
		return
	}
	c.llmBreakerState.Set(float64(state))
	if opened {
		c.llmBreakerTrips.Inc()
	}
}

// =============================================================================
// 🎭 回复编排指标记录
// =============================================================================

// RecordTurn 记录一次回复轮次，path 为 function / llm
func (c *Collector) RecordTurn(path, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(path, status).Inc()
	c.turnDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordStateTransition 记录状态机转换
func (c *Collector) RecordStateTransition(from, to string) {
	if c == nil {
		return
	}
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordEmotion 记录回复情绪
func (c *Collector) RecordEmotion(emotion string) {
	if c == nil {
		return
	}
	c.replyEmotions.WithLabelValues(emotion).Inc()
}

// =============================================================================
// 🔊 语音指标记录
// =============================================================================

// RecordSynthesis 记录单段合成
func (c *Collector) RecordSynthesis(language, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.synthesisTotal.WithLabelValues(language, status).Inc()
	c.synthesisDuration.WithLabelValues(language).Observe(duration.Seconds())
}

// RecordTranscription 记录语音识别请求
func (c *Collector) RecordTranscription(status string, retried bool) {
	if c == nil {
		return
	}
	c.transcribeTotal.WithLabelValues(status, strconv.FormatBool(retried)).Inc()
}

// =============================================================================
// 🧩 上下文增强指标记录
// =============================================================================

// RecordEnrichment 记录增强块结果，outcome 为 used / empty / skipped / error
func (c *Collector) RecordEnrichment(kind, outcome string) {
	if c == nil {
		return
	}
	c.enrichmentBlocks.WithLabelValues(kind, outcome).Inc()
}

// RecordFunctionCall 记录函数直答
func (c *Collector) RecordFunctionCall(name string) {
	if c == nil {
		return
	}
	c.functionCalls.WithLabelValues(name).Inc()
}

// =============================================================================
// 📢 主动播报指标记录
// =============================================================================

// RecordProactiveEvent 记录一次广播
func (c *Collector) RecordProactiveEvent(kind string) {
	if c == nil {
		return
	}
	c.proactiveEvents.WithLabelValues(kind).Inc()
}

// RecordProactiveDeferral 记录一次延后
func (c *Collector) RecordProactiveDeferral() {
	if c == nil {
		return
	}
	c.proactiveDeferrals.Inc()
}

// SetSubscribers 设置订阅者数量
func (c *Collector) SetSubscribers(hub string, n int) {
	if c == nil {
		return
	}
	c.subscribers.WithLabelValues(hub).Set(float64(n))
}

// =============================================================================
// 💾 缓存 / 会话指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// SetActiveSessions 设置会话数
func (c *Collector) SetActiveSessions(n int) {
	if c == nil {
		return
	}
	c.activeSessions.Set(float64(n))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 按百位归类，"2xx"…"5xx"
func statusCode(code int) string {
	if code < 200 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
