// Package config 定义 KYRONEX 的配置结构并负责加载。
// 优先级：默认值 → YAML 文件 → KYRONEX_ 前缀的环境变量。
package config

import (
	"fmt"
	"time"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 KYRONEX 的完整配置结构
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Speech    SpeechConfig    `yaml:"speech" env:"SPEECH"`
	Vision    VisionConfig    `yaml:"vision" env:"VISION"`
	Search    SearchConfig    `yaml:"search" env:"SEARCH"`
	Knowledge KnowledgeConfig `yaml:"knowledge" env:"KNOWLEDGE"`
	Pipeline  PipelineConfig  `yaml:"pipeline" env:"PIPELINE"`
	Proactive ProactiveConfig `yaml:"proactive" env:"PROACTIVE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时（流式回复需要足够长）
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每秒请求数限制
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求上限
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 允许的 API Key，空表示不鉴权
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// CORS 允许来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 前端静态文件目录
	StaticDir string `yaml:"static_dir" env:"STATIC_DIR"`
	// 合成音频目录
	AudioDir string `yaml:"audio_dir" env:"AUDIO_DIR"`
	// 音频文件保留时间
	AudioMaxAge time.Duration `yaml:"audio_max_age" env:"AUDIO_MAX_AGE"`
	// 监控流事件追加写入的文件，空表示不记录
	MonitorJournal string `yaml:"monitor_journal" env:"MONITOR_JOURNAL"`
}

// LLMConfig llama.cpp（OpenAI 兼容）推理服务配置
type LLMConfig struct {
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	Model   string        `yaml:"model" env:"MODEL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`

	// 采样参数
	Temperature   float64 `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens     int     `yaml:"max_tokens" env:"MAX_TOKENS"`
	TopP          float64 `yaml:"top_p" env:"TOP_P"`
	TopK          int     `yaml:"top_k" env:"TOP_K"`
	MinP          float64 `yaml:"min_p" env:"MIN_P"`
	RepeatPenalty float64 `yaml:"repeat_penalty" env:"REPEAT_PENALTY"`
	RepeatLastN   int     `yaml:"repeat_last_n" env:"REPEAT_LAST_N"`

	// 上下文窗口（token），用于裁剪历史
	ContextWindow int `yaml:"context_window" env:"CONTEXT_WINDOW"`
	// 分词器: estimator, tiktoken
	Tokenizer string `yaml:"tokenizer" env:"TOKENIZER"`

	// 熔断：连续失败次数阈值，0 表示不启用
	BreakerThreshold int           `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	BreakerReset     time.Duration `yaml:"breaker_reset" env:"BREAKER_RESET"`
}

// SpeechConfig 语音合成 / 识别配置
type SpeechConfig struct {
	// piper HTTP 服务地址
	TTSURL     string        `yaml:"tts_url" env:"TTS_URL"`
	TTSTimeout time.Duration `yaml:"tts_timeout" env:"TTS_TIMEOUT"`
	// 语速（piper length_scale，越小越快）
	LengthScale float64 `yaml:"length_scale" env:"LENGTH_SCALE"`
	// 语言 → piper 声音模型
	Voices map[string]string `yaml:"voices"`
	// 输出采样率
	SampleRate int `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// 并发合成 worker 数
	Workers int `yaml:"workers" env:"WORKERS"`
	// 是否启用情绪音效
	EffectsEnabled bool `yaml:"effects_enabled" env:"EFFECTS_ENABLED"`

	// whisper HTTP 服务地址
	STTURL     string        `yaml:"stt_url" env:"STT_URL"`
	STTTimeout time.Duration `yaml:"stt_timeout" env:"STT_TIMEOUT"`
	// 低于该置信度时强制基础语言重试
	STTRetryThreshold float64 `yaml:"stt_retry_threshold" env:"STT_RETRY_THRESHOLD"`
}

// VisionConfig 视觉守护进程配置
type VisionConfig struct {
	Enabled        bool          `yaml:"enabled" env:"ENABLED"`
	Command        string        `yaml:"command" env:"COMMAND"`
	Args           []string      `yaml:"args" env:"ARGS"`
	StartTimeout   time.Duration `yaml:"start_timeout" env:"START_TIMEOUT"`
	CaptureTimeout time.Duration `yaml:"capture_timeout" env:"CAPTURE_TIMEOUT"`
	// 自动触发冷却时间
	Cooldown time.Duration `yaml:"cooldown" env:"COOLDOWN"`
	// 计数用的人物标签
	PersonLabel string `yaml:"person_label" env:"PERSON_LABEL"`
}

// SearchConfig 网络搜索配置
type SearchConfig struct {
	Enabled      bool          `yaml:"enabled" env:"ENABLED"`
	BaseURL      string        `yaml:"base_url" env:"BASE_URL"`
	APIKey       string        `yaml:"api_key" env:"API_KEY"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxResults   int           `yaml:"max_results" env:"MAX_RESULTS"`
	SnippetChars int           `yaml:"snippet_chars" env:"SNIPPET_CHARS"`
	// 结果缓存时间（Redis），0 表示不缓存
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// KnowledgeConfig 本地知识库配置
type KnowledgeConfig struct {
	Dir      string `yaml:"dir" env:"DIR"`
	MaxChars int    `yaml:"max_chars" env:"MAX_CHARS"`
	// 目录变化时自动重新加载
	Watch bool `yaml:"watch" env:"WATCH"`
}

// PipelineConfig 回复管线配置
type PipelineConfig struct {
	// 助手名称（转录文件中使用）
	AssistantName string `yaml:"assistant_name" env:"ASSISTANT_NAME"`
	// 基础语言
	BaseLanguage string `yaml:"base_language" env:"BASE_LANGUAGE"`
	// 发送给模型的历史轮数
	HistoryTurns int `yaml:"history_turns" env:"HISTORY_TURNS"`
	// 每个会话保留的消息数
	MaxSessionMessages int `yaml:"max_session_messages" env:"MAX_SESSION_MESSAGES"`
	// 内存中最多保留的会话数
	MaxSessions int `yaml:"max_sessions" env:"MAX_SESSIONS"`
	// 片段最小字符数，更短的片段向后合并
	MinSegmentChars int `yaml:"min_segment_chars" env:"MIN_SEGMENT_CHARS"`
	// 回复语言二次判定所需的字符数
	LanguageRelockChars int `yaml:"language_relock_chars" env:"LANGUAGE_RELOCK_CHARS"`
	// 每 N 轮执行一次清理
	HousekeepingEvery int `yaml:"housekeeping_every" env:"HOUSEKEEPING_EVERY"`
	// 是否尝试释放系统页缓存
	DropCaches        bool          `yaml:"drop_caches" env:"DROP_CACHES"`
	DropCachesTimeout time.Duration `yaml:"drop_caches_timeout" env:"DROP_CACHES_TIMEOUT"`
	// 是否写每日对话转录
	TranscriptEnabled bool `yaml:"transcript_enabled" env:"TRANSCRIPT_ENABLED"`
}

// ProactiveConfig 主动播报 / 警戒模式配置
type ProactiveConfig struct {
	Enabled           bool          `yaml:"enabled" env:"ENABLED"`
	StartDelay        time.Duration `yaml:"start_delay" env:"START_DELAY"`
	Interval          time.Duration `yaml:"interval" env:"INTERVAL"`
	VigilanceInterval time.Duration `yaml:"vigilance_interval" env:"VIGILANCE_INTERVAL"`
	// 0→1 触发所需的空闲时长
	VigilanceIdle time.Duration `yaml:"vigilance_idle" env:"VIGILANCE_IDLE"`
	ThermalPath   string        `yaml:"thermal_path" env:"THERMAL_PATH"`
	// 温度告警阈值（摄氏度）
	ThermalThreshold float64 `yaml:"thermal_threshold" env:"THERMAL_THRESHOLD"`
	// 可用内存告警阈值（MB）
	MemoryThresholdMB int `yaml:"memory_threshold_mb" env:"MEMORY_THRESHOLD_MB"`
	// 同类告警冷却时间
	AlertCooldown time.Duration `yaml:"alert_cooldown" env:"ALERT_COOLDOWN"`
	// 避让窗口：最近交互距今小于该值时推迟播报
	DeferGrace      time.Duration `yaml:"defer_grace" env:"DEFER_GRACE"`
	DeferStep       time.Duration `yaml:"defer_step" env:"DEFER_STEP"`
	DeferMaxRetries int           `yaml:"defer_max_retries" env:"DEFER_MAX_RETRIES"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: sqlite, postgres, mysql
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名；sqlite 下为文件路径
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// DSN gorm 驱动使用的连接串；sqlite 直接是文件路径
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "sqlite":
		return d.Name
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name)
	}
	return ""
}
