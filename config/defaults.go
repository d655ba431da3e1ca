// =============================================================================
// 📦 KYRONEX 默认配置
// =============================================================================
// 默认值对应单机部署：llama.cpp、piper、whisper 均在本机
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		LLM:       DefaultLLMConfig(),
		Speech:    DefaultSpeechConfig(),
		Vision:    DefaultVisionConfig(),
		Search:    DefaultSearchConfig(),
		Knowledge: DefaultKnowledgeConfig(),
		Pipeline:  DefaultPipelineConfig(),
		Proactive: DefaultProactiveConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           8000,
		MetricsPort:        9091,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       5 * time.Minute,
		ShutdownTimeout:    15 * time.Second,
		RateLimitRPS:       20,
		RateLimitBurst:     40,
		CORSAllowedOrigins: []string{"*"},
		StaticDir:          "static",
		AudioDir:           "audio",
		AudioMaxAge:        10 * time.Minute,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		BaseURL:       "http://127.0.0.1:8080",
		Model:         "local",
		Timeout:       2 * time.Minute,
		Temperature:   0.7,
		MaxTokens:     256,
		TopP:          0.8,
		TopK:          20,
		MinP:          0.05,
		RepeatPenalty: 1.1,
		RepeatLastN:   64,
		ContextWindow: 4096,
		Tokenizer:     "estimator",

		BreakerThreshold: 3,
		BreakerReset:     30 * time.Second,
	}
}

// DefaultSpeechConfig 返回默认语音配置
func DefaultSpeechConfig() SpeechConfig {
	return SpeechConfig{
		TTSURL:      "http://127.0.0.1:5000",
		TTSTimeout:  30 * time.Second,
		LengthScale: 0.9,
		Voices: map[string]string{
			"fr": "fr_FR-tom-medium",
			"en": "en_US-lessac-medium",
			"de": "de_DE-thorsten-medium",
			"it": "it_IT-paola-medium",
			"pt": "pt_BR-faber-medium",
		},
		SampleRate:        22050,
		Workers:           2,
		EffectsEnabled:    true,
		STTURL:            "http://127.0.0.1:8178/inference",
		STTTimeout:        60 * time.Second,
		STTRetryThreshold: 0.75,
	}
}

// DefaultVisionConfig 返回默认视觉配置
func DefaultVisionConfig() VisionConfig {
	return VisionConfig{
		Enabled:        false,
		Command:        "/usr/bin/python3",
		Args:           []string{"vision.py", "--daemon"},
		StartTimeout:   30 * time.Second,
		CaptureTimeout: 15 * time.Second,
		Cooldown:       30 * time.Second,
		PersonLabel:    "personne",
	}
}

// DefaultSearchConfig 返回默认搜索配置
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Enabled:      false,
		BaseURL:      "https://api.tavily.com",
		Timeout:      6 * time.Second,
		MaxResults:   3,
		SnippetChars: 200,
		CacheTTL:     15 * time.Minute,
	}
}

// DefaultKnowledgeConfig 返回默认知识库配置
func DefaultKnowledgeConfig() KnowledgeConfig {
	return KnowledgeConfig{
		Dir:      "knowledge",
		MaxChars: 1500,
		Watch:    true,
	}
}

// DefaultPipelineConfig 返回默认回复管线配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		AssistantName:       "KITT",
		BaseLanguage:        "fr",
		HistoryTurns:        6,
		MaxSessionMessages:  40,
		MaxSessions:         256,
		MinSegmentChars:     4,
		LanguageRelockChars: 15,
		HousekeepingEvery:   3,
		DropCaches:          false,
		DropCachesTimeout:   3 * time.Second,
		TranscriptEnabled:   true,
	}
}

// DefaultProactiveConfig 返回默认主动播报配置
func DefaultProactiveConfig() ProactiveConfig {
	return ProactiveConfig{
		Enabled:           true,
		StartDelay:        10 * time.Second,
		Interval:          60 * time.Second,
		VigilanceInterval: 20 * time.Second,
		VigilanceIdle:     5 * time.Minute,
		ThermalPath:       "/sys/devices/virtual/thermal/thermal_zone0/temp",
		ThermalThreshold:  70,
		MemoryThresholdMB: 100,
		AlertCooldown:     120 * time.Second,
		DeferGrace:        10 * time.Second,
		DeferStep:         2 * time.Second,
		DeferMaxRetries:   30,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "kyronex",
		Name:            "kyronex.db",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "kyronex",
		SampleRate:   0.1,
	}
}
