package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/agent/conversation"
	"github.com/BaSui01/kyronex/agent/enrichment"
	"github.com/BaSui01/kyronex/agent/orchestrator"
	"github.com/BaSui01/kyronex/agent/persistence"
	"github.com/BaSui01/kyronex/agent/proactive"
	"github.com/BaSui01/kyronex/agent/vision"
	"github.com/BaSui01/kyronex/agent/voice"
	"github.com/BaSui01/kyronex/api/handlers"
	"github.com/BaSui01/kyronex/config"
	"github.com/BaSui01/kyronex/internal/cache"
	"github.com/BaSui01/kyronex/internal/database"
	"github.com/BaSui01/kyronex/internal/metrics"
	"github.com/BaSui01/kyronex/internal/migration"
	"github.com/BaSui01/kyronex/internal/pool"
	"github.com/BaSui01/kyronex/internal/sensors"
	"github.com/BaSui01/kyronex/internal/server"
	"github.com/BaSui01/kyronex/internal/telemetry"
	"github.com/BaSui01/kyronex/llm"
	"github.com/BaSui01/kyronex/llm/circuitbreaker"
	"github.com/BaSui01/kyronex/llm/providers/llamacpp"
	"github.com/BaSui01/kyronex/llm/speech"
	"github.com/BaSui01/kyronex/llm/tokenizer"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 KYRONEX 的主服务器，持有所有长生命周期组件
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 基础设施
	collector *metrics.Collector
	otel      *telemetry.Providers
	db        *database.Pool
	redis     *cache.Manager
	journal   *os.File

	// 领域组件
	store        *persistence.Store
	stats        *persistence.Stats
	sensors      *sensors.Reader
	visionDaemon *vision.Daemon
	corpus       *enrichment.Corpus
	functions    *enrichment.Interceptor
	synthPool    *pool.WorkerPool
	provider     *llamacpp.Provider
	stt          *speech.WhisperSTTProvider
	audio        *voice.AudioStore
	synth        *voice.Synthesizer
	sessions     *conversation.Store
	proactiveHub *proactive.Hub
	monitorHub   *proactive.Hub
	broadcaster  *proactive.Broadcaster
	orchestrator *orchestrator.Orchestrator

	// 后台任务生命周期
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 指标与遥测
	s.collector = metrics.NewCollector("kyronex", s.logger)
	otelProviders, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.otel = otelProviders

	// 2. 存储
	if err := s.initStorage(); err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}

	// 3. 回复管线
	if err := s.initPipeline(); err != nil {
		return fmt.Errorf("failed to init pipeline: %w", err)
	}

	// 4. 后台任务
	s.startBackground()

	// 5. HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 6. Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("vision_enabled", s.cfg.Vision.Enabled),
		zap.Bool("search_enabled", s.cfg.Search.Enabled),
		zap.Bool("proactive_enabled", s.cfg.Proactive.Enabled),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initStorage 数据库迁移、持久化存储与可选的 Redis 缓存
func (s *Server) initStorage() error {
	if dir := filepath.Dir(s.cfg.Database.Name); s.cfg.Database.Driver == "sqlite" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database dir: %w", err)
		}
	}

	// golang-migrate 在 gorm 打开连接前执行，避免 sqlite 写锁竞争
	version, migrateErr := migration.ApplyAll(s.ctx, s.cfg.Database, s.logger)

	db, err := database.Open(s.cfg.Database, s.logger)
	if err != nil {
		return err
	}
	s.db = db

	s.store = persistence.New(db.DB(), s.logger)
	if migrateErr != nil {
		// 迁移文件不可用时退回 gorm 建表
		s.logger.Warn("schema migration failed, falling back to auto-migrate", zap.Error(migrateErr))
		if err := s.store.AutoMigrate(s.ctx); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
	} else {
		s.logger.Info("database schema ready", zap.Uint("version", version))
	}
	s.stats = persistence.NewStats(s.store)

	if s.cfg.Redis.Enabled {
		mgr, err := cache.NewManager(s.cfg.Redis, s.logger)
		if err != nil {
			s.logger.Warn("redis not available, search cache disabled", zap.Error(err))
		} else {
			s.redis = mgr
		}
	}
	return nil
}

// initPipeline 组装增强、推理、合成、会话、播报与编排器
func (s *Server) initPipeline() error {
	cfg := s.cfg
	s.sensors = sensors.NewReader(cfg.Proactive.ThermalPath, s.logger)

	// 视觉：未启用时保持 nil 接口
	var visionSource vision.Source
	if cfg.Vision.Enabled {
		s.visionDaemon = vision.NewDaemon(cfg.Vision, s.logger)
		visionSource = s.visionDaemon
	}

	// 语音
	tts := speech.NewPiperTTSProvider(speech.PiperConfigFrom(cfg.Speech, cfg.Pipeline.BaseLanguage), s.logger)
	s.stt = speech.NewWhisperSTTProvider(speech.WhisperConfigFrom(cfg.Speech), s.logger)
	audio, err := voice.NewAudioStore(cfg.Server.AudioDir)
	if err != nil {
		return fmt.Errorf("audio store: %w", err)
	}
	s.audio = audio
	s.synth = voice.NewSynthesizer(tts, audio, voice.SynthesizerConfig{
		LengthScale: cfg.Speech.LengthScale,
		SampleRate:  cfg.Speech.SampleRate,
		Effects:     cfg.Speech.EffectsEnabled,
		MinChars:    cfg.Pipeline.MinSegmentChars,
	}, s.collector, s.logger)
	s.synthPool = pool.New(pool.Config{
		Workers:   cfg.Speech.Workers,
		QueueSize: 32,
		PanicHandler: func(v any) {
			s.logger.Error("synthesis worker panic", zap.Any("panic", v))
		},
	})

	// 订阅流：主动播报 + 对话监控
	var hubOpts []proactive.HubOption
	if cfg.Server.MonitorJournal != "" {
		f, err := os.OpenFile(cfg.Server.MonitorJournal, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			s.logger.Warn("monitor journal unavailable", zap.String("path", cfg.Server.MonitorJournal), zap.Error(err))
		} else {
			s.journal = f
			hubOpts = append(hubOpts, proactive.WithJournal(f))
		}
	}
	s.proactiveHub = proactive.NewHub("proactive", s.collector, s.logger)
	s.monitorHub = proactive.NewHub("monitor", s.collector, s.logger, hubOpts...)

	watermark := proactive.DefaultWatermark
	s.broadcaster = proactive.NewBroadcaster(cfg.Proactive, cfg.Vision.PersonLabel, cfg.Pipeline.BaseLanguage, proactive.Deps{
		Hub:       s.proactiveHub,
		Monitor:   s.monitorHub,
		Synth:     s.synth,
		Sensors:   s.sensors,
		Vision:    visionSource,
		Watermark: watermark,
		Metrics:   s.collector,
	}, s.logger)

	// 增强阶段
	s.functions = enrichment.NewInterceptor(s.sensors, s.logger,
		enrichment.WithTimerNotifier(func(label string) {
			go s.broadcaster.TimerDone(s.ctx, label)
		}),
	)
	gate := enrichment.NewVisionGate(visionSource, cfg.Vision.Cooldown, cfg.Vision.CaptureTimeout, s.logger)
	s.corpus = enrichment.NewCorpus(cfg.Knowledge.Dir, cfg.Knowledge.MaxChars, s.logger)
	if err := s.corpus.Load(); err != nil {
		s.logger.Warn("knowledge corpus not loaded", zap.String("dir", cfg.Knowledge.Dir), zap.Error(err))
	}
	var search *enrichment.WebSearch
	if cfg.Search.Enabled {
		var textCache *cache.TextCache
		if s.redis != nil && cfg.Search.CacheTTL > 0 {
			textCache = cache.NewTextCache(s.redis, "search", cfg.Search.CacheTTL)
		}
		search = enrichment.NewWebSearch(enrichment.NewTavilyClient(cfg.Search), cfg.Search, textCache, s.collector, s.logger)
	}
	stage := enrichment.NewStage(s.functions, gate, s.corpus, search, s.collector, s.logger)

	// 推理与会话
	s.provider = llamacpp.New(llamacpp.ConfigFromLLM(cfg.LLM), s.logger)
	var chatProvider llm.Provider = s.provider
	if cfg.LLM.BreakerThreshold > 0 {
		chatProvider = circuitbreaker.Wrap(s.provider, &circuitbreaker.Config{
			Threshold:    cfg.LLM.BreakerThreshold,
			Timeout:      cfg.LLM.Timeout,
			ResetTimeout: cfg.LLM.BreakerReset,
			OnStateChange: func(_, to circuitbreaker.State) {
				s.collector.SetBreakerState(int(to), to == circuitbreaker.StateOpen)
			},
		}, s.logger)
	}
	tok, err := tokenizer.New(cfg.LLM.Tokenizer, cfg.LLM.ContextWindow)
	if err != nil {
		s.logger.Warn("tokenizer unavailable, using estimator", zap.String("tokenizer", cfg.LLM.Tokenizer), zap.Error(err))
		tok = tokenizer.NewEstimatorTokenizer(cfg.LLM.ContextWindow)
	}
	s.sessions = conversation.NewStore(conversation.StoreConfig{
		MaxSessions: cfg.Pipeline.MaxSessions,
		MaxMessages: cfg.Pipeline.MaxSessionMessages,
	}, s.collector, s.logger)

	var dropper orchestrator.CacheDropper
	if cfg.Pipeline.DropCaches {
		dropper = s.sensors
	}
	s.orchestrator = orchestrator.New(orchestrator.Config{
		Pipeline:    cfg.Pipeline,
		LLM:         cfg.LLM,
		AudioMaxAge: cfg.Server.AudioMaxAge,
	}, orchestrator.Deps{
		Provider:  chatProvider,
		Enricher:  stage,
		Sessions:  s.sessions,
		Store:     s.store,
		Stats:     s.stats,
		Synth:     s.synth,
		Pool:      s.synthPool,
		Monitor:   s.monitorHub,
		Tokenizer: tok,
		Caches:    dropper,
		Audio:     s.audio,
		Watermark: watermark,
		Metrics:   s.collector,
	}, s.logger)

	s.logger.Info("Pipeline initialized",
		zap.String("llm", cfg.LLM.BaseURL),
		zap.String("tts", cfg.Speech.TTSURL),
		zap.String("stt", cfg.Speech.STTURL),
		zap.String("tokenizer", tok.Name()),
	)
	return nil
}

// startBackground 启动知识库监听与主动播报
func (s *Server) startBackground() {
	if s.cfg.Knowledge.Watch {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.corpus.Watch(s.ctx); err != nil {
				s.logger.Warn("knowledge watcher stopped", zap.Error(err))
			}
		}()
	}

	if s.cfg.Proactive.Enabled {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.broadcaster.Run(s.ctx); err != nil {
				s.logger.Error("broadcaster stopped", zap.Error(err))
			}
		}()
	}
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 注册所有路由（Go 1.22 方法 + 路径模式）
func (s *Server) routes() *http.ServeMux {
	identity := handlers.NewIdentity(s.sensors)

	health := handlers.NewHealthHandler(s.provider, s.logger)
	health.RegisterCheck(handlers.NewPingCheck("database", s.db.Ping))
	health.RegisterCheck(handlers.NewPingCheck("llm", handlers.ProviderCheck(s.provider)))
	if s.redis != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", s.redis.Ping))
	}

	chat := handlers.NewChatHandler(s.orchestrator, s.sessions, identity, s.logger)
	stt := handlers.NewSpeechHandler(s.stt, speech.RetryPolicy{
		Threshold:    s.cfg.Speech.STTRetryThreshold,
		BaseLanguage: s.cfg.Pipeline.BaseLanguage,
	}, s.store, identity, s.collector, s.logger)
	profile := handlers.NewProfileHandler(s.store, s.store, s.stats, identity, s.logger).WithSessions(s.sessions)
	push := handlers.NewPushHandler(s.proactiveHub, s.monitorHub, s.broadcaster, s.cfg.Server.CORSAllowedOrigins, s.logger)
	audio := handlers.NewAudioHandler(s.audio, s.logger)

	mux := http.NewServeMux()

	// ========================================
	// 探针与版本
	// ========================================
	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))
	mux.HandleFunc("GET /api/health", health.HandleHealth)

	// ========================================
	// 对话
	// ========================================
	mux.HandleFunc("POST /api/chat", chat.HandleChat)
	mux.HandleFunc("POST /api/chat/stream", chat.HandleStream)
	mux.HandleFunc("POST /api/vision", chat.HandleVision)
	mux.HandleFunc("POST /api/reset", chat.HandleReset)
	mux.HandleFunc("POST /api/stt", stt.HandleSTT)

	// ========================================
	// 设备资料、记忆与统计
	// ========================================
	mux.HandleFunc("POST /api/set-name", profile.HandleSetName)
	mux.HandleFunc("GET /api/whoami", profile.HandleWhoAmI)
	mux.HandleFunc("POST /api/set-lang", profile.HandleSetLang)
	mux.HandleFunc("POST /api/ping", profile.HandlePing)
	mux.HandleFunc("GET /api/stats", profile.HandleStats)
	mux.HandleFunc("GET /api/memory", profile.HandleMemory)
	mux.HandleFunc("POST /api/memory", profile.HandleMemoryAdd)

	// ========================================
	// 推送流与警戒模式
	// ========================================
	mux.HandleFunc("GET /api/proactive/ws", push.HandleProactiveWS)
	mux.HandleFunc("GET /api/monitor/ws", push.HandleMonitorWS)
	mux.HandleFunc("POST /api/vigilance", push.HandleVigilance)

	// ========================================
	// 音频与前端
	// ========================================
	mux.HandleFunc("GET /audio/{name}", audio.HandleAudio)
	static := http.FileServer(http.Dir(s.cfg.Server.StaticDir))
	mux.Handle("GET /static/", http.StripPrefix("/static/", static))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(s.cfg.Server.StaticDir, "index.html"))
	})

	return mux
}

// startHTTPServer 构建中间件链并启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	handler := Chain(s.routes(),
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		Observe(s.logger, s.collector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(s.ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Server.APIKeys, []string{"/api/", "/audio/"}, []string{"/api/health"}, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager("api", handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.Addr()))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器；端口为 0 时不启动
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager("metrics", mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待 SIGINT/SIGTERM 或服务器错误，然后优雅关闭
func (s *Server) WaitForShutdown() {
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Watch(sigCtx, s.httpManager, s.metricsManager); err != nil {
		s.logger.Error("server failed, shutting down", zap.Error(err))
	} else {
		s.logger.Info("shutdown signal received")
	}

	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 1. 停止接收新请求
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 2. 停止后台任务与订阅流
	s.cancel()
	if s.proactiveHub != nil {
		s.proactiveHub.Close()
	}
	if s.monitorHub != nil {
		s.monitorHub.Close()
	}
	s.wg.Wait()

	// 3. 释放领域组件
	if s.functions != nil {
		s.functions.Close()
	}
	if s.synthPool != nil {
		s.synthPool.Close()
	}
	if s.visionDaemon != nil {
		if err := s.visionDaemon.Close(); err != nil {
			s.logger.Warn("vision daemon close error", zap.Error(err))
		}
	}

	// 4. 关闭存储与遥测
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("redis close error", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("database close error", zap.Error(err))
		}
	}
	if s.journal != nil {
		s.journal.Close()
	}
	if err := s.otel.Shutdown(ctx); err != nil {
		s.logger.Warn("telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("Graceful shutdown completed")
}
