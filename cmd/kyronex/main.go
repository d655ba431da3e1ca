// =============================================================================
// KYRONEX 主入口
// =============================================================================
// 语音助手服务入口，包含 HTTP/WebSocket 服务、主动播报、Prometheus 指标
//
// 使用方法:
//
//	kyronex serve                        # 启动服务
//	kyronex serve --config kyronex.yaml  # 指定配置文件
//	kyronex version                      # 显示版本信息
//	kyronex health                       # 健康检查
//	kyronex migrate up                   # 运行数据库迁移
//	kyronex migrate down                 # 回滚最后一次迁移
//	kyronex migrate status               # 查看迁移状态
// =============================================================================

// @title KYRONEX API
// @version 1.0.0
// @description KITT voice assistant: streamed replies with ordered synthesized speech.
// @description
// @description ## Features
// @description - Streaming replies via SSE or NDJSON with per-segment audio
// @description - Speech-to-text with low-confidence language retry
// @description - Proactive and vigilance broadcasts over WebSocket
// @description - Device profiles, memory facts and connection statistics

// @contact.name KYRONEX Team
// @contact.url https://github.com/BaSui01/kyronex

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8000
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key for authentication

package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/kyronex/config"
	"github.com/BaSui01/kyronex/internal/tlsutil"
)

// 构建时通过 -ldflags "-X main.Version=..." 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 子命令表
// =============================================================================

type command struct {
	summary string
	run     func(args []string)
}

var commands = map[string]command{
	"serve":   {"start the HTTP/WebSocket server", runServe},
	"migrate": {"database migrations (kyronex migrate help)", runMigrate},
	"health":  {"probe a running server (--addr, --ready)", runHealthCheck},
	"version": {"print build information", func([]string) { printVersion(os.Stdout) }},
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	name := os.Args[1]
	if name == "help" || name == "-h" || name == "--help" {
		printUsage(os.Stdout)
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", name)
		printUsage(os.Stderr)
		os.Exit(1)
	}
	cmd.run(os.Args[2:])
}

func printUsage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "KYRONEX - KITT voice assistant server")
	fmt.Fprintln(w, "\nUsage:\n  kyronex <command> [options]\n\nCommands:")
	for _, n := range names {
		fmt.Fprintf(w, "  %-9s %s\n", n, commands[n].summary)
	}
	fmt.Fprintln(w, "\nAny config value can be overridden with KYRONEX_<SECTION>_<FIELD>,")
	fmt.Fprintln(w, "e.g. KYRONEX_LLM_BASE_URL or KYRONEX_SERVER_HTTP_PORT.")
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "KYRONEX %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
}

// =============================================================================
// 🖥️ serve
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting KYRONEX",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	srv := NewServer(cfg, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
	srv.WaitForShutdown()
	logger.Info("KYRONEX stopped")
}

// loadConfig 默认值 → YAML → KYRONEX_ 环境变量
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	return loader.Load()
}

// =============================================================================
// 🏥 health
// =============================================================================

// runHealthCheck 默认探 /healthz，--ready 时探 /ready（依赖检查）
func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8000", "Server address")
	ready := fs.Bool("ready", false, "Probe /ready instead of /healthz")
	_ = fs.Parse(args)

	path := "/healthz"
	if *ready {
		path = "/ready"
	}
	resp, err := tlsutil.LocalHTTPClient(5 * time.Second).Get(*addr + path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unreachable: %v\n", err)
		os.Exit(1)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "%s returned %d: %s\n", path, resp.StatusCode, body)
		os.Exit(1)
	}
	fmt.Println("OK")
}

// =============================================================================
// 🔧 日志
// =============================================================================

// initLogger json 用于生产，console 带颜色用于本机调试
func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	console := cfg.Format == "console"
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.Sampling = nil
	if console {
		zc.Encoding = "console"
		zc.Development = true
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}
	zc.DisableCaller = !cfg.EnableCaller
	zc.DisableStacktrace = !cfg.EnableStacktrace

	logger, err := zc.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v, falling back to defaults\n", err)
		logger, _ = zap.NewProduction()
	}
	return logger.With(zap.String("service", "kyronex"))
}
