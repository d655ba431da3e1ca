package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🌐 HTTP 服务器生命周期
// =============================================================================

type phase int

const (
	phaseIdle phase = iota
	phaseServing
	phaseClosed
)

// Config 单个监听端口的参数
type Config struct {
	Addr            string        `yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" json:"max_header_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig WriteTimeout 按 SSE 长回复放宽到 5 分钟
func DefaultConfig() Config {
	return Config{
		Addr:            ":8000",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		IdleTimeout:     2 * time.Minute,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Manager 持有一个 http.Server。Start 非阻塞，Serve 的异常从 Errors() 取。
type Manager struct {
	name   string
	cfg    Config
	srv    *http.Server
	logger *zap.Logger
	errCh  chan error

	mu    sync.RWMutex
	phase phase
	ln    net.Listener
}

// NewManager name 只出现在日志和错误里（"api"、"metrics"）
func NewManager(name string, handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		name: name,
		cfg:  cfg,
		srv: &http.Server{
			Addr:           cfg.Addr,
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    cfg.IdleTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
		},
		logger: logger.With(zap.String("component", "http_server"), zap.String("server", name)),
		errCh:  make(chan error, 1),
	}
}

// Start 绑定端口后在后台 Serve
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.phase {
	case phaseServing:
		return fmt.Errorf("%s server already started", m.name)
	case phaseClosed:
		return fmt.Errorf("%s server is closed", m.name)
	}

	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("%s server: listen %s: %w", m.name, m.cfg.Addr, err)
	}
	m.ln = ln
	m.phase = phaseServing
	m.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	go func() {
		err := m.srv.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return
		}
		m.logger.Error("serve failed", zap.Error(err))
		select {
		case m.errCh <- err:
		default:
		}
	}()
	return nil
}

// Run Start 后阻塞到 ctx 结束或 Serve 出错，然后关闭
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-m.errCh:
	}
	return errors.Join(serveErr, m.Shutdown(context.Background()))
}

// Shutdown 停止接收新连接并等待在途请求（含 SSE 流），最多 ShutdownTimeout。可重复调用。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == phaseClosed {
		return nil
	}
	m.phase = phaseClosed

	if m.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
		defer cancel()
	}
	if err := m.srv.Shutdown(ctx); err != nil {
		m.logger.Error("shutdown failed", zap.Error(err))
		return fmt.Errorf("%s server shutdown: %w", m.name, err)
	}
	m.logger.Info("stopped")
	return nil
}

// Errors Serve 的异步错误，最多一条
func (m *Manager) Errors() <-chan error { return m.errCh }

// Addr 已监听时返回实际地址（端口 0 时有用），否则返回配置值
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ln != nil {
		return m.ln.Addr().String()
	}
	return m.cfg.Addr
}

// IsRunning 未关闭即视为运行中
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase != phaseClosed
}

// Watch 阻塞到 ctx 结束（返回 nil）或任一服务器 Serve 出错（返回该错误）。
// nil 的 Manager 会被跳过。
func Watch(ctx context.Context, managers ...*Manager) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	for _, m := range managers {
		if m == nil {
			continue
		}
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case err := <-m.Errors():
				return fmt.Errorf("%s server: %w", m.name, err)
			}
		})
	}
	return g.Wait()
}
