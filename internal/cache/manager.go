package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/config"
)

// =============================================================================
// 💾 Redis 管理器
// =============================================================================

const (
	keyPrefix      = "kyronex:"
	defaultTTL     = 15 * time.Minute
	healthEvery    = 30 * time.Second
	opTimeout      = 2 * time.Second
	connectTimeout = 5 * time.Second
)

var (
	ErrCacheMiss = errors.New("cache miss")
	ErrClosed    = errors.New("cache manager is closed")
)

func IsCacheMiss(err error) bool { return errors.Is(err, ErrCacheMiss) }

// Manager 所有键自动加 "kyronex:" 前缀。
// 任一命令失败即标记不健康，之后由后台探针恢复；不健康期间 TextCache 直接跳过 Redis。
type Manager struct {
	client  *redis.Client
	logger  *zap.Logger
	healthy atomic.Bool

	// mu 读锁保护在途命令，Close 取写锁
	mu     sync.RWMutex
	closed bool
	stop   context.CancelFunc
}

// NewManager 首次 Ping 失败即返回错误，不留半连接的客户端
func NewManager(cfg config.RedisConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  opTimeout,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	err := client.Ping(ctx).Err()
	cancel()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	loopCtx, stop := context.WithCancel(context.Background())
	m := &Manager{
		client: client,
		logger: logger.With(zap.String("component", "cache")),
		stop:   stop,
	}
	m.healthy.Store(true)
	go m.watchHealth(loopCtx)

	m.logger.Info("redis connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return m, nil
}

// Healthy 最近一次命令或探测是否成功
func (m *Manager) Healthy() bool { return m.healthy.Load() }

// run 在读锁下执行一条命令并同步健康标记；redis.Nil 不算故障
func (m *Manager) run(op string, cmd func() error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	err := cmd()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	}
	if m.healthy.Swap(false) {
		m.logger.Warn("redis unavailable, cache bypassed", zap.String("op", op), zap.Error(err))
	}
	return fmt.Errorf("cache %s failed: %w", op, err)
}

// Get 未命中返回 ErrCacheMiss
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := m.run("get", func() (err error) {
		val, err = m.client.Get(ctx, keyPrefix+key).Result()
		return err
	})
	return val, err
}

// Set ttl<=0 时用 defaultTTL
func (m *Manager) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return m.run("set", func() error {
		return m.client.Set(ctx, keyPrefix+key, value, ttl).Err()
	})
}

// Ping 成功时恢复健康标记
func (m *Manager) Ping(ctx context.Context) error {
	err := m.run("ping", func() error { return m.client.Ping(ctx).Err() })
	if err == nil && !m.healthy.Swap(true) {
		m.logger.Info("redis recovered")
	}
	return err
}

// Close 可重复调用
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.healthy.Store(false)
	m.stop()
	return m.client.Close()
}

func (m *Manager) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(healthEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, opTimeout)
			_ = m.Ping(pctx)
			cancel()
		}
	}
}
