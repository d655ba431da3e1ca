package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/kyronex/config"
)

// ErrPoolClosed Close 之后的 Ping/Transact 返回该错误
var ErrPoolClosed = errors.New("database pool is closed")

const (
	probeEvery      = time.Minute
	probeTimeout    = 5 * time.Second
	maxConnIdleTime = 2 * time.Minute
	defaultMaxOpen  = 10
)

// Pool GORM 实例加上后台探活
type Pool struct {
	db     *gorm.DB
	raw    *sql.DB
	logger *zap.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	stop      context.CancelFunc
	probeDone chan struct{}
}

// NewPool 设置连接池参数并启动探活
func NewPool(db *gorm.DB, cfg config.DatabaseConfig, logger *zap.Logger) (*Pool, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	raw, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	maxOpen, maxIdle := poolLimits(cfg)
	raw.SetMaxOpenConns(maxOpen)
	raw.SetMaxIdleConns(maxIdle)
	raw.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	raw.SetConnMaxIdleTime(maxConnIdleTime)

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		db:        db,
		raw:       raw,
		logger:    logger.With(zap.String("component", "db_pool")),
		stop:      cancel,
		probeDone: make(chan struct{}),
	}
	go p.probe(ctx)
	return p, nil
}

// poolLimits sqlite 只有一个写者，固定单连接，并发写入在池里排队而不是撞上 SQLITE_BUSY
func poolLimits(cfg config.DatabaseConfig) (maxOpen, maxIdle int) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "sqlite3":
		return 1, 1
	}
	maxOpen = cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpen
	}
	maxIdle = cfg.MaxIdleConns
	if maxIdle <= 0 || maxIdle > maxOpen {
		maxIdle = maxOpen
	}
	return maxOpen, maxIdle
}

func (p *Pool) DB() *gorm.DB { return p.db }

func (p *Pool) Stats() sql.DBStats { return p.raw.Stats() }

func (p *Pool) Ping(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	return p.raw.PingContext(ctx)
}

// Transact 见包级 Transact
func (p *Pool) Transact(ctx context.Context, fn TxFunc) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	return Transact(ctx, p.db, p.logger, fn)
}

// Close 等探活协程退出后关闭连接，可重复调用
func (p *Pool) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.stop()
		<-p.probeDone
		p.logger.Info("closing database pool")
		err = p.raw.Close()
	})
	return err
}

func (p *Pool) probe(ctx context.Context) {
	defer close(p.probeDone)
	ticker := time.NewTicker(probeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			err := p.Ping(pctx)
			cancel()
			if err != nil && ctx.Err() == nil && !errors.Is(err, ErrPoolClosed) {
				p.logger.Warn("database probe failed", zap.Error(err))
			}
		}
	}
}
