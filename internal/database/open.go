package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/kyronex/config"
)

const slowQuery = 500 * time.Millisecond

// dialects sqlite 用纯 Go 的 glebarez/sqlite，ARM 板卡上不需要 cgo
var dialects = map[string]func(dsn string) gorm.Dialector{
	"sqlite":     sqlite.Open,
	"sqlite3":    sqlite.Open,
	"postgres":   postgres.Open,
	"postgresql": postgres.Open,
	"mysql":      mysql.Open,
}

// Dialector 按驱动名选择 GORM 方言
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	open, ok := dialects[strings.ToLower(cfg.Driver)]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres, mysql)", cfg.Driver)
	}
	return open(cfg.DSN()), nil
}

// Open 打开数据库；慢查询和 SQL 错误经 zap 输出
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(logger)})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}
	pool, err := NewPool(db, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("database opened", zap.String("driver", cfg.Driver), zap.String("name", cfg.Name))
	return pool, nil
}

// zapWriter 把 gorm 的 Printf 输出转给 zap
type zapWriter struct{ sugar *zap.SugaredLogger }

func (w zapWriter) Printf(format string, args ...any) { w.sugar.Warnf(format, args...) }

func newGormLogger(logger *zap.Logger) gormlogger.Interface {
	return gormlogger.New(
		zapWriter{sugar: logger.With(zap.String("component", "gorm")).Sugar()},
		gormlogger.Config{
			SlowThreshold:             slowQuery,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}
