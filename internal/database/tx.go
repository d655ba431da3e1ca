package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TxFunc 事务体
type TxFunc func(tx *gorm.DB) error

const (
	maxTxAttempts = 4
	txBackoffBase = 50 * time.Millisecond
)

// Transact 在事务中执行 fn。遇到锁冲突（SQLITE_BUSY、死锁、序列化失败）
// 时按 50ms、100ms、200ms 退避重试，其他错误立即返回。
func Transact(ctx context.Context, db *gorm.DB, logger *zap.Logger, fn TxFunc) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(txBackoffBase << (attempt - 1)):
			}
		}

		err = db.WithContext(ctx).Transaction(fn)
		if err == nil || !IsBusy(err) {
			return err
		}
		logger.Warn("transaction conflict, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", maxTxAttempts, err)
}

// IsBusy 判断是否为可重试的锁冲突
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"database is locked",
		"sqlite_busy",
		"deadlock",
		"serialization failure",
		"40001",
		"lock wait timeout",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
