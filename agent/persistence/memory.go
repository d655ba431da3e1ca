package persistence

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/kyronex/internal/database"
)

// MaxMemoryFacts 全局保留的记忆事实数
const MaxMemoryFacts = 50

// AddFact 追加一条记忆事实，超出上限时删除最旧的。返回当前总数。
func (s *Store) AddFact(ctx context.Context, fact, user string) (int64, error) {
	if fact == "" {
		return 0, ErrInvalidInput
	}
	now := s.now()
	rec := MemoryFact{Fact: fact, UserName: user, Day: now.Format("2006-01-02"), CreatedAt: now}

	var total int64
	err := database.Transact(ctx, s.db, s.logger, func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("insert memory fact: %w", err)
		}

		var cut []uint64
		if err := tx.Model(&MemoryFact{}).Order("id desc").Offset(MaxMemoryFacts).Limit(1).Pluck("id", &cut).Error; err != nil {
			return fmt.Errorf("trim memory facts: %w", err)
		}
		if len(cut) > 0 {
			if err := tx.Where("id <= ?", cut[0]).Delete(&MemoryFact{}).Error; err != nil {
				return fmt.Errorf("trim memory facts: %w", err)
			}
		}

		if err := tx.Model(&MemoryFact{}).Count(&total).Error; err != nil {
			return fmt.Errorf("count memory facts: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("memory fact stored", zap.String("user", user), zap.Int64("total", total))
	return total, nil
}

// ForgetUser 删除某个用户的全部记忆事实
func (s *Store) ForgetUser(ctx context.Context, user string) (int64, error) {
	res := s.dbCtx(ctx).Where("user_name = ?", user).Delete(&MemoryFact{})
	if res.Error != nil {
		return 0, fmt.Errorf("forget user facts: %w", res.Error)
	}
	s.logger.Info("memory facts cleared", zap.String("user", user), zap.Int64("removed", res.RowsAffected))
	return res.RowsAffected, nil
}

// Facts 按时间顺序返回全部事实；读取失败返回空列表
func (s *Store) Facts(ctx context.Context) []MemoryFact {
	var facts []MemoryFact
	if err := s.dbCtx(ctx).Order("id asc").Find(&facts).Error; err != nil {
		s.logger.Warn("memory facts degraded", zap.Error(err))
		return []MemoryFact{}
	}
	return facts
}

// RecentFacts 返回最近 n 条事实文本（时间顺序）；读取失败返回 nil
func (s *Store) RecentFacts(ctx context.Context, n int) []string {
	var facts []MemoryFact
	if err := s.dbCtx(ctx).Order("id desc").Limit(n).Find(&facts).Error; err != nil {
		s.logger.Warn("recent memory facts degraded", zap.Error(err))
		return nil
	}
	out := make([]string, len(facts))
	for i, f := range facts {
		out[len(facts)-1-i] = f.Fact
	}
	return out
}
