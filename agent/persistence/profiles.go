package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// MaxNameRunes 名字最大长度
	MaxNameRunes = 30
	// MaxLangRunes 语言代码最大长度
	MaxLangRunes = 5
)

// Profile 返回设备档案。未登记或读取失败时返回只带 DeviceKey 的默认值。
func (s *Store) Profile(ctx context.Context, deviceKey string) DeviceProfile {
	p, err := s.LookupProfile(ctx, deviceKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("profile lookup degraded", zap.String("device", deviceKey), zap.Error(err))
		}
		return DeviceProfile{DeviceKey: deviceKey}
	}
	return p
}

// LookupProfile 读取设备档案
func (s *Store) LookupProfile(ctx context.Context, deviceKey string) (DeviceProfile, error) {
	var p DeviceProfile
	err := s.dbCtx(ctx).Where("device_key = ?", deviceKey).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DeviceProfile{}, ErrNotFound
	}
	if err != nil {
		return DeviceProfile{}, fmt.Errorf("lookup profile: %w", err)
	}
	return p, nil
}

// SetName 登记名字，lang 非空时一并更新语言。返回裁剪后的名字。
func (s *Store) SetName(ctx context.Context, deviceKey, name, lang string) (string, error) {
	name = clip(name, MaxNameRunes)
	if deviceKey == "" || name == "" {
		return "", ErrInvalidInput
	}
	lang = clip(lang, MaxLangRunes)

	p := DeviceProfile{DeviceKey: deviceKey, Name: name, Lang: lang, CreatedAt: s.now(), UpdatedAt: s.now()}
	cols := []string{"name", "updated_at"}
	if lang != "" {
		cols = append(cols, "lang")
	}
	if err := s.upsert(ctx, &p, cols); err != nil {
		return "", err
	}
	s.logger.Info("device named", zap.String("device", deviceKey), zap.String("name", name), zap.String("lang", lang))
	return name, nil
}

// SetLang 记录语言偏好
func (s *Store) SetLang(ctx context.Context, deviceKey, lang string) error {
	lang = clip(lang, MaxLangRunes)
	if deviceKey == "" || lang == "" {
		return ErrInvalidInput
	}
	p := DeviceProfile{DeviceKey: deviceKey, Lang: lang, CreatedAt: s.now(), UpdatedAt: s.now()}
	if err := s.upsert(ctx, &p, []string{"lang", "updated_at"}); err != nil {
		return err
	}
	s.logger.Info("language preference set", zap.String("device", deviceKey), zap.String("lang", lang))
	return nil
}

func (s *Store) upsert(ctx context.Context, p *DeviceProfile, cols []string) error {
	err := s.dbCtx(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_key"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(p).Error
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// DisplayName 设备的显示名：登记的名字，否则 IP 最后一段
func DisplayName(p DeviceProfile, ip string) string {
	if p.Name != "" {
		return p.Name
	}
	if i := strings.LastIndexByte(ip, '.'); i >= 0 {
		return ip[i+1:]
	}
	return ip
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) > n {
		return strings.TrimSpace(string(r[:n]))
	}
	return s
}
