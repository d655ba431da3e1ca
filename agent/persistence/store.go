package persistence

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 常见错误
var (
	ErrNotFound     = errors.New("persistence: not found")
	ErrInvalidInput = errors.New("persistence: invalid input")
)

// =============================================================================
// 📦 表模型
// =============================================================================

// DeviceProfile 设备档案
type DeviceProfile struct {
	DeviceKey string    `gorm:"column:device_key;primaryKey" json:"device_key"`
	Name      string    `gorm:"column:name" json:"name"`
	Lang      string    `gorm:"column:lang" json:"lang"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName GORM 表名
func (DeviceProfile) TableName() string { return "device_profiles" }

// ConnectionRecord 新会话的连接记录
type ConnectionRecord struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"column:session_id" json:"session_id"`
	IP        string    `gorm:"column:ip" json:"ip"`
	MAC       string    `gorm:"column:mac" json:"mac"`
	Name      string    `gorm:"column:name" json:"name"`
	Lang      string    `gorm:"column:lang" json:"lang"`
	SeenAt    time.Time `gorm:"column:seen_at" json:"seen_at"`
}

// TableName GORM 表名
func (ConnectionRecord) TableName() string { return "connection_records" }

// MemoryFact 记忆事实
type MemoryFact struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Fact      string    `gorm:"column:fact" json:"fact"`
	UserName  string    `gorm:"column:user_name" json:"user"`
	Day       string    `gorm:"column:day" json:"date"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName GORM 表名
func (MemoryFact) TableName() string { return "memory_facts" }

// TranscriptLine 转录行
type TranscriptLine struct {
	ID       uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserName string    `gorm:"column:user_name" json:"user"`
	Day      string    `gorm:"column:day" json:"day"`
	Speaker  string    `gorm:"column:speaker" json:"speaker"`
	Text     string    `gorm:"column:text" json:"text"`
	SpokenAt time.Time `gorm:"column:spoken_at" json:"spoken_at"`
}

// TableName GORM 表名
func (TranscriptLine) TableName() string { return "transcript_lines" }

// Models 返回全部表模型，供 AutoMigrate 使用
func Models() []any {
	return []any{&DeviceProfile{}, &ConnectionRecord{}, &MemoryFact{}, &TranscriptLine{}}
}

// =============================================================================
// 🗄 Store
// =============================================================================

// Store 持久化入口
type Store struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// Option Store 选项
type Option func(*Store)

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New 创建 Store
func New(db *gorm.DB, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		db:     db,
		now:    time.Now,
		logger: logger.With(zap.String("component", "persistence")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AutoMigrate 按模型建表。生产环境使用 kyronex migrate；测试与开发使用本方法。
func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(Models()...)
}

// Ping 检查数据库连接
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) dbCtx(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}
