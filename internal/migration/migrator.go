package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// =============================================================================
// 🗄️ 方言
// =============================================================================

// DatabaseType 支持的数据库
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// Endpoint 拼连接串需要的字段；sqlite 只用 Database（文件路径）
type Endpoint struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// dialect database/sql 驱动名、golang-migrate 驱动、内嵌目录与连接串格式
type dialect struct {
	sqlDriver string
	dir       string
	url       func(e Endpoint) string
	open      func(db *sql.DB, table string) (database.Driver, error)
}

var dialects = map[DatabaseType]dialect{
	DatabaseTypePostgres: {
		sqlDriver: "postgres",
		dir:       "migrations/postgres",
		url: func(e Endpoint) string {
			ssl := e.SSLMode
			if ssl == "" {
				ssl = "disable"
			}
			return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", e.User, e.Password, e.Host, e.Port, e.Database, ssl)
		},
		open: func(db *sql.DB, table string) (database.Driver, error) {
			return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
		},
	},
	DatabaseTypeMySQL: {
		sqlDriver: "mysql",
		dir:       "migrations/mysql",
		url: func(e Endpoint) string {
			return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true", e.User, e.Password, e.Host, e.Port, e.Database)
		},
		open: func(db *sql.DB, table string) (database.Driver, error) {
			return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
		},
	},
	// golang-migrate 的 sqlite3 驱动注册名是 "sqlite3"（cgo）；
	// 应用本身通过纯 Go 的 glebarez/sqlite 打开同一个文件。
	DatabaseTypeSQLite: {
		sqlDriver: "sqlite3",
		dir:       "migrations/sqlite",
		url:       func(e Endpoint) string { return "file:" + e.Database + "?mode=rwc" },
		open: func(db *sql.DB, table string) (database.Driver, error) {
			return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: table})
		},
	},
}

// ParseDatabaseType 接受常见别名，大小写不敏感
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	}
	return "", fmt.Errorf("unsupported database type: %s", s)
}

// BuildDatabaseURL 未知类型返回空串
func BuildDatabaseURL(dbType DatabaseType, e Endpoint) string {
	d, ok := dialects[dbType]
	if !ok {
		return ""
	}
	return d.url(e)
}

// =============================================================================
// 📋 接口与配置
// =============================================================================

// MigrationStatus 一个迁移文件的状态
type MigrationStatus struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// MigrationInfo 汇总
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Config DatabaseURL 由 BuildDatabaseURL 生成；TableName 默认 schema_migrations
type Config struct {
	DatabaseType DatabaseType
	DatabaseURL  string
	TableName    string
	LockTimeout  time.Duration
	Logger       *zap.Logger
}

// Migrator 版本化迁移操作。ctx 取消时正在执行的迁移在当前文件结束后停止。
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	DownAll(ctx context.Context) error
	Steps(ctx context.Context, n int) error
	Goto(ctx context.Context, version uint) error
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// =============================================================================
// 🔧 golang-migrate 实现
// =============================================================================

// DefaultMigrator 基于内嵌 SQL 文件的 golang-migrate 实现
type DefaultMigrator struct {
	dbType  DatabaseType
	dialect dialect
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// NewMigrator 打开数据库并绑定对应方言的内嵌迁移
func NewMigrator(cfg *Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required")
	}
	d, ok := dialects[cfg.DatabaseType]
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DatabaseType)
	}
	table := cfg.TableName
	if table == "" {
		table = "schema_migrations"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "migration"), zap.String("db", string(cfg.DatabaseType)))

	db, err := sql.Open(d.sqlDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migrator: open: %w", err)
	}
	mg, err := bind(db, d, table, string(cfg.DatabaseType))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	mg.LockTimeout = cfg.LockTimeout
	if mg.LockTimeout == 0 {
		mg.LockTimeout = 15 * time.Second
	}
	mg.Log = migrateLogger{logger}

	return &DefaultMigrator{dbType: cfg.DatabaseType, dialect: d, migrate: mg, logger: logger}, nil
}

func bind(db *sql.DB, d dialect, table, name string) (*migrate.Migrate, error) {
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	driver, err := d.open(db, table)
	if err != nil {
		return nil, fmt.Errorf("database driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, d.dir)
	if err != nil {
		return nil, fmt.Errorf("source driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, name, driver)
}

// exec 执行一次迁移操作。ErrNoChange 不算错误；ctx 取消时通知 golang-migrate 优雅停止。
func (m *DefaultMigrator) exec(ctx context.Context, op string, fn func() error) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			select {
			case m.migrate.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()

	start := time.Now()
	err := fn()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Debug("no change", zap.String("op", op))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", op, err)
	}
	m.logger.Info("migration applied", zap.String("op", op), zap.Duration("took", time.Since(start)))
	return nil
}

func (m *DefaultMigrator) Up(ctx context.Context) error {
	return m.exec(ctx, "up", m.migrate.Up)
}

// Down 回滚最近一个
func (m *DefaultMigrator) Down(ctx context.Context) error {
	return m.exec(ctx, "down", func() error { return m.migrate.Steps(-1) })
}

func (m *DefaultMigrator) DownAll(ctx context.Context) error {
	return m.exec(ctx, "down all", m.migrate.Down)
}

// Steps n > 0 前进，n < 0 回滚
func (m *DefaultMigrator) Steps(ctx context.Context, n int) error {
	return m.exec(ctx, "steps", func() error { return m.migrate.Steps(n) })
}

func (m *DefaultMigrator) Goto(ctx context.Context, version uint) error {
	return m.exec(ctx, "goto", func() error { return m.migrate.Migrate(version) })
}

// Force 只改版本记录，不执行 SQL（用于清除 dirty）
func (m *DefaultMigrator) Force(ctx context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	return nil
}

// Version 尚未应用任何迁移时返回 0
func (m *DefaultMigrator) Version(ctx context.Context) (uint, bool, error) {
	v, dirty, err := m.migrate.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return v, dirty, nil
}

func (m *DefaultMigrator) snapshot(ctx context.Context) ([]MigrationStatus, uint, bool, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, 0, false, err
	}
	files, err := availableMigrations(m.dialect.dir)
	if err != nil {
		return nil, 0, false, err
	}
	out := make([]MigrationStatus, len(files))
	for i, f := range files {
		out[i] = MigrationStatus{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		}
	}
	return out, current, dirty, nil
}

// Status 每个内嵌迁移文件一行
func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	statuses, _, _, err := m.snapshot(ctx)
	return statuses, err
}

func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	statuses, current, dirty, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	info := &MigrationInfo{CurrentVersion: current, Dirty: dirty, TotalMigrations: len(statuses)}
	for _, s := range statuses {
		if s.Applied {
			info.AppliedMigrations++
		}
	}
	info.PendingMigrations = info.TotalMigrations - info.AppliedMigrations
	return info, nil
}

// Close 同时关闭 source 与 database 驱动
func (m *DefaultMigrator) Close() error {
	if m.migrate == nil {
		return nil
	}
	srcErr, dbErr := m.migrate.Close()
	return errors.Join(srcErr, dbErr)
}

type migrationFile struct {
	version uint
	name    string
}

// availableMigrations 列出某方言的 up 文件（000001_init_devices.up.sql），按版本排序
func availableMigrations(dir string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	byVersion := make(map[uint]string)
	for _, e := range entries {
		base, ok := strings.CutSuffix(e.Name(), ".up.sql")
		if e.IsDir() || !ok {
			continue
		}
		num, name, ok := strings.Cut(base, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(num, 10, 32)
		if err != nil {
			continue
		}
		if _, dup := byVersion[uint(v)]; !dup {
			byVersion[uint(v)] = name
		}
	}

	files := make([]migrationFile, 0, len(byVersion))
	for v, name := range byVersion {
		files = append(files, migrationFile{version: v, name: name})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// migrateLogger 把 golang-migrate 的日志转到 zap Debug
type migrateLogger struct{ l *zap.Logger }

func (ml migrateLogger) Printf(format string, v ...interface{}) {
	ml.l.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (ml migrateLogger) Verbose() bool { return false }
