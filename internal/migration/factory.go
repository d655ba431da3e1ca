package migration

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	appconfig "github.com/BaSui01/kyronex/config"
)

// NewMigratorFromDatabaseConfig 按应用的数据库配置创建 migrator（sqlite 时 Name 是文件路径）
func NewMigratorFromDatabaseConfig(dbCfg appconfig.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	dbURL := BuildDatabaseURL(dbType, Endpoint{
		Host:     dbCfg.Host,
		Port:     dbCfg.Port,
		Database: dbCfg.Name,
		User:     dbCfg.User,
		Password: dbCfg.Password,
		SSLMode:  dbCfg.SSLMode,
	})

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
		Logger:       logger,
	})
}

// ApplyAll 迁移到最新版本并返回版本号，serve 启动时调用
func ApplyAll(ctx context.Context, dbCfg appconfig.DatabaseConfig, logger *zap.Logger) (uint, error) {
	m, err := NewMigratorFromDatabaseConfig(dbCfg, logger)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	if err := m.Up(ctx); err != nil {
		return 0, err
	}
	v, _, err := m.Version(ctx)
	return v, err
}
