package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/internal/migration"
)

// =============================================================================
// 🗄️ migrate 子命令
// =============================================================================

// runMigrate 解析 "migrate <command> [arg] [flags]" 并交给 migration.CLI
func runMigrate(args []string) {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Print(migration.Usage)
		if len(args) == 0 {
			os.Exit(1)
		}
		return
	}

	command := args[0]
	fs := flag.NewFlagSet("migrate "+command, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (sqlite, postgres, mysql)")
	dbName := fs.String("db-name", "", "Database name or sqlite file path")
	all := fs.Bool("all", false, "With down: roll back every migration")

	// 位置参数（版本号/步数）允许出现在 flag 之前
	rest := args[1:]
	var positional []string
	if len(rest) > 0 && (len(rest[0]) == 0 || rest[0][0] != '-' || isNumber(rest[0])) {
		positional = append(positional, rest[0])
		rest = rest[1:]
	}
	if err := fs.Parse(rest); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}
	positional = append(positional, fs.Args()...)
	if command == "down" && *all {
		command = "down-all"
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}
	if *dbName != "" {
		cfg.Database.Name = *dbName
	}

	logger := initLogger(cfg.Log).With(zap.String("command", "migrate"))
	migrator, err := migration.NewMigratorFromDatabaseConfig(cfg.Database, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}

	runErr := migration.NewCLI(migrator).Run(context.Background(), append([]string{command}, positional...))
	_ = migrator.Close()
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "migrate %s failed: %v\n", command, runErr)
		os.Exit(1)
	}
}

// isNumber 允许 "steps -1" 这类负数位置参数
func isNumber(s string) bool {
	if s == "" || s == "-" {
		return false
	}
	for i, r := range s {
		if r == '-' && i == 0 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
