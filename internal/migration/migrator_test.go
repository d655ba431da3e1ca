package migration

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/kyronex/config"
)

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		input    string
		expected DatabaseType
		wantErr  bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"postgresql", DatabaseTypePostgres, false},
		{"pg", DatabaseTypePostgres, false},
		{"mysql", DatabaseTypeMySQL, false},
		{"mariadb", DatabaseTypeMySQL, false},
		{"sqlite", DatabaseTypeSQLite, false},
		{"SQLITE3", DatabaseTypeSQLite, false},
		{"mongo", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDatabaseType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestBuildDatabaseURL(t *testing.T) {
	remote := Endpoint{Host: "db", Port: 5432, Database: "kyronex", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@db:5432/kyronex?sslmode=disable", BuildDatabaseURL(DatabaseTypePostgres, remote))

	remote.SSLMode = "require"
	assert.Equal(t, "postgres://u:p@db:5432/kyronex?sslmode=require", BuildDatabaseURL(DatabaseTypePostgres, remote))

	remote.Port = 3306
	assert.Equal(t, "u:p@tcp(db:3306)/kyronex?parseTime=true&multiStatements=true", BuildDatabaseURL(DatabaseTypeMySQL, remote))

	assert.Equal(t, "file:/var/lib/kyronex.db?mode=rwc", BuildDatabaseURL(DatabaseTypeSQLite, Endpoint{Database: "/var/lib/kyronex.db"}))
	assert.Empty(t, BuildDatabaseURL("oracle", Endpoint{}))
}

func TestNewMigrator_InvalidConfig(t *testing.T) {
	_, err := NewMigrator(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config is required")

	_, err = NewMigrator(&Config{DatabaseType: DatabaseTypeSQLite})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")

	_, err = NewMigrator(&Config{DatabaseType: "oracle", DatabaseURL: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}

func TestNewMigratorFromDatabaseConfig_InvalidDriver(t *testing.T) {
	_, err := NewMigratorFromDatabaseConfig(config.DatabaseConfig{Driver: "oracle"}, nil)
	assert.Error(t, err)
}

func TestAvailableMigrations_AllDialectsAligned(t *testing.T) {
	var names [][]migrationFile
	for _, dt := range []DatabaseType{DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeSQLite} {
		files, err := availableMigrations(dialects[dt].dir)
		require.NoError(t, err, dt)
		require.NotEmpty(t, files)
		for i := 1; i < len(files); i++ {
			assert.Greater(t, files[i].version, files[i-1].version)
		}
		names = append(names, files)
	}
	assert.Equal(t, names[0], names[1])
	assert.Equal(t, names[0], names[2])
	assert.Equal(t, "init_devices", names[0][0].name)
}

// newSQLiteMigrator cgo sqlite3 驱动不可用时跳过
func newSQLiteMigrator(t *testing.T) *DefaultMigrator {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping sqlite integration test in short mode")
	}
	dbPath := filepath.Join(t.TempDir(), "kyronex.db")
	m, err := NewMigrator(&Config{
		DatabaseType: DatabaseTypeSQLite,
		DatabaseURL:  "file:" + dbPath + "?mode=rwc",
	})
	if err != nil && strings.Contains(err.Error(), "CGO_ENABLED") {
		t.Skip("sqlite3 driver requires cgo")
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMigrator_SQLite_Integration(t *testing.T) {
	m := newSQLiteMigrator(t)
	ctx := context.Background()

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx)) // no change is not an error

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), info.CurrentVersion)
	assert.Equal(t, info.TotalMigrations, info.AppliedMigrations)
	assert.Equal(t, 0, info.PendingMigrations)

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[1].Applied)

	require.NoError(t, m.Down(ctx))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

// =============================================================================
// CLI
// =============================================================================

type fakeMigrator struct {
	version uint
	calls   []string
}

func (f *fakeMigrator) Up(context.Context) error      { f.calls = append(f.calls, "up"); f.version = 2; return nil }
func (f *fakeMigrator) Down(context.Context) error    { f.calls = append(f.calls, "down"); f.version--; return nil }
func (f *fakeMigrator) DownAll(context.Context) error { f.calls = append(f.calls, "down-all"); f.version = 0; return nil }
func (f *fakeMigrator) Steps(_ context.Context, n int) error {
	f.calls = append(f.calls, "steps")
	f.version = uint(int(f.version) + n)
	return nil
}
func (f *fakeMigrator) Goto(_ context.Context, v uint) error {
	f.calls = append(f.calls, "goto")
	f.version = v
	return nil
}
func (f *fakeMigrator) Force(_ context.Context, v int) error {
	f.calls = append(f.calls, "force")
	f.version = uint(v)
	return nil
}
func (f *fakeMigrator) Version(context.Context) (uint, bool, error) { return f.version, false, nil }
func (f *fakeMigrator) Status(context.Context) ([]MigrationStatus, error) {
	return []MigrationStatus{
		{Version: 1, Name: "init_devices", Applied: f.version >= 1},
		{Version: 2, Name: "memory_transcripts", Applied: f.version >= 2},
	}, nil
}
func (f *fakeMigrator) Info(context.Context) (*MigrationInfo, error) {
	applied := int(f.version)
	return &MigrationInfo{CurrentVersion: f.version, TotalMigrations: 2, AppliedMigrations: applied, PendingMigrations: 2 - applied}, nil
}
func (f *fakeMigrator) Close() error { return nil }

func newTestCLI() (*CLI, *fakeMigrator, *bytes.Buffer) {
	fm := &fakeMigrator{}
	cli := NewCLI(fm)
	var buf bytes.Buffer
	cli.SetOutput(&buf)
	return cli, fm, &buf
}

func TestCLI_Run(t *testing.T) {
	ctx := context.Background()
	cli, fm, buf := newTestCLI()

	require.NoError(t, cli.Run(ctx, []string{"version"}))
	assert.Contains(t, buf.String(), "Schema version: none")

	require.NoError(t, cli.Run(ctx, []string{"up"}))
	assert.Contains(t, buf.String(), "Schema version: 2")

	buf.Reset()
	require.NoError(t, cli.Run(ctx, []string{"status"}))
	assert.Contains(t, buf.String(), "000002")
	assert.Contains(t, buf.String(), "applied=2 pending=0")

	require.NoError(t, cli.Run(ctx, []string{"steps", "-1"}))
	assert.Equal(t, uint(1), fm.version)

	require.NoError(t, cli.Run(ctx, []string{"goto", "2"}))
	assert.Equal(t, []string{"up", "steps", "goto"}, fm.calls)
}

func TestCLI_RunErrors(t *testing.T) {
	ctx := context.Background()
	cli, _, buf := newTestCLI()

	assert.Error(t, cli.Run(ctx, nil))
	assert.Contains(t, buf.String(), "usage: kyronex migrate")

	assert.Error(t, cli.Run(ctx, []string{"sideways"}))
	assert.Error(t, cli.Run(ctx, []string{"steps"}))
	assert.Error(t, cli.Run(ctx, []string{"force", "abc"}))
	assert.Error(t, cli.Run(ctx, []string{"goto", "-3"}))
}
