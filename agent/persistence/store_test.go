package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "kyronex.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	clock := &fakeClock{now: time.Date(2026, 10, 19, 14, 5, 0, 0, time.UTC)}
	store := New(db, zap.NewNop(), WithClock(clock.Now))
	require.NoError(t, store.AutoMigrate(context.Background()))
	return store, clock
}

func newBrokenStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return New(db, nil), mock
}

// =============================================================================
// 👤 设备档案
// =============================================================================

func TestProfiles(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	p := store.Profile(ctx, "aa:bb:cc:dd:ee:ff")
	assert.Equal(t, DeviceProfile{DeviceKey: "aa:bb:cc:dd:ee:ff"}, p)

	name, err := store.SetName(ctx, "aa:bb:cc:dd:ee:ff", "  Michael Knight de la Fondation pour la Loi  ", "en")
	require.NoError(t, err)
	assert.Equal(t, "Michael Knight de la Fondation", name)
	assert.LessOrEqual(t, len([]rune(name)), MaxNameRunes)

	p = store.Profile(ctx, "aa:bb:cc:dd:ee:ff")
	assert.Equal(t, name, p.Name)
	assert.Equal(t, "en", p.Lang)

	// 只改名字时保留语言
	_, err = store.SetName(ctx, "aa:bb:cc:dd:ee:ff", "Devon", "")
	require.NoError(t, err)
	require.NoError(t, store.SetLang(ctx, "aa:bb:cc:dd:ee:ff", "de"))
	p = store.Profile(ctx, "aa:bb:cc:dd:ee:ff")
	assert.Equal(t, "Devon", p.Name)
	assert.Equal(t, "de", p.Lang)

	// 只设置语言的新设备没有名字
	require.NoError(t, store.SetLang(ctx, "192.168.1.42", "it"))
	p = store.Profile(ctx, "192.168.1.42")
	assert.Equal(t, "", p.Name)
	assert.Equal(t, "it", p.Lang)

	_, err = store.SetName(ctx, "x", "   ", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = store.LookupProfile(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Michael", DisplayName(DeviceProfile{Name: "Michael"}, "192.168.1.42"))
	assert.Equal(t, "42", DisplayName(DeviceProfile{}, "192.168.1.42"))
	assert.Equal(t, "::1", DisplayName(DeviceProfile{}, "::1"))
}

// =============================================================================
// 📊 连接统计
// =============================================================================

func TestStats_BeatAndSummary(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)
	stats := NewStats(store)

	n, isNew := stats.Beat(ctx, Heartbeat{SessionID: "s1", IP: "192.168.1.10", Name: "Michael", Lang: "fr"})
	assert.Equal(t, 1, n)
	assert.True(t, isNew)

	clock.Advance(30 * time.Second)
	n, isNew = stats.Beat(ctx, Heartbeat{SessionID: "s1", IP: "192.168.1.10", Name: "Michael", Lang: "fr"})
	assert.Equal(t, 1, n)
	assert.False(t, isNew, "repeat heartbeat is not a new connection")

	n, _ = stats.Beat(ctx, Heartbeat{SessionID: "s2", IP: "192.168.1.11"})
	assert.Equal(t, 2, n)

	sum := stats.Summary(ctx)
	assert.Equal(t, 2, sum.Current)
	assert.EqualValues(t, 2, sum.Last24h)
	assert.EqualValues(t, 2, sum.Last7d)
	assert.Equal(t, []string{"192.168.1.11", "192.168.1.10"}, sum.RecentIPs)
	require.Len(t, sum.ActiveSessions, 2)
	for _, a := range sum.ActiveSessions {
		if a.IP == "192.168.1.11" {
			assert.Equal(t, "?", a.Name)
			assert.Equal(t, "?", a.Lang)
		}
	}

	// s1 心跳超时被清理，s2 保持
	clock.Advance(70 * time.Second)
	stats.Beat(ctx, Heartbeat{SessionID: "s2", IP: "192.168.1.11"})
	clock.Advance(30 * time.Second)
	active := stats.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "s2", active[0].SessionID)

	// 两天后 24h 窗口为空，7d 窗口仍计数
	clock.Advance(48 * time.Hour)
	sum = stats.Summary(ctx)
	assert.Equal(t, 0, sum.Current)
	assert.EqualValues(t, 0, sum.Last24h)
	assert.EqualValues(t, 2, sum.Last7d)
}

func TestStats_RecordTrimsToCap(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	stats := NewStats(store)

	extra := 5
	for i := 0; i < MaxConnectionRecords+extra; i++ {
		require.NoError(t, stats.Record(ctx, Heartbeat{SessionID: fmt.Sprint(i), IP: "10.0.0.1"}))
	}

	var count int64
	require.NoError(t, store.db.Model(&ConnectionRecord{}).Count(&count).Error)
	assert.EqualValues(t, MaxConnectionRecords, count)

	var oldest ConnectionRecord
	require.NoError(t, store.db.Order("id asc").Take(&oldest).Error)
	assert.Equal(t, fmt.Sprint(extra), oldest.SessionID)
}

func TestStats_RecentIPsDistinctAndBounded(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	stats := NewStats(store)

	for i := 0; i < 15; i++ {
		require.NoError(t, stats.Record(ctx, Heartbeat{SessionID: fmt.Sprint(i), IP: fmt.Sprintf("10.0.0.%d", i%12)}))
	}
	sum := stats.Summary(ctx)
	require.Len(t, sum.RecentIPs, recentIPLimit)
	assert.Equal(t, "10.0.0.2", sum.RecentIPs[0])
	assert.Equal(t, "10.0.0.1", sum.RecentIPs[1])
	assert.Equal(t, "10.0.0.0", sum.RecentIPs[2])
	assert.Equal(t, "10.0.0.11", sum.RecentIPs[3])
}

// =============================================================================
// 🧠 记忆事实
// =============================================================================

func TestMemoryFacts(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	for i := 0; i < MaxMemoryFacts+3; i++ {
		user := "Michael"
		if i%2 == 1 {
			user = "Devon"
		}
		_, err := store.AddFact(ctx, fmt.Sprintf("[%s] fait %d", user, i), user)
		require.NoError(t, err)
	}

	facts := store.Facts(ctx)
	require.Len(t, facts, MaxMemoryFacts)
	assert.Equal(t, "[Devon] fait 3", facts[0].Fact, "oldest facts trimmed")
	assert.Equal(t, "2026-10-19", facts[0].Day)

	recent := store.RecentFacts(ctx, 5)
	assert.Equal(t, []string{
		"[Michael] fait 48", "[Devon] fait 49", "[Michael] fait 50", "[Devon] fait 51", "[Michael] fait 52",
	}, recent)

	removed, err := store.ForgetUser(ctx, "Devon")
	require.NoError(t, err)
	assert.EqualValues(t, 25, removed)
	for _, f := range store.Facts(ctx) {
		assert.Equal(t, "Michael", f.UserName)
	}

	_, err = store.AddFact(ctx, "", "Michael")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

// =============================================================================
// 📝 转录
// =============================================================================

func TestTranscript(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)

	require.NoError(t, store.AppendExchange(ctx, "Michael", "KITT", "Bonjour", "Bonjour Michael."))
	clock.Advance(time.Minute)
	require.NoError(t, store.AppendExchange(ctx, "Michael", "KITT", "Quelle heure ?", "Il est 14 heures 06."))
	require.NoError(t, store.AppendExchange(ctx, "Devon", "KITT", "Statut ?", "Opérationnel."))

	lines, err := store.Transcript(ctx, "Michael", "2026-10-19")
	require.NoError(t, err)
	require.Len(t, lines, 4)
	assert.Equal(t,
		"[14:05] MICHAEL: Bonjour\n"+
			"[14:05] KITT: Bonjour Michael.\n"+
			"[14:06] MICHAEL: Quelle heure ?\n"+
			"[14:06] KITT: Il est 14 heures 06.\n",
		FormatTranscript(lines))
}

// =============================================================================
// 🩹 降级
// =============================================================================

func TestDegradedReads(t *testing.T) {
	ctx := context.Background()
	store, mock := newBrokenStore(t)

	mock.ExpectQuery("device_profiles").WillReturnError(sql.ErrConnDone)
	assert.Equal(t, DeviceProfile{DeviceKey: "k"}, store.Profile(ctx, "k"))

	mock.ExpectQuery("memory_facts").WillReturnError(sql.ErrConnDone)
	assert.Empty(t, store.Facts(ctx))

	mock.ExpectQuery("memory_facts").WillReturnError(sql.ErrConnDone)
	assert.Nil(t, store.RecentFacts(ctx, 5))

	stats := NewStats(store)
	mock.ExpectQuery("connection_records").WillReturnError(sql.ErrConnDone)
	mock.ExpectQuery("connection_records").WillReturnError(sql.ErrConnDone)
	mock.ExpectQuery("connection_records").WillReturnError(sql.ErrConnDone)
	sum := stats.Summary(ctx)
	assert.Zero(t, sum.Last24h)
	assert.Zero(t, sum.Last7d)
	assert.Empty(t, sum.RecentIPs)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDegradedWritesReturnErrors(t *testing.T) {
	ctx := context.Background()
	store, mock := newBrokenStore(t)

	mock.ExpectBegin().WillReturnError(sql.ErrConnDone)
	_, err := store.AddFact(ctx, "[Michael] j'aime les voitures", "Michael")
	assert.Error(t, err)
}
