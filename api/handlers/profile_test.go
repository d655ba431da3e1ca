package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/kyronex/agent/conversation"
	"github.com/BaSui01/kyronex/agent/persistence"
	"github.com/BaSui01/kyronex/api"
)

func newProfileHandler(t *testing.T) (*ProfileHandler, *persistence.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "kyronex.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	store := persistence.New(db, zap.NewNop())
	require.NoError(t, store.AutoMigrate(context.Background()))
	id := NewIdentity(mapResolver{"192.168.1.42": "AA:BB:CC:DD:EE:FF"})
	return NewProfileHandler(store, store, persistence.NewStats(store), id, zap.NewNop()), store
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestProfileHandler_NameAndWhoAmI(t *testing.T) {
	h, _ := newProfileHandler(t)

	w := httptest.NewRecorder()
	h.HandleWhoAmI(w, postJSON("/api/whoami", ""))
	who := decode[api.WhoAmIResponse](t, w)
	assert.Equal(t, api.WhoAmIResponse{MAC: "AA:BB:CC:DD:EE:FF", IP: "192.168.1.42"}, who)

	w = httptest.NewRecorder()
	h.HandleSetName(w, postJSON("/api/set-name", `{"name":"  Michael Knight de la Fondation  ","lang":"en"}`))
	require.Equal(t, http.StatusOK, w.Code)
	named := decode[api.SetNameResponse](t, w)
	assert.True(t, named.OK)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", named.MAC)
	assert.LessOrEqual(t, len([]rune(named.Name)), persistence.MaxNameRunes)

	w = httptest.NewRecorder()
	h.HandleWhoAmI(w, postJSON("/api/whoami", ""))
	who = decode[api.WhoAmIResponse](t, w)
	assert.Equal(t, named.Name, who.Name)
	assert.Equal(t, "en", who.Lang)

	w = httptest.NewRecorder()
	h.HandleSetName(w, postJSON("/api/set-name", `{"name":"   "}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Nom requis")
}

func TestProfileHandler_SetLang(t *testing.T) {
	h, store := newProfileHandler(t)

	w := httptest.NewRecorder()
	h.HandleSetLang(w, postJSON("/api/set-lang", `{"lang":"DE"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, api.SetLangResponse{OK: true, Lang: "de"}, decode[api.SetLangResponse](t, w))
	assert.Equal(t, "de", store.Profile(context.Background(), "AA:BB:CC:DD:EE:FF").Lang)

	w = httptest.NewRecorder()
	h.HandleSetLang(w, postJSON("/api/set-lang", `{"lang":"xx"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Langue inconnue: xx")
}

func TestProfileHandler_SetLang_Session(t *testing.T) {
	h, _ := newProfileHandler(t)
	sessions := conversation.NewStore(conversation.DefaultStoreConfig(), nil, nil)
	h.WithSessions(sessions)

	w := httptest.NewRecorder()
	h.HandleSetLang(w, postJSON("/api/set-lang", `{"lang":"it","session_id":"s7"}`))
	require.Equal(t, http.StatusOK, w.Code)

	sess, ok := sessions.Peek("s7")
	require.True(t, ok)
	assert.Equal(t, "it", sess.Language())

	w = httptest.NewRecorder()
	h.HandleSetLang(w, postJSON("/api/set-lang", `{"lang":"pt"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, sessions.Len())
}

func TestProfileHandler_PingAndStats(t *testing.T) {
	h, _ := newProfileHandler(t)

	w := httptest.NewRecorder()
	h.HandlePing(w, postJSON("/api/ping", `not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, decode[api.PingResponse](t, w).OK)

	w = httptest.NewRecorder()
	h.HandlePing(w, postJSON("/api/ping", `{"session_id":"s1","name":"Bonnie"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, api.PingResponse{OK: true, Active: 1}, decode[api.PingResponse](t, w))

	w = httptest.NewRecorder()
	h.HandlePing(w, postJSON("/api/ping", `{"session_id":"s1"}`))
	assert.Equal(t, 1, decode[api.PingResponse](t, w).Active)

	w = httptest.NewRecorder()
	h.HandleStats(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	sum := decode[persistence.Summary](t, w)
	assert.Equal(t, 1, sum.Current)
	assert.EqualValues(t, 1, sum.Last24h)
	assert.Equal(t, []string{"192.168.1.42"}, sum.RecentIPs)
	require.Len(t, sum.ActiveSessions, 1)
	assert.Equal(t, "192.168.1.42", sum.ActiveSessions[0].IP)
}

func TestProfileHandler_Memory(t *testing.T) {
	h, _ := newProfileHandler(t)

	w := httptest.NewRecorder()
	h.HandleMemory(w, httptest.NewRequest(http.MethodGet, "/api/memory", nil))
	assert.JSONEq(t, `{"facts":[]}`, w.Body.String())

	w = httptest.NewRecorder()
	h.HandleMemoryAdd(w, postJSON("/api/memory", `{"fact":"Manix aime la pizza"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, api.MemoryAddResponse{OK: true, Total: 1}, decode[api.MemoryAddResponse](t, w))

	w = httptest.NewRecorder()
	h.HandleMemoryAdd(w, postJSON("/api/memory", `{"fact":"  "}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Fait requis")

	w = httptest.NewRecorder()
	h.HandleMemory(w, httptest.NewRequest(http.MethodGet, "/api/memory", nil))
	mem := decode[api.MemoryResponse](t, w)
	require.Len(t, mem.Facts, 1)
	assert.Equal(t, "Manix aime la pizza", mem.Facts[0].Fact)
	assert.Equal(t, "manual", mem.Facts[0].User)
	assert.NotEmpty(t, mem.Facts[0].Date)
}
