package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/api"
	"github.com/BaSui01/kyronex/config"
	"github.com/BaSui01/kyronex/internal/metrics"
)

// 整个进程只能注册一次 promauto 指标
func TestServer_RoutesEndToEnd(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "static"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "static", "index.html"), []byte("<html>KITT</html>"), 0o644))

	cfg := config.DefaultConfig()
	cfg.Database.Name = filepath.Join(dir, "data", "kyronex.db")
	cfg.Server.AudioDir = filepath.Join(dir, "audio")
	cfg.Server.StaticDir = filepath.Join(dir, "static")
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Knowledge.Dir = filepath.Join(dir, "knowledge")
	cfg.LLM.BaseURL = "http://127.0.0.1:1"
	cfg.LLM.Timeout = time.Second
	cfg.Proactive.Enabled = false

	s := NewServer(cfg, zap.NewNop())
	s.collector = metrics.NewCollector("kyronex_test", zap.NewNop())
	require.NoError(t, s.initStorage())
	require.NoError(t, s.initPipeline())
	t.Cleanup(s.Shutdown)

	handler := Chain(s.routes(), Recovery(zap.NewNop()), RequestID(), Observe(zap.NewNop(), s.collector))
	srv := httptest.NewServer(handler)
	defer srv.Close()

	t.Run("frontend", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("health reports llm offline", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body api.HealthResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "llm_hors_ligne", body.Status)
		assert.False(t, body.LLMServer)
	})

	t.Run("ready fails without llm", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/ready")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("profile round trip", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/set-name", strings.NewReader(`{"name":"Michael"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Device-ID", "dashboard-1")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/whoami", nil)
		req.Header.Set("X-Device-ID", "dashboard-1")
		resp, err = http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		var who api.WhoAmIResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&who))
		assert.Equal(t, "Michael", who.Name)
		assert.Equal(t, "dashboard-1", who.MAC)
	})

	t.Run("method mismatch", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/chat")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("reset", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/api/reset", "application/json", strings.NewReader(`{"session_id":"s1"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
