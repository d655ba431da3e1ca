package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/agent/proactive"
	"github.com/BaSui01/kyronex/agent/voice"
	"github.com/BaSui01/kyronex/api"
)

type fakeVigilance struct {
	calls []bool
}

func (f *fakeVigilance) SetVigilance(enabled bool) { f.calls = append(f.calls, enabled) }

func TestPushHandler_ProactiveWS(t *testing.T) {
	hub := proactive.NewHub("proactive", nil, zap.NewNop())
	h := NewPushHandler(hub, nil, nil, nil, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(h.HandleProactiveWS))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	_, err = hub.Broadcast(ctx, proactive.Event{Type: proactive.TypeProactive, Message: "Bonjour Michael."})
	require.NoError(t, err)

	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	var ev proactive.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "Bonjour Michael.", ev.Message)

	c.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPushHandler_MonitorRequiresLocalIP(t *testing.T) {
	hub := proactive.NewHub("monitor", nil, zap.NewNop())
	h := NewPushHandler(nil, hub, nil, nil, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/monitor/ws", nil)
	r.RemoteAddr = "203.0.113.7:4000"
	h.HandleMonitorWS(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Accès refusé")
	assert.Zero(t, hub.Len())
}

func TestPushHandler_MissingHub(t *testing.T) {
	h := NewPushHandler(nil, nil, nil, nil, nil)
	w := httptest.NewRecorder()
	h.HandleProactiveWS(w, httptest.NewRequest(http.MethodGet, "/api/proactive/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPushHandler_Vigilance(t *testing.T) {
	v := &fakeVigilance{}
	h := NewPushHandler(nil, nil, v, nil, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleVigilance(w, postJSON("/api/vigilance", `{"enabled":true}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, api.VigilanceResponse{Vigilance: true}, decode[api.VigilanceResponse](t, w))

	w = httptest.NewRecorder()
	h.HandleVigilance(w, postJSON("/api/vigilance", `{}`))
	assert.Equal(t, api.VigilanceResponse{Vigilance: false}, decode[api.VigilanceResponse](t, w))
	assert.Equal(t, []bool{true, false}, v.calls)

	w = httptest.NewRecorder()
	NewPushHandler(nil, nil, nil, nil, nil).HandleVigilance(w, postJSON("/api/vigilance", `{"enabled":true}`))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// =============================================================================
// 🧪 AudioHandler
// =============================================================================

func TestAudioHandler(t *testing.T) {
	store, err := voice.NewAudioStore(t.TempDir())
	require.NoError(t, err)
	ref, err := store.Save([]byte("RIFF....WAVE"))
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /audio/{name}", NewAudioHandler(store, nil).HandleAudio)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, ref, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio/wav", w.Header().Get("Content-Type"))
	assert.Equal(t, "RIFF....WAVE", w.Body.String())

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audio/missing_kitt.wav", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// 目录外的文件不可达
	outside := filepath.Join(filepath.Dir(store.Dir()), "secret.wav")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audio/..%2Fsecret.wav", nil))
	assert.NotEqual(t, http.StatusOK, w.Code)
}
