package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/agent/orchestrator"
	"github.com/BaSui01/kyronex/agent/voice"
	"github.com/BaSui01/kyronex/api"
	"github.com/BaSui01/kyronex/types"
)

// =============================================================================
// 🧪 模拟编排器
// =============================================================================

type fakeReplier struct {
	events   []orchestrator.Event
	outcome  *orchestrator.Outcome
	err      error
	last     orchestrator.TurnRequest
	calls    int
	resetIDs []string
}

func (f *fakeReplier) Reply(ctx context.Context, req orchestrator.TurnRequest, em orchestrator.Emitter) (*orchestrator.Outcome, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	for _, ev := range f.events {
		if err := em.Emit(ctx, ev); err != nil {
			break
		}
	}
	return f.outcome, nil
}

func (f *fakeReplier) Complete(_ context.Context, req orchestrator.TurnRequest) (*orchestrator.Outcome, error) {
	f.calls++
	f.last = req
	return f.outcome, f.err
}

func (f *fakeReplier) Reset(id string) bool {
	f.resetIDs = append(f.resetIDs, id)
	return true
}

func streamEvents() []orchestrator.Event {
	return []orchestrator.Event{
		{Token: "Bonjour "},
		{Token: "Manix."},
		{AudioChunk: "/audio/a_kitt.wav", ChunkText: "Bonjour Manix."},
		{Done: true, Timing: &orchestrator.Timing{LLMMs: 120, TTSMs: 80, Emotion: "normal"}},
	}
}

// parseSSE 拆出每条记录的事件名与 data
func parseSSE(t *testing.T, body string) ([]string, []map[string]any) {
	t.Helper()
	var names []string
	var records []map[string]any
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		name, data, ok := strings.Cut(block, "\n")
		require.True(t, ok, block)
		require.True(t, strings.HasPrefix(name, "event: "), block)
		require.True(t, strings.HasPrefix(data, "data: "), block)
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &m))
		names = append(names, strings.TrimPrefix(name, "event: "))
		records = append(records, m)
	}
	return names, records
}

func newChatHandler(f *fakeReplier) *ChatHandler {
	return NewChatHandler(f, f, NewIdentity(mapResolver{"192.168.1.42": "AA:BB"}), zap.NewNop())
}

func postJSON(target, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.RemoteAddr = "192.168.1.42:40000"
	return r
}

// =============================================================================
// 🧪 ChatHandler 测试
// =============================================================================

func TestChatHandler_HandleStream_SSE(t *testing.T) {
	f := &fakeReplier{events: streamEvents(), outcome: &orchestrator.Outcome{}}
	h := newChatHandler(f)

	w := httptest.NewRecorder()
	h.HandleStream(w, postJSON("/api/chat/stream", `{"message":"Salut","session_id":"s1","lang":"fr","user_name":"Manix"}`))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	names, records := parseSSE(t, w.Body.String())
	assert.Equal(t, []string{"token", "token", "segment", "done"}, names)
	require.Len(t, records, 4)
	assert.Equal(t, "Bonjour ", records[0]["token"])
	assert.Equal(t, "/audio/a_kitt.wav", records[2]["audio_chunk"])
	assert.Equal(t, "Bonjour Manix.", records[2]["chunk_text"])
	assert.Equal(t, true, records[3]["done"])
	timing := records[3]["timing"].(map[string]any)
	assert.EqualValues(t, 120, timing["llm_ms"])
	assert.EqualValues(t, 80, timing["tts_ms"])

	assert.Equal(t, orchestrator.TurnRequest{
		Text:      "Salut",
		LangHint:  "fr",
		SessionID: "s1",
		DeviceKey: "AA:BB",
		IP:        "192.168.1.42",
		UserName:  "Manix",
		WantAudio: true,
	}, f.last)
}

func TestChatHandler_HandleStream_NDJSON(t *testing.T) {
	f := &fakeReplier{events: streamEvents(), outcome: &orchestrator.Outcome{}}
	h := newChatHandler(f)

	w := httptest.NewRecorder()
	h.HandleStream(w, postJSON("/api/chat/stream?format=ndjson", `{"message":"Salut","audio":false}`))

	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))
	sc := bufio.NewScanner(strings.NewReader(w.Body.String()))
	lines := 0
	for sc.Scan() {
		var ev orchestrator.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		lines++
	}
	assert.Equal(t, 4, lines)
	assert.False(t, f.last.WantAudio)
}

func TestChatHandler_EmptyMessage(t *testing.T) {
	f := &fakeReplier{}
	h := newChatHandler(f)

	for _, fn := range []http.HandlerFunc{h.HandleStream, h.HandleChat} {
		w := httptest.NewRecorder()
		fn(w, postJSON("/api/chat", `{"message":"   "}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Message vide")
	}
	assert.Zero(t, f.calls)
}

func TestChatHandler_HandleVision(t *testing.T) {
	f := &fakeReplier{events: streamEvents()[:1], outcome: &orchestrator.Outcome{}}
	h := newChatHandler(f)

	w := httptest.NewRecorder()
	h.HandleVision(w, postJSON("/api/vision", `{}`))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.last.ForceVision)
	assert.Equal(t, VisionPrompt, f.last.Text)
}

func TestChatHandler_HandleChat(t *testing.T) {
	f := &fakeReplier{outcome: &orchestrator.Outcome{
		Reply:     "Je vous écoute.",
		AudioRef:  "/audio/b_kitt.wav",
		SessionID: "default",
		Lang:      "fr",
		Emotion:   voice.EmotionNormal,
		Timing:    orchestrator.Timing{LLMMs: 300, TTSMs: 150, TotalMs: 470},
	}}
	h := newChatHandler(f)

	w := httptest.NewRecorder()
	h.HandleChat(w, postJSON("/api/chat", `{"message":"Tu es là ?"}`))

	require.Equal(t, http.StatusOK, w.Code)
	var resp api.ChatResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "Je vous écoute.", resp.Reply)
	assert.Equal(t, "/audio/b_kitt.wav", resp.AudioURL)
	assert.Equal(t, "default", resp.SessionID)
	assert.Equal(t, api.ChatTiming{LLMMs: 300, TTSMs: 150, TotalMs: 470}, resp.Timing)
}

func TestChatHandler_HandleChat_InferenceFailure(t *testing.T) {
	f := &fakeReplier{err: types.NewError(types.ErrInferenceFailed, "Erreur LLM").WithRetryable(true)}
	h := newChatHandler(f)

	w := httptest.NewRecorder()
	h.HandleChat(w, postJSON("/api/chat", `{"message":"Bonjour"}`))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, string(types.ErrInferenceFailed), resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
}

func TestChatHandler_HandleReset(t *testing.T) {
	f := &fakeReplier{}
	h := newChatHandler(f)

	w := httptest.NewRecorder()
	h.HandleReset(w, postJSON("/api/reset", `{}`))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"conversation réinitialisée"}`, w.Body.String())

	w = httptest.NewRecorder()
	h.HandleReset(w, postJSON("/api/reset", `{"session_id":"s9"}`))
	assert.Equal(t, []string{"default", "s9"}, f.resetIDs)
}

func TestStreamEmitter_StopsAfterClientGone(t *testing.T) {
	w := httptest.NewRecorder()
	em := newStreamEmitter(w, w, false)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, em.Emit(ctx, orchestrator.Event{Token: "a"}))
	cancel()
	assert.ErrorIs(t, em.Emit(ctx, orchestrator.Event{Token: "b"}), errStreamGone)
	assert.Equal(t, "event: token\ndata: {\"token\":\"a\"}\n\n", w.Body.String())
}

func TestStreamEmitter_WireFormat(t *testing.T) {
	w := httptest.NewRecorder()
	em := newStreamEmitter(w, w, false)
	ctx := context.Background()
	require.NoError(t, em.Emit(ctx, orchestrator.Event{Token: "Bonjour"}))
	require.NoError(t, em.Emit(ctx, orchestrator.Event{AudioChunk: "/audio/x.wav", ChunkText: "Bonjour."}))
	require.NoError(t, em.Emit(ctx, orchestrator.Event{Done: true, Timing: &orchestrator.Timing{LLMMs: 5, TTSMs: 7}}))

	assert.Equal(t,
		"event: token\ndata: {\"token\":\"Bonjour\"}\n\n"+
			"event: segment\ndata: {\"audio_chunk\":\"/audio/x.wav\",\"chunk_text\":\"Bonjour.\"}\n\n"+
			"event: done\ndata: {\"done\":true,\"timing\":{\"llm_ms\":5,\"tts_ms\":7}}\n\n",
		w.Body.String())
}

func TestChatHandler_HandleStream_ErrorEvent(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantMsg  string
	}{
		{"typed error", types.NewError(types.ErrInferenceFailed, "Erreur LLM").WithRetryable(true), string(types.ErrInferenceFailed), "Erreur LLM"},
		{"untyped error hides details", errors.New("dial tcp 127.0.0.1:8080: refused"), string(types.ErrInternalError), "erreur interne"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeReplier{err: tt.err}
			h := newChatHandler(f)

			w := httptest.NewRecorder()
			h.HandleStream(w, postJSON("/api/chat/stream", `{"message":"Salut"}`))

			assert.Equal(t, http.StatusOK, w.Code)
			names, records := parseSSE(t, w.Body.String())
			require.Equal(t, []string{"error"}, names)
			errInfo := records[0]["error"].(map[string]any)
			assert.Equal(t, tt.wantCode, errInfo["code"])
			assert.Equal(t, tt.wantMsg, errInfo["message"])
		})
	}
}

func TestChatHandler_HandleStream_NDJSONError(t *testing.T) {
	f := &fakeReplier{err: types.NewError(types.ErrInferenceFailed, "Erreur LLM")}
	h := newChatHandler(f)

	w := httptest.NewRecorder()
	h.HandleStream(w, postJSON("/api/chat/stream?format=ndjson", `{"message":"Salut"}`))

	assert.JSONEq(t, `{"error":{"code":"INFERENCE_FAILED","message":"Erreur LLM"}}`, strings.TrimSpace(w.Body.String()))
}
