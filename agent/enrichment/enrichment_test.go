package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/kyronex/agent/vision"
	"github.com/BaSui01/kyronex/config"
	"github.com/BaSui01/kyronex/internal/cache"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🌐 搜索门控
// =============================================================================

func TestGate(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"Quelle est l'actualité aujourd'hui ?", true},
		{"Qui a gagné le match hier ?", true},
		{"Combien coûte une Tesla ?", true},
		{"Bonjour KITT", false},
		{"Quelle est l'actualité de Kyronex ?", false},
		{"Des news sur Manix ?", false},
		{"Les actualités", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Gate(tt.query), tt.query)
	}
}

func tavilyServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer tvly-test", r.Header.Get("Authorization"))
		var req tavilyRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 3, req.MaxResults)
		_ = json.NewEncoder(w).Encode(tavilyResponse{Results: []SearchResult{
			{Title: "T1", Body: "B1"},
			{Title: "T2", Body: strings.Repeat("é", 250)},
			{Title: "", Body: ""},
			{Title: "T4", Body: "B4"},
			{Title: "T5", Body: "B5"},
		}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func searchConfig(url string) config.SearchConfig {
	cfg := config.DefaultSearchConfig()
	cfg.Enabled = true
	cfg.BaseURL = url
	cfg.APIKey = "tvly-test"
	return cfg
}

func TestWebSearch_Lookup(t *testing.T) {
	var hits atomic.Int32
	srv := tavilyServer(t, &hits)
	cfg := searchConfig(srv.URL)
	ws := NewWebSearch(NewTavilyClient(cfg), cfg, nil, nil, zap.NewNop())

	b := ws.Lookup(context.Background(), "Quelle est l'actualité aujourd'hui ?")
	require.True(t, b.OK)
	assert.Equal(t, "• T1: B1\n• T2: "+strings.Repeat("é", 200), b.Text)
	assert.Equal(t, int32(1), hits.Load())
}

// 私有实体优先于触发词：不得访问搜索服务
func TestWebSearch_PrivateEntityNeverSearched(t *testing.T) {
	var hits atomic.Int32
	srv := tavilyServer(t, &hits)
	cfg := searchConfig(srv.URL)
	ws := NewWebSearch(NewTavilyClient(cfg), cfg, nil, nil, nil)

	b := ws.Lookup(context.Background(), "Les dernières news de Manix aujourd'hui")
	assert.False(t, b.OK)
	assert.Equal(t, int32(0), hits.Load())
}

type slowSearcher struct{}

func (slowSearcher) Search(ctx context.Context, _ string, _ int) ([]SearchResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestWebSearch_TimeoutOmitsBlock(t *testing.T) {
	cfg := config.DefaultSearchConfig()
	cfg.Timeout = 30 * time.Millisecond
	ws := NewWebSearch(slowSearcher{}, cfg, nil, nil, nil)

	start := time.Now()
	b := ws.Lookup(context.Background(), "Les news du moment ?")
	assert.False(t, b.OK)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWebSearch_RedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	manager, err := cache.NewManager(config.RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	defer manager.Close()

	var hits atomic.Int32
	srv := tavilyServer(t, &hits)
	cfg := searchConfig(srv.URL)
	ws := NewWebSearch(NewTavilyClient(cfg), cfg, cache.NewTextCache(manager, "search", time.Minute), nil, nil)

	first := ws.Lookup(context.Background(), "Quelle est l'actualité aujourd'hui ?")
	second := ws.Lookup(context.Background(), "  quelle est   l'actualité AUJOURD'HUI ? ")
	require.True(t, first.OK)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, int32(1), hits.Load())
}

// =============================================================================
// 📚 知识库
// =============================================================================

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestCorpus_Search(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "BACKUP.md", "Procédure de sauvegarde\n\n\n\n\nRestaurer le système depuis la carte SD.")
	writeDoc(t, dir, "RESEAU.md", "Configuration du tunnel réseau et du routeur.")
	writeDoc(t, dir, "notes.txt", "sauvegarde sauvegarde sauvegarde")

	c := NewCorpus(dir, 30, zap.NewNop())
	require.NoError(t, c.Load())
	assert.Equal(t, 2, c.Len())

	b := c.Search("Comment restaurer une sauvegarde ?")
	require.True(t, b.OK)
	assert.Equal(t, "Fichier: BACKUP.md\nProcédure de sauvegarde\n\nResta...", b.Text)

	assert.False(t, c.Search("Bonjour toi").OK, "no keyword shares a document")
	assert.False(t, c.Search("a b c").OK, "no keyword of four letters")
}

func TestCorpus_MissingDirIsEmpty(t *testing.T) {
	c := NewCorpus(filepath.Join(t.TempDir(), "absent"), 0, nil)
	require.NoError(t, c.Load())
	assert.Equal(t, 0, c.Len())
	assert.False(t, c.Search("sauvegarde").OK)
}

func TestCorpus_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	c := NewCorpus(dir, 0, nil)
	require.NoError(t, c.Load())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx) }()

	// 等待 watcher 就绪后写入
	time.Sleep(100 * time.Millisecond)
	writeDoc(t, dir, "NOUVEAU.md", "Le turbo boost est activé par commande vocale.")

	assert.Eventually(t, func() bool { return c.Search("turbo boost").OK }, 5*time.Second, 50*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

// =============================================================================
// 👁 视觉门控
// =============================================================================

type stubVision struct {
	calls atomic.Int32
	desc  string
	err   error
}

func (s *stubVision) Capture(context.Context) (*vision.Capture, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &vision.Capture{Description: s.desc}, nil
}

func TestVisionGate(t *testing.T) {
	src := &stubVision{desc: "Je détecte 1 personne."}
	g := NewVisionGate(src, 30*time.Second, time.Second, nil)
	now := fixedClock()
	g.now = func() time.Time { return now }

	b, _ := g.Inject(context.Background(), "Raconte une histoire", false)
	assert.False(t, b.OK)

	b, _ = g.Inject(context.Background(), "Qu'est-ce que tu vois ?", false)
	assert.Equal(t, "[VISION: Je détecte 1 personne.] ", b.Render())

	now = now.Add(10 * time.Second)
	b, _ = g.Inject(context.Background(), "Regarde-moi", false)
	assert.Equal(t, "[VISION: Capteurs visuels indisponibles.] ", b.Render(), "cooldown yields placeholder")
	assert.Equal(t, int32(1), src.calls.Load())

	b, _ = g.Inject(context.Background(), "", true)
	assert.Equal(t, "Je détecte 1 personne.", b.Text, "forced capture ignores cooldown")

	now = now.Add(31 * time.Second)
	src.err = errors.New("camera busy")
	b, _ = g.Inject(context.Background(), "Tu me vois ?", false)
	assert.Equal(t, visionUnavailable, b.Text)
}

// =============================================================================
// 🧩 增强阶段
// =============================================================================

func TestStage_FunctionCallShortCircuits(t *testing.T) {
	src := &stubVision{desc: "x"}
	var hits atomic.Int32
	srv := tavilyServer(t, &hits)
	cfg := searchConfig(srv.URL)

	s := NewStage(
		NewInterceptor(nil, nil, WithClock(fixedClock)),
		NewVisionGate(src, 0, time.Second, nil),
		nil,
		NewWebSearch(NewTavilyClient(cfg), cfg, nil, nil, nil),
		nil, nil,
	)
	res := s.Enrich(context.Background(), Request{Text: "Quelle heure est-il aujourd'hui devant toi ?", UserName: "Michael"})
	require.NotNil(t, res.Function)
	assert.Equal(t, "time", res.Function.Name)
	assert.Equal(t, int32(0), src.calls.Load())
	assert.Equal(t, int32(0), hits.Load())
}

func TestStage_PromptOrder(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "KITT.md", "Le scanner frontal balaye de gauche à droite.")
	corpus := NewCorpus(dir, 1500, nil)
	require.NoError(t, corpus.Load())

	var hits atomic.Int32
	srv := tavilyServer(t, &hits)
	cfg := searchConfig(srv.URL)

	s := NewStage(
		NewInterceptor(nil, nil),
		NewVisionGate(&stubVision{desc: "Une personne."}, 0, time.Second, nil),
		corpus,
		NewWebSearch(NewTavilyClient(cfg), cfg, nil, nil, nil),
		nil, nil,
	)
	text := "Scanne devant toi et donne les news du scanner"
	res := s.Enrich(context.Background(), Request{Text: text})
	require.Nil(t, res.Function)

	want := "[CONNAISSANCE LOCALE (Prioritaire):\nFichier: KITT.md\nLe scanner frontal balaye de gauche à droite....]\n" +
		"[INFO WEB:\n• T1: B1\n• T2: " + strings.Repeat("é", 200) + "]\n" +
		"[VISION: Une personne.] " + text
	assert.Equal(t, want, res.Prompt())
}
