package enrichment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// =============================================================================
// 📚 本地知识库
// =============================================================================

const reloadDebounce = 200 * time.Millisecond

type document struct {
	name    string
	content string
	lower   string
}

// Corpus 目录下 .md 文档组成的小型知识库，按关键词重叠选出最相关的一篇
type Corpus struct {
	dir      string
	maxChars int
	logger   *zap.Logger

	mu   sync.RWMutex
	docs []document
}

// NewCorpus 创建知识库（需调用 Load）
func NewCorpus(dir string, maxChars int, logger *zap.Logger) *Corpus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxChars <= 0 {
		maxChars = 1500
	}
	return &Corpus{
		dir:      dir,
		maxChars: maxChars,
		logger:   logger.With(zap.String("component", "knowledge")),
	}
}

// Load 重新索引目录；目录不存在时知识库为空
func (c *Corpus) Load() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			c.swap(nil)
			return nil
		}
		return fmt.Errorf("read knowledge dir: %w", err)
	}

	var docs []document
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, e.Name()))
		if err != nil {
			c.logger.Warn("skip unreadable document", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		content := blankLines.ReplaceAllString(string(data), "\n\n")
		docs = append(docs, document{name: e.Name(), content: content, lower: strings.ToLower(content)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].name < docs[j].name })
	c.swap(docs)
	c.logger.Info("knowledge indexed", zap.Int("documents", len(docs)))
	return nil
}

func (c *Corpus) swap(docs []document) {
	c.mu.Lock()
	c.docs = docs
	c.mu.Unlock()
}

// Len 返回已索引的文档数
func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// Search 返回得分最高文档的节选；无关键词或无命中时 OK 为 false
func (c *Corpus) Search(query string) Block {
	var keywords []string
	for _, w := range keywordPattern.FindAllString(query, -1) {
		keywords = append(keywords, strings.ToLower(w))
	}
	if len(keywords) == 0 {
		return Block{Kind: KindKnowledge}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	bestScore := 0
	var best *document
	for i := range c.docs {
		score := 0
		for _, k := range keywords {
			if strings.Contains(c.docs[i].lower, k) {
				score++
			}
		}
		if score > bestScore {
			bestScore, best = score, &c.docs[i]
		}
	}
	if best == nil {
		return Block{Kind: KindKnowledge}
	}
	return Block{
		Kind: KindKnowledge,
		Text: fmt.Sprintf("Fichier: %s\n%s...", best.name, truncateRunes(best.content, c.maxChars)),
		OK:   true,
	}
}

// Watch 监听目录变化并重新加载，直到 ctx 结束
func (c *Corpus) Watch(ctx context.Context) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create knowledge dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("watch %s: %w", c.dir, err)
	}

	debounce := time.NewTimer(reloadDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), ".md") {
				continue
			}
			debounce.Reset(reloadDebounce)
		case <-debounce.C:
			if err := c.Load(); err != nil {
				c.logger.Warn("knowledge reload failed", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("knowledge watcher error", zap.Error(err))
		}
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
