package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/kyronex/config"
	"github.com/BaSui01/kyronex/internal/cache"
	"github.com/BaSui01/kyronex/internal/metrics"
	"github.com/BaSui01/kyronex/internal/tlsutil"
	"github.com/BaSui01/kyronex/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🌐 网络搜索
// =============================================================================

// SearchResult 单条搜索结果
type SearchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Body  string `json:"content"`
}

// Searcher 外部搜索服务
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// Gate 判断查询是否应该发起网络搜索：需命中触发词且不涉及私有实体
func Gate(query string) bool {
	return searchTriggers.MatchString(query) && !privateEntities.MatchString(query)
}

// TavilyClient Tavily /search 接口客户端
type TavilyClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewTavilyClient 创建搜索客户端
func NewTavilyClient(cfg config.SearchConfig) *TavilyClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	return &TavilyClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  tlsutil.SecureHTTPClient(timeout),
	}
}

type tavilyRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type tavilyResponse struct {
	Results []SearchResult `json:"results"`
}

// Search 调用 /search
func (c *TavilyClient) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	payload, err := json.Marshal(tavilyRequest{Query: query, MaxResults: maxResults, SearchDepth: "basic"})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, types.NewError(types.ErrSearchFailed, "search request failed").WithCause(err).WithUpstream("tavily")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, types.NewError(types.ErrSearchFailed,
			fmt.Sprintf("search status=%d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))).
			WithHTTPStatus(resp.StatusCode).
			WithUpstream("tavily")
	}
	var out tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewError(types.ErrSearchFailed, "decode search response").WithCause(err).WithUpstream("tavily")
	}
	return out.Results, nil
}

// WebSearch 带门控、超时和缓存的搜索块生成器
type WebSearch struct {
	searcher     Searcher
	cache        *cache.TextCache
	timeout      time.Duration
	maxResults   int
	snippetChars int
	metrics      *metrics.Collector
	logger       *zap.Logger
}

// NewWebSearch 创建搜索块生成器；textCache 可为 nil
func NewWebSearch(searcher Searcher, cfg config.SearchConfig, textCache *cache.TextCache, collector *metrics.Collector, logger *zap.Logger) *WebSearch {
	if logger == nil {
		logger = zap.NewNop()
	}
	ws := &WebSearch{
		searcher:     searcher,
		cache:        textCache,
		timeout:      cfg.Timeout,
		maxResults:   cfg.MaxResults,
		snippetChars: cfg.SnippetChars,
		metrics:      collector,
		logger:       logger.With(zap.String("component", "web_search")),
	}
	if ws.timeout <= 0 {
		ws.timeout = 6 * time.Second
	}
	if ws.maxResults <= 0 {
		ws.maxResults = 3
	}
	if ws.snippetChars <= 0 {
		ws.snippetChars = 200
	}
	return ws
}

// Lookup 门控通过时搜索并格式化结果；任何失败都只是没有结果
func (w *WebSearch) Lookup(ctx context.Context, query string) Block {
	if w == nil || w.searcher == nil || !Gate(query) {
		return Block{Kind: KindWeb}
	}

	if w.cache != nil {
		if text, ok := w.cache.Lookup(ctx, query); ok {
			w.metrics.RecordCacheHit("search")
			return Block{Kind: KindWeb, Text: text, OK: text != ""}
		}
		w.metrics.RecordCacheMiss("search")
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	results, err := w.searcher.Search(ctx, query, w.maxResults)
	if err != nil {
		w.logger.Warn("web search failed", zap.Error(err))
		return Block{Kind: KindWeb}
	}

	var parts []string
	for i, r := range results {
		if i >= w.maxResults {
			break
		}
		title := strings.TrimSpace(r.Title)
		body := truncateRunes(strings.TrimSpace(r.Body), w.snippetChars)
		if title == "" && body == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("• %s: %s", title, body))
	}
	text := strings.Join(parts, "\n")
	if w.cache != nil && text != "" {
		w.cache.Store(ctx, query, text)
	}
	return Block{Kind: KindWeb, Text: text, OK: text != ""}
}
