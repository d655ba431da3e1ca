package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"
)

// TextCache 按命名空间缓存文本查询结果（如网络搜索摘要）。
// 查询先做小写 + 去空白归一化，再取 SHA-1 作为键。
type TextCache struct {
	m         *Manager
	namespace string
	ttl       time.Duration
}

// NewTextCache 创建文本缓存，ttl 为 0 时使用默认过期时间
func NewTextCache(m *Manager, namespace string, ttl time.Duration) *TextCache {
	return &TextCache{m: m, namespace: namespace, ttl: ttl}
}

// Key 返回查询对应的键（不含全局前缀）
func (c *TextCache) Key(query string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha1.Sum([]byte(norm))
	return c.namespace + ":" + hex.EncodeToString(sum[:])
}

// Lookup 返回缓存的文本；未命中、出错或 Redis 不健康时 ok 为 false
func (c *TextCache) Lookup(ctx context.Context, query string) (string, bool) {
	if !c.m.Healthy() {
		return "", false
	}
	val, err := c.m.Get(ctx, c.Key(query))
	if err != nil {
		return "", false
	}
	return val, true
}

// Store 写入缓存，失败忽略
func (c *TextCache) Store(ctx context.Context, query, text string) {
	if !c.m.Healthy() {
		return
	}
	_ = c.m.Set(ctx, c.Key(query), text, c.ttl)
}
