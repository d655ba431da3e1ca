// Package conversation 为回复流水线保存按会话划分的对话历史。
package conversation

import (
	"sync"
	"time"

	"github.com/BaSui01/kyronex/internal/metrics"
	"github.com/BaSui01/kyronex/llm"
	"github.com/golang/groupcache/lru"
	"go.uber.org/zap"
)

// StoreConfig 会话存储配置
type StoreConfig struct {
	// MaxSessions 内存中最多保留的会话数，超出时淘汰最久未活动的会话
	MaxSessions int `json:"max_sessions"`
	// MaxMessages 每个会话保留的消息数
	MaxMessages int `json:"max_messages"`
}

// DefaultStoreConfig 返回默认配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{MaxSessions: 256, MaxMessages: 40}
}

// Session 一个会话的对话历史。
// 一轮对话期间由编排器持有 Lock，保证同一会话只有一个写者。
type Session struct {
	ID string

	turn sync.Mutex

	mu          sync.RWMutex
	messages    []llm.Message
	lang        string
	createdAt   time.Time
	lastActive  time.Time
	turns       int
	maxMessages int
}

// Lock 独占会话直到本轮结束
func (s *Session) Lock() { s.turn.Lock() }

// Unlock 释放会话
func (s *Session) Unlock() { s.turn.Unlock() }

// History 返回最近 n 条消息的副本；n <= 0 返回全部
func (s *Session) History(n int) []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]llm.Message, len(msgs))
	copy(out, msgs)
	return out
}

// AppendTurn 追加一问一答，并裁剪到保留上限
func (s *Session) AppendTurn(user, assistant string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages,
		llm.Message{Role: llm.RoleUser, Content: user},
		llm.Message{Role: llm.RoleAssistant, Content: assistant},
	)
	if s.maxMessages > 0 && len(s.messages) > s.maxMessages {
		drop := len(s.messages) - s.maxMessages
		s.messages = append([]llm.Message(nil), s.messages[drop:]...)
	}
	s.turns++
	s.lastActive = at
}

// Len 返回保留的消息数
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Turns 返回累计对话轮数（不受裁剪影响）
func (s *Session) Turns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turns
}

// Language 返回会话记录的语言
func (s *Session) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lang
}

// SetLanguage 记录会话语言偏好
func (s *Session) SetLanguage(lang string) {
	s.mu.Lock()
	s.lang = lang
	s.mu.Unlock()
}

// LastActive 返回最近活动时间
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Snapshot 会话摘要
type Snapshot struct {
	ID         string    `json:"id"`
	Messages   int       `json:"messages"`
	Turns      int       `json:"turns"`
	Language   string    `json:"language,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Snapshot 返回会话摘要
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:         s.ID,
		Messages:   len(s.messages),
		Turns:      s.turns,
		Language:   s.lang,
		CreatedAt:  s.createdAt,
		LastActive: s.lastActive,
	}
}

// Store 有界会话存储（LRU 淘汰）
type Store struct {
	mu          sync.Mutex
	cache       *lru.Cache
	maxMessages int
	now         func() time.Time
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// NewStore 创建会话存储
func NewStore(cfg StoreConfig, collector *metrics.Collector, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultStoreConfig().MaxSessions
	}
	s := &Store{
		cache:       lru.New(cfg.MaxSessions),
		maxMessages: cfg.MaxMessages,
		now:         time.Now,
		metrics:     collector,
		logger:      logger.With(zap.String("component", "session_store")),
	}
	s.cache.OnEvicted = func(key lru.Key, _ interface{}) {
		s.logger.Debug("session evicted", zap.Any("session_id", key))
	}
	return s
}

// Get 返回会话，不存在时创建；同时刷新 LRU 顺序
func (s *Store) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.cache.Get(id); ok {
		return v.(*Session)
	}
	now := s.now()
	sess := &Session{ID: id, createdAt: now, lastActive: now, maxMessages: s.maxMessages}
	s.cache.Add(id, sess)
	s.metrics.SetActiveSessions(s.cache.Len())
	return sess
}

// Peek 查找会话，不创建
func (s *Store) Peek(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Reset 丢弃会话历史，返回会话是否存在
func (s *Store) Reset(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cache.Get(id)
	if ok {
		s.cache.Remove(id)
		s.metrics.SetActiveSessions(s.cache.Len())
		s.logger.Info("session reset", zap.String("session_id", id))
	}
	return ok
}

// SetLanguage 记录会话语言偏好，设备档案无语言时使用
func (s *Store) SetLanguage(id, lang string) {
	s.Get(id).SetLanguage(lang)
}

// Len 返回会话数
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}
