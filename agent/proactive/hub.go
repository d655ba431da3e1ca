package proactive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/internal/metrics"
	"github.com/BaSui01/kyronex/llm/streaming"
)

// =============================================================================
// 📡 订阅者集合
// =============================================================================

// Conn 订阅者连接
type Conn interface {
	Write(ctx context.Context, data []byte) error
	Close() error
}

// WSConn 把 websocket 连接适配为 Conn。写操作加锁，websocket 不支持并发写。
type WSConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWSConn 包装已建立的 websocket 连接
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// Write 发送一条文本消息
func (w *WSConn) Write(ctx context.Context, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close 正常关闭连接
func (w *WSConn) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "")
}

type subscriber struct {
	conn Conn
	out  *streaming.Buffer[[]byte]
}

// Hub 订阅者集合。每个订阅者一个有界出站队列（满时丢最旧），
// 发送失败的订阅者被移除。
type Hub struct {
	name    string
	bufCfg  streaming.BufferConfig
	journal io.Writer
	metrics *metrics.Collector
	logger  *zap.Logger

	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	journMu sync.Mutex
}

// HubOption Hub 选项
type HubOption func(*Hub)

// WithJournal 每条广播额外写一行 JSON 到 w
func WithJournal(w io.Writer) HubOption {
	return func(h *Hub) { h.journal = w }
}

// WithBuffer 设置订阅者队列
func WithBuffer(cfg streaming.BufferConfig) HubOption {
	return func(h *Hub) { h.bufCfg = cfg }
}

// NewHub 创建 Hub
func NewHub(name string, collector *metrics.Collector, logger *zap.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		name:    name,
		bufCfg:  streaming.DefaultBufferConfig(),
		metrics: collector,
		logger:  logger.With(zap.String("component", "hub"), zap.String("hub", name)),
		subs:    make(map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Len 订阅者数量
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Serve 注册连接并把队列中的消息写给它，直到 ctx 结束或写失败
func (h *Hub) Serve(ctx context.Context, conn Conn) error {
	sub := &subscriber{conn: conn, out: streaming.NewBuffer[[]byte](h.bufCfg)}
	h.add(sub)
	defer h.remove(sub)

	for {
		data, err := sub.out.Read(ctx)
		if err != nil {
			if errors.Is(err, streaming.ErrStreamClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := conn.Write(ctx, data); err != nil {
			h.logger.Debug("subscriber dropped", zap.Error(err))
			return err
		}
	}
}

// Broadcast 序列化 v 并投递给所有订阅者，返回投递数
func (h *Hub) Broadcast(ctx context.Context, v any) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal broadcast: %w", err)
	}
	h.writeJournal(data)

	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	sent := 0
	for _, s := range subs {
		if err := s.out.Write(ctx, data); err != nil {
			h.remove(s)
			continue
		}
		sent++
	}
	if sent > 0 {
		h.logger.Debug("broadcast", zap.Int("subscribers", sent))
	}
	return sent, nil
}

// Close 断开所有订阅者
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()
	for s := range subs {
		s.out.Close()
		_ = s.conn.Close()
	}
	h.metrics.SetSubscribers(h.name, 0)
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.metrics.SetSubscribers(h.name, n)
	h.logger.Info("subscriber connected", zap.Int("subscribers", n))
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()
	if !ok {
		return
	}
	s.out.Close()
	h.metrics.SetSubscribers(h.name, n)
	h.logger.Info("subscriber disconnected", zap.Int("subscribers", n))
}

func (h *Hub) writeJournal(data []byte) {
	if h.journal == nil {
		return
	}
	h.journMu.Lock()
	defer h.journMu.Unlock()
	if _, err := h.journal.Write(append(data, '\n')); err != nil {
		h.logger.Warn("journal write failed", zap.Error(err))
	}
}
