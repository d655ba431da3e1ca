package streaming

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrBufferFull   = errors.New("buffer full, backpressure applied")
	ErrStreamClosed = errors.New("stream closed")
)

// DropPolicy 缓冲区满时的处理方式
type DropPolicy int

const (
	DropPolicyBlock  DropPolicy = iota // 阻塞生产者
	DropPolicyOldest                   // 丢弃最旧的元素
	DropPolicyNewest                   // 丢弃新元素
	DropPolicyError                    // 返回 ErrBufferFull
)

// BufferConfig 有界缓冲配置
type BufferConfig struct {
	Size       int        `json:"size"`
	DropPolicy DropPolicy `json:"drop_policy"`
}

// DefaultBufferConfig 订阅者出站队列的默认配置
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		Size:       64,
		DropPolicy: DropPolicyOldest,
	}
}

// Buffer 带背压策略的有界队列。
// 广播方对每个订阅者各持有一个 Buffer，慢订阅者不会拖住其它订阅者。
type Buffer[T any] struct {
	config BufferConfig
	items  chan T
	done   chan struct{}
	closed atomic.Bool
	mu     sync.RWMutex

	produced  atomic.Int64
	consumed  atomic.Int64
	dropped   atomic.Int64
	lastWrite atomic.Int64
}

// NewBuffer 创建有界缓冲
func NewBuffer[T any](config BufferConfig) *Buffer[T] {
	if config.Size <= 0 {
		config.Size = DefaultBufferConfig().Size
	}
	return &Buffer[T]{
		config: config,
		items:  make(chan T, config.Size),
		done:   make(chan struct{}),
	}
}

// Write 按丢弃策略写入一个元素
func (b *Buffer[T]) Write(ctx context.Context, item T) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed.Load() {
		return ErrStreamClosed
	}
	b.lastWrite.Store(time.Now().UnixNano())

	select {
	case b.items <- item:
		b.produced.Add(1)
		return nil
	default:
	}

	switch b.config.DropPolicy {
	case DropPolicyOldest:
		for {
			select {
			case b.items <- item:
				b.produced.Add(1)
				return nil
			default:
			}
			// 并发写入时可能被别人抢先，循环直到写入成功
			select {
			case <-b.items:
				b.dropped.Add(1)
			default:
			}
		}
	case DropPolicyNewest:
		b.dropped.Add(1)
		return nil
	case DropPolicyError:
		return ErrBufferFull
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrStreamClosed
	case b.items <- item:
		b.produced.Add(1)
		return nil
	}
}

// Read 读取一个元素；关闭且排空后返回 ErrStreamClosed
func (b *Buffer[T]) Read(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case item, ok := <-b.items:
		if !ok {
			return zero, ErrStreamClosed
		}
		b.consumed.Add(1)
		return item, nil
	}
}

// Close 关闭缓冲；已写入的元素仍可读出
func (b *Buffer[T]) Close() {
	if b.closed.Swap(true) {
		return
	}
	close(b.done)
	b.mu.Lock()
	close(b.items)
	b.mu.Unlock()
}

// Len 返回当前排队的元素数
func (b *Buffer[T]) Len() int {
	return len(b.items)
}

// Stats 返回缓冲统计
func (b *Buffer[T]) Stats() BufferStats {
	return BufferStats{
		Produced:  b.produced.Load(),
		Consumed:  b.consumed.Load(),
		Dropped:   b.dropped.Load(),
		Queued:    len(b.items),
		Capacity:  b.config.Size,
		LastWrite: time.Unix(0, b.lastWrite.Load()),
	}
}

// BufferStats 缓冲统计
type BufferStats struct {
	Produced  int64     `json:"produced"`
	Consumed  int64     `json:"consumed"`
	Dropped   int64     `json:"dropped"`
	Queued    int       `json:"queued"`
	Capacity  int       `json:"capacity"`
	LastWrite time.Time `json:"last_write"`
}
