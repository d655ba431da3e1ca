package voice

import (
	"context"
	"errors"
	"sync"

	"github.com/BaSui01/kyronex/internal/pool"
	"go.uber.org/zap"
)

// =============================================================================
// 📤 有序派发
// =============================================================================

// ErrDispatcherClosed Wait 之后不能再派发
var ErrDispatcherClosed = errors.New("voice: dispatcher closed")

// Delivery 一个片段的合成结果；Err 非空时 AudioRef 为空，文本照常下发
type Delivery struct {
	Index    int
	Text     string
	AudioRef string
	Err      error
}

// Sink 按派发顺序接收结果
type Sink interface {
	Deliver(ctx context.Context, d Delivery)
}

// SinkFunc 函数适配器
type SinkFunc func(ctx context.Context, d Delivery)

// Deliver 实现 Sink
func (f SinkFunc) Deliver(ctx context.Context, d Delivery) { f(ctx, d) }

// SynthFunc 合成一个片段，返回音频引用
type SynthFunc func(ctx context.Context, seg Segment) (string, error)

type task struct {
	seg    Segment
	future *pool.Future
	ref    string
	err    error
}

// Dispatcher 立即把片段提交到 worker pool 并发合成，
// 由单个消费者按派发顺序等待结果并交给 Sink。每次回复一个实例。
type Dispatcher struct {
	ctx    context.Context
	pool   *pool.WorkerPool
	synth  SynthFunc
	sink   Sink
	logger *zap.Logger

	mu     sync.Mutex
	queue  []*task
	closed bool
	signal chan struct{}
	done   chan struct{}
}

// NewDispatcher 创建派发器并启动消费者。ctx 的取消不会中断已派发的片段。
func NewDispatcher(ctx context.Context, p *pool.WorkerPool, synth SynthFunc, sink Sink, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		ctx:    context.WithoutCancel(ctx),
		pool:   p,
		synth:  synth,
		sink:   sink,
		logger: logger.With(zap.String("component", "dispatcher")),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go d.drain()
	return d
}

// Dispatch 提交片段。提交失败的片段仍按顺序下发（带错误）。
func (d *Dispatcher) Dispatch(seg Segment) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.mu.Unlock()

	t := &task{seg: seg}
	future, err := d.pool.Submit(d.ctx, func(ctx context.Context) error {
		t.ref, t.err = d.synth(ctx, seg)
		return t.err
	})
	if err != nil {
		d.logger.Warn("synthesis submit failed", zap.Int("index", seg.Index), zap.Error(err))
		t.err = err
	}
	t.future = future

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.queue = append(d.queue, t)
	d.mu.Unlock()
	d.notify()
	return nil
}

// Wait 关闭队列，阻塞到所有片段都已下发
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.notify()
	<-d.done
}

func (d *Dispatcher) notify() {
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) pop() (*task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil, d.closed
	}
	t := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return t, false
}

func (d *Dispatcher) drain() {
	defer close(d.done)
	for {
		t, finished := d.pop()
		if t == nil {
			if finished {
				return
			}
			<-d.signal
			continue
		}

		var err error
		if t.future != nil {
			// 不随请求取消：客户端断开后任务照常完成
			<-t.future.Done()
			err = t.future.Err()
		} else {
			err = t.err
		}
		delivery := Delivery{Index: t.seg.Index, Text: t.seg.Text, Err: err}
		if err == nil {
			delivery.AudioRef = t.ref
		}
		d.sink.Deliver(d.ctx, delivery)
	}
}
