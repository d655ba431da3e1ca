// Package pool 定长 worker 池，承载语音合成这类 CPU 密集任务。
// 队列满时 Submit 阻塞，生产者被节流而不是丢任务。
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrTaskPanic  = errors.New("task panicked")
)

// Task 一个工作单元
type Task func(ctx context.Context) error

// Future 已提交任务的结果
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

// Done 任务结束（或被跳过）时关闭
func (f *Future) Done() <-chan struct{} { return f.done }

// Err 仅在 Done 关闭后有意义
func (f *Future) Err() error { return f.err }

// Wait 等任务结束或 ctx 结束
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Future) resolve(err error) {
	f.err = err
	close(f.done)
}

type Config struct {
	Workers      int
	QueueSize    int
	PanicHandler func(any)
}

// DefaultConfig 按小型单板机取值
func DefaultConfig() Config {
	return Config{Workers: 2, QueueSize: 32}
}

type Stats struct {
	Active    int
	Queued    int
	Submitted int64
	Completed int64
	Failed    int64
}

type queued struct {
	ctx    context.Context
	task   Task
	future *Future
}

type WorkerPool struct {
	queue   chan queued
	onPanic func(any)
	workers sync.WaitGroup

	// mu 读锁覆盖入队，Close 取写锁后才关闭 queue
	mu     sync.RWMutex
	closed bool

	active                       atomic.Int32
	submitted, completed, failed atomic.Int64
}

// New 立即启动 Workers 个协程
func New(cfg Config) *WorkerPool {
	p := &WorkerPool{
		queue:   make(chan queued, max(cfg.QueueSize, 0)),
		onPanic: cfg.PanicHandler,
	}
	n := max(cfg.Workers, 1)
	p.workers.Add(n)
	for range n {
		go p.loop()
	}
	return p
}

// Submit 入队并返回 Future；队列满时阻塞到有空位或 ctx 结束
func (p *WorkerPool) Submit(ctx context.Context, task Task) (*Future, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	f := newFuture()
	select {
	case p.queue <- queued{ctx: ctx, task: task, future: f}:
		p.submitted.Add(1)
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubmitWait 提交后等结果
func (p *WorkerPool) SubmitWait(ctx context.Context, task Task) error {
	f, err := p.Submit(ctx, task)
	if err != nil {
		return err
	}
	return f.Wait(ctx)
}

func (p *WorkerPool) loop() {
	defer p.workers.Done()
	for q := range p.queue {
		p.active.Add(1)
		err := p.execute(q)
		p.active.Add(-1)

		counter := &p.completed
		if err != nil {
			counter = &p.failed
		}
		counter.Add(1)
		q.future.resolve(err)
	}
}

// execute 提交方已放弃的任务不再执行；panic 转成 ErrTaskPanic，worker 继续工作
func (p *WorkerPool) execute(q queued) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if p.onPanic != nil {
			p.onPanic(r)
		}
		err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
	}()

	if err := q.ctx.Err(); err != nil {
		return err
	}
	return q.task(q.ctx)
}

// Close 停止接收，跑完队列里剩余的任务后返回。可重复调用。
func (p *WorkerPool) Close() {
	p.mu.Lock()
	already := p.closed
	if !already {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	if !already {
		p.workers.Wait()
	}
}

func (p *WorkerPool) Stats() Stats {
	return Stats{
		Active:    int(p.active.Load()),
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}
