package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/llm"
)

// =============================================================================
// 🔌 推理服务熔断器
// =============================================================================

// State 熔断状态，数值直接作为指标 gauge 的取值
type State int

const (
	StateClosed   State = iota // 正常放行
	StateOpen                  // 直接拒绝
	StateHalfOpen              // 放少量试探请求
)

var stateNames = [...]string{"closed", "open", "half_open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

var (
	ErrCircuitOpen            = errors.New("熔断器已打开")
	ErrTooManyCallsInHalfOpen = errors.New("半开状态下调用次数过多")
)

// Config 零值字段由 NewCircuitBreaker 补默认值
type Config struct {
	Threshold        int           // 连续失败多少次后打开
	Timeout          time.Duration // 单次调用上限
	ResetTimeout     time.Duration // 打开多久后转半开
	HalfOpenMaxCalls int           // 半开时并发试探数

	// OnStateChange 在独立 goroutine 中回调
	OnStateChange func(from State, to State)
}

// DefaultConfig 本地推理服务重启通常在半分钟内完成
func DefaultConfig() *Config {
	return &Config{
		Threshold:        3,
		Timeout:          2 * time.Minute,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.Threshold <= 0 {
		out.Threshold = def.Threshold
	}
	if out.Timeout <= 0 {
		out.Timeout = def.Timeout
	}
	if out.ResetTimeout <= 0 {
		out.ResetTimeout = def.ResetTimeout
	}
	if out.HalfOpenMaxCalls <= 0 {
		out.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return &out
}

// CircuitBreaker 熔断打开时 Call 不执行 fn，直接返回 ErrCircuitOpen
type CircuitBreaker interface {
	Call(ctx context.Context, fn func() error) error
	CallWithResult(ctx context.Context, fn func() (any, error)) (any, error)
	State() State
	Reset()
}

// breaker 每次状态切换递增 generation，旧一代调用的结果不再影响计数
type breaker struct {
	config *Config
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	failures   int
	probes     int
	openUntil  time.Time
}

// NewCircuitBreaker 非法参数回落到默认值
func NewCircuitBreaker(config *Config, logger *zap.Logger) CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &breaker{
		config: config.withDefaults(),
		logger: logger.With(zap.String("component", "circuit_breaker")),
		now:    time.Now,
	}
}

func (b *breaker) Call(ctx context.Context, fn func() error) error {
	_, err := b.CallWithResult(ctx, func() (any, error) { return nil, fn() })
	return err
}

func (b *breaker) CallWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	gen, err := b.admit()
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		b.settle(gen, classify(r.err))
		return r.v, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			b.settle(gen, outcomeIgnored)
		} else {
			b.settle(gen, outcomeFailure)
		}
		return nil, fmt.Errorf("调用超时: %w", callCtx.Err())
	}
}

// Do 是 CallWithResult 的泛型版本
func Do[T any](ctx context.Context, cb CircuitBreaker, fn func() (T, error)) (T, error) {
	v, err := cb.CallWithResult(ctx, func() (any, error) { return fn() })
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeIgnored // 调用方自己取消
)

// classify 只有服务端故障计入熔断。不可重试的 llm.Error（参数错误、上下文溢出、
// 鉴权失败）说明服务有响应，按成功计。
func classify(err error) outcome {
	var llmErr *llm.Error
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, context.Canceled):
		return outcomeIgnored
	case errors.As(err, &llmErr) && !llmErr.Retryable:
		return outcomeSuccess
	default:
		return outcomeFailure
	}
}

// admit 决定是否放行，返回放行时所在的 generation
func (b *breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Before(b.openUntil) {
			return 0, ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.logger.Info("熔断器进入半开状态")
	}
	if b.state == StateHalfOpen {
		if b.probes >= b.config.HalfOpenMaxCalls {
			return 0, ErrTooManyCallsInHalfOpen
		}
		b.probes++
	}
	return b.generation, nil
}

func (b *breaker) settle(gen uint64, o outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.generation {
		return
	}
	half := b.state == StateHalfOpen

	switch o {
	case outcomeIgnored:
		if half {
			b.probes--
		}
	case outcomeSuccess:
		b.failures = 0
		if half {
			b.logger.Info("熔断器恢复正常")
			b.transition(StateClosed)
		}
	case outcomeFailure:
		b.failures++
		switch {
		case half:
			b.logger.Warn("半开试探失败，重新打开")
			b.trip()
		case b.failures >= b.config.Threshold:
			b.logger.Warn("熔断器打开",
				zap.Int("failure_count", b.failures),
				zap.Int("threshold", b.config.Threshold))
			b.trip()
		}
	}
}

func (b *breaker) trip() {
	b.transition(StateOpen)
	b.openUntil = b.now().Add(b.config.ResetTimeout)
}

// transition 切换状态并开启新一代计数；调用方持有锁
func (b *breaker) transition(to State) {
	from := b.state
	b.state = to
	b.generation++
	b.failures = 0
	b.probes = 0
	if from != to && b.config.OnStateChange != nil {
		go b.config.OnStateChange(from, to)
	}
}

func (b *breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动回到 closed
func (b *breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	from := b.state
	b.transition(StateClosed)
	b.logger.Info("熔断器已重置", zap.Stringer("from_state", from))
}
