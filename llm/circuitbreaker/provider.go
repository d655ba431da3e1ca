package circuitbreaker

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/llm"
)

// Provider 用熔断器保护推理调用。
// 流式请求只保护建连阶段，流中途的错误由调用方按 StreamChunk.Err 处理；
// HealthCheck 直接透传，探针需要看到服务真实状态。
type Provider struct {
	next llm.Provider
	cb   CircuitBreaker
}

var _ llm.Provider = (*Provider)(nil)

// Wrap 包装 Provider
func Wrap(next llm.Provider, config *Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		next: next,
		cb:   NewCircuitBreaker(config, logger.With(zap.String("provider", next.Name()))),
	}
}

func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := Do(ctx, p.cb, func() (*llm.ChatResponse, error) {
		return p.next.Completion(ctx, req)
	})
	return resp, p.mapErr(err)
}

func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch, err := Do(ctx, p.cb, func() (<-chan llm.StreamChunk, error) {
		return p.next.Stream(ctx, req)
	})
	return ch, p.mapErr(err)
}

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return p.next.HealthCheck(ctx)
}

func (p *Provider) Name() string { return p.next.Name() }

// State 当前熔断状态
func (p *Provider) State() State { return p.cb.State() }

// mapErr 熔断拒绝转换为 llm.Error，上层统一按推理服务不可用处理
func (p *Provider) mapErr(err error) error {
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyCallsInHalfOpen) {
		return &llm.Error{
			Code:       llm.ErrProviderUnavailable,
			Message:    err.Error(),
			HTTPStatus: http.StatusServiceUnavailable,
			Provider:   p.next.Name(),
		}
	}
	return err
}
