package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/llm"
)

type flakyProvider struct {
	err    error
	calls  int
	health int
}

func (f *flakyProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: "Je suis KITT."}, nil
}

func (f *flakyProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan llm.StreamChunk, 1)
	ch <- llm.StreamChunk{Delta: "Bonjour"}
	close(ch)
	return ch, nil
}

func (f *flakyProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	f.health++
	return &llm.HealthStatus{Healthy: f.err == nil}, nil
}

func (f *flakyProvider) Name() string { return "llamacpp" }

func TestProvider_PassThrough(t *testing.T) {
	inner := &flakyProvider{}
	p := Wrap(inner, nil, zap.NewNop())

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Je suis KITT.", resp.Content)

	ch, err := p.Stream(context.Background(), &llm.ChatRequest{})
	require.NoError(t, err)
	chunk := <-ch
	assert.Equal(t, "Bonjour", chunk.Delta)

	assert.Equal(t, "llamacpp", p.Name())
	assert.Equal(t, StateClosed, p.State())
}

func TestProvider_OpenCircuitMapsToUnavailable(t *testing.T) {
	inner := &flakyProvider{err: &llm.Error{Code: llm.ErrUpstreamError, Retryable: true, Message: "connection refused"}}
	p := Wrap(inner, &Config{Threshold: 2, ResetTimeout: time.Hour}, zap.NewNop())

	for i := 0; i < 2; i++ {
		_, err := p.Completion(context.Background(), &llm.ChatRequest{})
		require.Error(t, err)
	}
	require.Equal(t, StateOpen, p.State())

	_, err := p.Stream(context.Background(), &llm.ChatRequest{})
	var llmErr *llm.Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, llm.ErrProviderUnavailable, llmErr.Code)
	assert.Equal(t, "llamacpp", llmErr.Provider)
	assert.Equal(t, 2, inner.calls, "open circuit must not reach the server")

	// 健康检查不受熔断影响
	status, err := p.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Healthy)
	assert.Equal(t, 1, inner.health)
}
