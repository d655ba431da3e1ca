package middleware

import (
	"context"
	"fmt"

	"github.com/BaSui01/kyronex/llm"
)

// RequestRewriter 发送前改写请求。实现不得修改入参，需要改动时返回副本。
type RequestRewriter interface {
	Rewrite(ctx context.Context, req *llm.ChatRequest) (*llm.ChatRequest, error)
	Name() string
}

// RewriterChain 依次执行，任一失败即中断
type RewriterChain []RequestRewriter

func NewRewriterChain(rewriters ...RequestRewriter) *RewriterChain {
	chain := RewriterChain(rewriters)
	return &chain
}

// Execute nil 或空链原样返回 req
func (c *RewriterChain) Execute(ctx context.Context, req *llm.ChatRequest) (*llm.ChatRequest, error) {
	if c == nil {
		return req, nil
	}
	for _, rw := range *c {
		next, err := rw.Rewrite(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("rewriter [%s] failed: %w", rw.Name(), err)
		}
		req = next
	}
	return req, nil
}

// Names 启动日志用
func (c *RewriterChain) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(*c))
	for i, rw := range *c {
		names[i] = rw.Name()
	}
	return names
}
