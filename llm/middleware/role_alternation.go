package middleware

import (
	"context"
	"strings"

	"github.com/BaSui01/kyronex/llm"
)

// RoleAlternation 把消息整理成严格交替的形状：
//   - 所有 system 消息合并为开头的一条
//   - 空白消息丢弃
//   - 相邻同角色消息以空行合并
//   - system 之后的前导 assistant 消息丢弃
type RoleAlternation struct{}

// NewRoleAlternation 创建角色交替改写器
func NewRoleAlternation() *RoleAlternation { return &RoleAlternation{} }

func (r *RoleAlternation) Name() string { return "role_alternation" }

func (r *RoleAlternation) Rewrite(_ context.Context, req *llm.ChatRequest) (*llm.ChatRequest, error) {
	if req == nil || len(req.Messages) == 0 {
		return req, nil
	}

	var system []string
	turns := make([]llm.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		if m.Role == llm.RoleSystem {
			system = append(system, content)
			continue
		}
		if len(turns) == 0 && m.Role == llm.RoleAssistant {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].Role == m.Role {
			turns[n-1].Content += "\n\n" + content
			continue
		}
		turns = append(turns, llm.Message{Role: m.Role, Content: content})
	}

	out := *req
	out.Messages = make([]llm.Message, 0, len(turns)+1)
	if len(system) > 0 {
		out.Messages = append(out.Messages, llm.Message{Role: llm.RoleSystem, Content: strings.Join(system, "\n\n")})
	}
	out.Messages = append(out.Messages, turns...)
	return &out, nil
}
