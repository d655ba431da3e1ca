package tokenizer

import (
	"fmt"
	"strings"
)

// Tokenizer 统一的 token 计数接口，用于提示词预算。
type Tokenizer interface {
	// CountTokens 返回文本的 token 数
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的 token 总数，含每条消息的角色/分隔开销
	CountMessages(messages []Message) (int, error)

	// MaxTokens 返回模型上下文窗口
	MaxTokens() int

	// Name 返回分词器名称
	Name() string
}

const (
	defaultContextWindow = 4096
	perMessageOverhead   = 4 // 角色标记与分隔符
	replyPriming         = 3 // 助手回复的起始标记
)

// Message 轻量消息结构，避免与 llm 包循环依赖
type Message struct {
	Role    string
	Content string
}

// New 按名称创建分词器：tiktoken（cl100k_base）或 estimator（默认）。
// contextWindow <= 0 时使用 4096。tiktoken 的编码表加载失败时自动退回估算。
func New(kind string, contextWindow int) (Tokenizer, error) {
	switch strings.ToLower(kind) {
	case "", "estimator":
		return NewEstimatorTokenizer(contextWindow), nil
	case "tiktoken", "cl100k_base":
		return NewTiktokenTokenizer("cl100k_base", contextWindow), nil
	case "o200k_base":
		return NewTiktokenTokenizer("o200k_base", contextWindow), nil
	default:
		return nil, fmt.Errorf("unknown tokenizer: %s", kind)
	}
}

// FitHistory 从最旧的消息开始丢弃 history，直到 fixed + history 的 token 数
// 不超过 MaxTokens - reserve（reserve 为补全预留）。fixed（系统提示词与当前
// 用户消息）永不裁剪；计数失败时原样返回 history。
func FitHistory(t Tokenizer, fixed, history []Message, reserve int) []Message {
	budget := t.MaxTokens() - reserve
	fixedTokens, err := t.CountMessages(fixed)
	if err != nil {
		return history
	}
	for len(history) > 0 {
		h, err := t.CountMessages(history)
		if err != nil {
			return history
		}
		if fixedTokens+h <= budget {
			break
		}
		history = history[1:]
	}
	return history
}
