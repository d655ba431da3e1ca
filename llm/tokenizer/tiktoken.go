package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer 用 OpenAI 的 BPE 表近似本地模型的 token 数。
// 编码表首次使用时加载，机器离线拿不到表时永久退回估算器，计数不会报错。
type TiktokenTokenizer struct {
	encoding string
	fallback *EstimatorTokenizer

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktokenTokenizer encoding 为空时用 cl100k_base
func NewTiktokenTokenizer(encoding string, maxTokens int) *TiktokenTokenizer {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenTokenizer{encoding: encoding, fallback: NewEstimatorTokenizer(maxTokens)}
}

func (t *TiktokenTokenizer) load() *tiktoken.Tiktoken {
	t.once.Do(func() {
		if enc, err := tiktoken.GetEncoding(t.encoding); err == nil {
			t.enc = enc
		}
	})
	return t.enc
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	enc := t.load()
	if enc == nil {
		return t.fallback.CountTokens(text)
	}
	return len(enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) CountMessages(messages []Message) (int, error) {
	enc := t.load()
	if enc == nil {
		return t.fallback.CountMessages(messages)
	}
	total := replyPriming
	for _, m := range messages {
		total += perMessageOverhead + len(enc.Encode(m.Role, nil, nil)) + len(enc.Encode(m.Content, nil, nil))
	}
	return total, nil
}

func (t *TiktokenTokenizer) MaxTokens() int { return t.fallback.MaxTokens() }

// Name 编码表不可用时带上 "->estimator"
func (t *TiktokenTokenizer) Name() string {
	if t.load() == nil {
		return "tiktoken[" + t.encoding + "]->estimator"
	}
	return "tiktoken[" + t.encoding + "]"
}
