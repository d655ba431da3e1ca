package tokenizer

import (
	"unicode"
	"unicode/utf8"
)

const (
	latinCharsPerToken = 3.6 // 法语重音字母按 1 个字符计
	cjkCharsPerToken   = 1.5
)

// EstimatorTokenizer 按字符数估算，不需要词表
type EstimatorTokenizer struct {
	maxTokens     int
	charsPerToken float64
}

// NewEstimatorTokenizer maxTokens <= 0 时用 4096
func NewEstimatorTokenizer(maxTokens int) *EstimatorTokenizer {
	if maxTokens <= 0 {
		maxTokens = defaultContextWindow
	}
	return &EstimatorTokenizer{maxTokens: maxTokens, charsPerToken: latinCharsPerToken}
}

// WithCharsPerToken 调整非 CJK 文本的比例
func (e *EstimatorTokenizer) WithCharsPerToken(ratio float64) *EstimatorTokenizer {
	if ratio > 0 {
		e.charsPerToken = ratio
	}
	return e
}

// CountTokens 非空文本至少 1
func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	cjk := 0
	for _, r := range text {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			cjk++
		}
	}
	other := utf8.RuneCountInString(text) - cjk
	return max(1, int(float64(cjk)/cjkCharsPerToken+float64(other)/e.charsPerToken)), nil
}

func (e *EstimatorTokenizer) CountMessages(messages []Message) (int, error) {
	total := replyPriming
	for _, m := range messages {
		n, _ := e.CountTokens(m.Content)
		total += n + perMessageOverhead
	}
	return total, nil
}

func (e *EstimatorTokenizer) MaxTokens() int { return e.maxTokens }

func (e *EstimatorTokenizer) Name() string { return "estimator" }
