package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tk, err := New("", 0)
	require.NoError(t, err)
	assert.Equal(t, "estimator", tk.Name())
	assert.Equal(t, 4096, tk.MaxTokens())

	tk, err = New("tiktoken", 8192)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tk.Name(), "tiktoken[cl100k_base]"), tk.Name())
	assert.Equal(t, 8192, tk.MaxTokens())

	_, err = New("sentencepiece", 0)
	assert.Error(t, err)
}

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimatorTokenizer(0)

	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, _ = e.CountTokens("ok")
	assert.Equal(t, 1, n)

	// 36 个字符，重音字母按一个计
	n, _ = e.CountTokens("Je suis KITT, très heureux de parler")
	assert.Equal(t, 10, n)

	n, _ = e.CountTokens("你好世界")
	assert.Equal(t, 2, n)
}

func TestEstimator_CountMessages(t *testing.T) {
	e := NewEstimatorTokenizer(100).WithCharsPerToken(1)
	n, err := e.CountMessages([]Message{{Role: "user", Content: "abcd"}, {Role: "assistant", Content: "ef"}})
	require.NoError(t, err)
	assert.Equal(t, 4+4+2+4+3, n)
}

func TestFitHistory(t *testing.T) {
	e := NewEstimatorTokenizer(60).WithCharsPerToken(1)
	fixed := []Message{{Role: "system", Content: strings.Repeat("s", 10)}} // 10+4+3 = 17
	history := []Message{
		{Role: "user", Content: strings.Repeat("a", 10)},
		{Role: "assistant", Content: strings.Repeat("b", 10)},
		{Role: "user", Content: strings.Repeat("c", 10)},
	}

	// 预算 60-10 = 50；完整历史 3*14+3 = 45 -> 62 > 50；去掉一条后 31+17 = 48
	got := FitHistory(e, fixed, history, 10)
	require.Len(t, got, 2)
	assert.Equal(t, strings.Repeat("b", 10), got[0].Content)

	// 预留过大：历史清空，固定部分由调用方保留
	assert.Empty(t, FitHistory(e, fixed, history, 60))

	// 预算充足时全部保留
	assert.Len(t, FitHistory(NewEstimatorTokenizer(4096), fixed, history, 256), 3)
}

func TestTiktoken_FallsBackWhenEncodingUnavailable(t *testing.T) {
	tk := NewTiktokenTokenizer("nope_base", 0)
	est := NewEstimatorTokenizer(0)

	text := "Bonjour Michael, je surveille la route."
	got, err := tk.CountTokens(text)
	require.NoError(t, err)
	want, _ := est.CountTokens(text)
	assert.Equal(t, want, got)

	msgs := []Message{{Role: "user", Content: text}}
	gotMsgs, err := tk.CountMessages(msgs)
	require.NoError(t, err)
	wantMsgs, _ := est.CountMessages(msgs)
	assert.Equal(t, wantMsgs, gotMsgs)

	assert.Equal(t, "tiktoken[nope_base]->estimator", tk.Name())
	assert.Equal(t, 4096, tk.MaxTokens())
}
