package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/kyronex/llm"
)

func msg(role llm.Role, content string) llm.Message {
	return llm.Message{Role: role, Content: content}
}

func TestRoleAlternation(t *testing.T) {
	tests := []struct {
		name string
		in   []llm.Message
		want []llm.Message
	}{
		{
			name: "already alternating",
			in:   []llm.Message{msg(llm.RoleSystem, "Tu es KITT."), msg(llm.RoleUser, "Salut"), msg(llm.RoleAssistant, "Bonjour Michael.")},
			want: []llm.Message{msg(llm.RoleSystem, "Tu es KITT."), msg(llm.RoleUser, "Salut"), msg(llm.RoleAssistant, "Bonjour Michael.")},
		},
		{
			name: "system messages merged to front",
			in:   []llm.Message{msg(llm.RoleSystem, "Tu es KITT."), msg(llm.RoleUser, "Heure ?"), msg(llm.RoleSystem, "Il est 14h.")},
			want: []llm.Message{msg(llm.RoleSystem, "Tu es KITT.\n\nIl est 14h."), msg(llm.RoleUser, "Heure ?")},
		},
		{
			name: "consecutive user turns merged",
			in:   []llm.Message{msg(llm.RoleUser, "Salut"), msg(llm.RoleUser, "  "), msg(llm.RoleUser, "Tu es là ?")},
			want: []llm.Message{msg(llm.RoleUser, "Salut\n\nTu es là ?")},
		},
		{
			name: "leading assistant dropped",
			in:   []llm.Message{msg(llm.RoleSystem, "Tu es KITT."), msg(llm.RoleAssistant, "Je surveille."), msg(llm.RoleUser, "Merci")},
			want: []llm.Message{msg(llm.RoleSystem, "Tu es KITT."), msg(llm.RoleUser, "Merci")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &llm.ChatRequest{Model: "local", Messages: tt.in}
			got, err := NewRoleAlternation().Rewrite(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Messages)
			assert.Equal(t, "local", got.Model)
		})
	}
}

func TestRoleAlternation_DoesNotMutateInput(t *testing.T) {
	in := []llm.Message{msg(llm.RoleUser, "a"), msg(llm.RoleUser, "b")}
	req := &llm.ChatRequest{Messages: in}

	got, err := NewRoleAlternation().Rewrite(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Len(t, req.Messages, 2)
	assert.Equal(t, "a", req.Messages[0].Content)
}

type failingRewriter struct{}

func (failingRewriter) Name() string { return "failing" }
func (failingRewriter) Rewrite(context.Context, *llm.ChatRequest) (*llm.ChatRequest, error) {
	return nil, errors.New("boom")
}

func TestRewriterChain(t *testing.T) {
	var nilChain *RewriterChain
	req := &llm.ChatRequest{Messages: []llm.Message{msg(llm.RoleUser, "x")}}
	got, err := nilChain.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Same(t, req, got)

	chain := NewRewriterChain(NewRoleAlternation(), failingRewriter{})
	assert.Equal(t, []string{"role_alternation", "failing"}, chain.Names())
	_, err = chain.Execute(context.Background(), req)
	assert.ErrorContains(t, err, "rewriter [failing] failed")
}
