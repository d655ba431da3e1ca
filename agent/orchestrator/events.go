package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Event 流式回复事件，三种之一：token、音频片段、结束
type Event struct {
	Token      string  `json:"token,omitempty"`
	AudioChunk string  `json:"audio_chunk,omitempty"`
	ChunkText  string  `json:"chunk_text,omitempty"`
	Done       bool    `json:"done,omitempty"`
	Timing     *Timing `json:"timing,omitempty"`
}

// Kind SSE 事件名：token、segment（音频片段）或 done
func (ev Event) Kind() string {
	switch {
	case ev.Done:
		return "done"
	case ev.AudioChunk != "":
		return "segment"
	default:
		return "token"
	}
}

// Timing 一轮回复的耗时（毫秒）
type Timing struct {
	LLMMs    int64  `json:"llm_ms"`
	TTSMs    int64  `json:"tts_ms"`
	TotalMs  int64  `json:"total_ms,omitempty"`
	Emotion  string `json:"emotion,omitempty"`
	VisionMs int64  `json:"vision_ms,omitempty"`
	Function string `json:"function,omitempty"`
}

// Emitter 接收回复事件。token 与音频片段可能来自不同 goroutine。
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// EmitterFunc 函数适配器
type EmitterFunc func(ctx context.Context, ev Event) error

// Emit 实现 Emitter
func (f EmitterFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// guardedEmitter 串行化写入；首次失败后静默丢弃后续事件
type guardedEmitter struct {
	mu     sync.Mutex
	next   Emitter
	failed bool
	logger *zap.Logger
}

func guard(next Emitter, logger *zap.Logger) *guardedEmitter {
	return &guardedEmitter{next: next, logger: logger}
}

func (g *guardedEmitter) emit(ctx context.Context, ev Event) {
	if g.next == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failed {
		return
	}
	if err := g.next.Emit(ctx, ev); err != nil {
		g.failed = true
		g.logger.Info("client gone, dropping remaining events", zap.Error(err))
	}
}

func (g *guardedEmitter) token(ctx context.Context, text string) {
	g.emit(ctx, Event{Token: text})
}

func (g *guardedEmitter) audio(ctx context.Context, ref, text string) {
	g.emit(ctx, Event{AudioChunk: ref, ChunkText: text})
}

func (g *guardedEmitter) done(ctx context.Context, t Timing) {
	g.emit(ctx, Event{Done: true, Timing: &t})
}
