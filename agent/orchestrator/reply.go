package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/agent/enrichment"
	"github.com/BaSui01/kyronex/agent/language"
	"github.com/BaSui01/kyronex/agent/voice"
	"github.com/BaSui01/kyronex/internal/telemetry"
	"github.com/BaSui01/kyronex/llm/streaming"
)

// =============================================================================
// 🗣️ 回复路径
// =============================================================================

// functionReply 直答：一个 token 事件、一段合成，不经过推理
func (o *Orchestrator) functionReply(ctx context.Context, t *turn, out *guardedEmitter, fc *enrichment.FunctionCall) *Outcome {
	oc := &Outcome{
		Reply:     fc.Reply,
		Lang:      t.decision.Lang,
		Function:  fc.Name,
		SessionID: t.req.SessionID,
		Emotion:   voice.Classify(fc.Reply),
	}
	out.token(ctx, fc.Reply)
	t.tracker.must(StateDraining)

	if t.req.WantAudio && o.synth != nil {
		ttsStart := o.now()
		sctx, end := telemetry.StartStage(ctx, "synthesis")
		ref, err := o.synth.Synthesize(sctx, fc.Reply, t.decision.Lang, oc.Emotion)
		end(err)
		if err == nil {
			oc.AudioRef = ref
			out.audio(ctx, ref, fc.Reply)
		}
		oc.Segments = 1
		oc.Timing.TTSMs = o.now().Sub(ttsStart).Milliseconds()
	}
	oc.Timing.Function = fc.Name
	o.metrics.RecordTurn("function", "ok", o.now().Sub(t.start))
	t.logger.Info("function reply", zap.String("function", fc.Name))
	return oc
}

// voiceParams 片段派发时确定的合成参数
type voiceParams struct {
	lang    string
	emotion voice.Emotion
}

// streamReply 推理流 → 元标记过滤 → token 事件 + 切句 → 有序合成
func (o *Orchestrator) streamReply(ctx context.Context, t *turn, out *guardedEmitter) *Outcome {
	t.tracker.must(StateStreaming)
	oc := &Outcome{SessionID: t.req.SessionID}
	if t.enriched.Vision.OK || t.req.ForceVision {
		oc.Timing.VisionMs = t.enriched.VisionElapsed.Milliseconds()
	}

	filter := streaming.NewMetaFilter()
	segmenter := voice.NewSegmenter(o.cfg.Pipeline.MinSegmentChars)
	lock := language.NewReplyLock(t.decision, o.cfg.Pipeline.LanguageRelockChars)
	latch := voice.NewEmotionLatch(t.logger)

	var (
		mu     sync.Mutex
		params = make(map[int]voiceParams)
		spoken strings.Builder
	)
	var dispatcher *voice.Dispatcher
	if t.req.WantAudio && o.synth != nil {
		synth := func(sctx context.Context, seg voice.Segment) (string, error) {
			mu.Lock()
			p := params[seg.Index]
			mu.Unlock()
			return o.synth.Synthesize(sctx, seg.Text, p.lang, p.emotion)
		}
		sink := voice.SinkFunc(func(dctx context.Context, d voice.Delivery) {
			if d.Err != nil || d.AudioRef == "" {
				return
			}
			out.audio(dctx, d.AudioRef, d.Text)
		})
		dispatcher = voice.NewDispatcher(ctx, o.pool, synth, sink, t.logger)
	}

	dispatch := func(segs []voice.Segment) {
		for _, seg := range segs {
			oc.Segments++
			if dispatcher == nil {
				continue
			}
			// 语言与情绪都以到目前为止的整段回复判定，首段之后冻结
			reply := spoken.String()
			lang, changed := lock.Observe(reply)
			if changed {
				t.logger.Info("reply language switched", zap.String("from", t.decision.Lang), zap.String("to", lang))
			}
			emotion := latch.Observe(reply)
			mu.Lock()
			params[seg.Index] = voiceParams{lang: lang, emotion: emotion}
			mu.Unlock()
			if err := dispatcher.Dispatch(seg); err != nil {
				t.logger.Warn("dispatch failed", zap.Int("index", seg.Index), zap.Error(err))
			}
		}
	}

	llmStart := o.now()
	emit := func(clean string) {
		spoken.WriteString(clean)
		out.token(ctx, clean)
		dispatch(segmenter.Feed(clean))
	}
	streamErr := o.consume(ctx, t, filter, emit)
	if tail := filter.Finish(); tail != "" {
		emit(tail)
	}
	o.metrics.RecordMetaDropped(filter.Dropped())

	oc.Reply = filter.Clean()
	if oc.Reply == "" {
		// 没有任何可用输出：回退句走正常的 token 与合成路径
		oc.Fallback = true
		oc.Reply = FallbackReply
		spoken.WriteString(FallbackReply)
		out.token(ctx, FallbackReply)
		dispatch(segmenter.Feed(FallbackReply))
		if streamErr != nil {
			t.logger.Warn("inference failed before first token", zap.Error(streamErr))
		}
	} else if streamErr != nil {
		t.logger.Warn("inference interrupted, keeping partial reply", zap.Int("chars", len(oc.Reply)), zap.Error(streamErr))
	}
	dispatch(segmenter.Flush())
	oc.Timing.LLMMs = o.now().Sub(llmStart).Milliseconds()

	t.tracker.must(StateDraining)
	ttsStart := o.now()
	if dispatcher != nil {
		dispatcher.Wait()
	}
	oc.Timing.TTSMs = o.now().Sub(ttsStart).Milliseconds()

	oc.Lang = lock.Lang()
	if latch.Frozen() {
		oc.Emotion = latch.Emotion()
	} else {
		oc.Emotion = voice.Classify(oc.Reply)
	}
	oc.Timing.Emotion = string(oc.Emotion)
	o.metrics.RecordEmotion(string(oc.Emotion))

	status := "ok"
	switch {
	case oc.Fallback:
		status = "fallback"
	case streamErr != nil:
		status = "partial"
	}
	o.metrics.RecordTurn("llm", status, o.now().Sub(t.start))
	t.logger.Info("reply streamed",
		zap.String("status", status),
		zap.Int("segments", oc.Segments),
		zap.String("lang", oc.Lang),
		zap.String("emotion", string(oc.Emotion)),
		zap.Int64("llm_ms", oc.Timing.LLMMs),
		zap.Int64("tts_ms", oc.Timing.TTSMs))
	return oc
}

// consume 读取推理流，把过滤后的非空增量交给 onClean
func (o *Orchestrator) consume(ctx context.Context, t *turn, filter *streaming.MetaFilter, onClean func(string)) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sctx, end := telemetry.StartStage(sctx, "llm")

	start := time.Now()
	var firstToken time.Duration
	err := func() error {
		ch, err := o.provider.Stream(sctx, o.chatRequest(sctx, t))
		if err != nil {
			return err
		}
		for chunk := range ch {
			if chunk.Err != nil {
				return chunk.Err
			}
			clean := filter.Push(chunk.Delta)
			if clean == "" {
				continue
			}
			if firstToken == 0 {
				firstToken = time.Since(start)
			}
			onClean(clean)
		}
		return ctx.Err()
	}()
	end(err)

	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, context.Canceled) {
			status = "canceled"
		}
	}
	o.metrics.RecordLLMStream(status, firstToken, time.Since(start))
	return err
}
