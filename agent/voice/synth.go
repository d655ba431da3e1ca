package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/kyronex/internal/metrics"
	"github.com/BaSui01/kyronex/llm/speech"
	"github.com/BaSui01/kyronex/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🗣 片段合成
// =============================================================================

// SynthesizerConfig 合成参数
type SynthesizerConfig struct {
	// LengthScale 基础语速，0 使用 TTS 服务默认值
	LengthScale float64
	// SampleRate 输出采样率，0 保持 TTS 原始采样率
	SampleRate int
	// Effects 是否应用情绪音效
	Effects  bool
	MinChars int
	Jitter   Jitter
}

// Synthesizer 合成一段文本：按短语合成、插入停顿、施加情绪音效、落盘
type Synthesizer struct {
	tts     speech.TTSProvider
	store   *AudioStore
	cfg     SynthesizerConfig
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewSynthesizer 创建合成器
func NewSynthesizer(tts speech.TTSProvider, store *AudioStore, cfg SynthesizerConfig, collector *metrics.Collector, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		tts:     tts,
		store:   store,
		cfg:     cfg,
		metrics: collector,
		logger:  logger.With(zap.String("component", "synthesizer")),
	}
}

// Synthesize 返回音频引用（/audio/...）
func (s *Synthesizer) Synthesize(ctx context.Context, text, lang string, emotion Emotion) (string, error) {
	start := time.Now()
	ref, err := s.synthesize(ctx, text, lang, emotion)
	status := "ok"
	if err != nil {
		status = "error"
		s.logger.Warn("synthesis failed", zap.String("lang", lang), zap.Error(err))
	}
	s.metrics.RecordSynthesis(lang, status, time.Since(start))
	return ref, err
}

func (s *Synthesizer) synthesize(ctx context.Context, text, lang string, emotion Emotion) (string, error) {
	phrases := SplitPhrases(text, s.cfg.MinChars, s.cfg.Jitter)
	if len(phrases) == 0 {
		return "", speech.ErrEmptyText
	}

	wave := &speech.Waveform{}
	var firstErr error
	for _, ph := range phrases {
		part, err := s.phrase(ctx, ph, lang)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := wave.Append(part); err != nil {
			return "", types.NewError(types.ErrSynthesisFailed, "phrase sample rate mismatch").WithCause(err)
		}
		wave.AppendSilence(ph.Pause)
	}
	if len(wave.Samples) == 0 {
		if firstErr == nil {
			firstErr = errors.New("no audio produced")
		}
		return "", types.NewError(types.ErrSynthesisFailed, "synthesis produced no audio").WithCause(firstErr)
	}

	if s.cfg.SampleRate > 0 && wave.SampleRate != s.cfg.SampleRate {
		wave = &speech.Waveform{
			Samples:    resample(wave.Samples, float64(wave.SampleRate)/float64(s.cfg.SampleRate)),
			SampleRate: s.cfg.SampleRate,
		}
	}
	if s.cfg.Effects {
		wave.Samples = ApplyEffects(wave.Samples, wave.SampleRate, ProfileFor(emotion))
	}

	data, err := speech.EncodeWAV(wave)
	if err != nil {
		return "", types.NewError(types.ErrSynthesisFailed, "encode wav").WithCause(err)
	}
	return s.store.Save(data)
}

func (s *Synthesizer) phrase(ctx context.Context, ph Phrase, lang string) (*speech.Waveform, error) {
	req := &speech.TTSRequest{Text: strings.TrimSpace(ph.Text), Language: lang}
	if s.cfg.LengthScale > 0 {
		req.LengthScale = s.cfg.LengthScale * ph.Speed
	}
	resp, err := s.tts.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}
	w, err := speech.DecodeWAV(resp.AudioData)
	if err != nil {
		return nil, fmt.Errorf("decode phrase audio: %w", err)
	}
	return w, nil
}
