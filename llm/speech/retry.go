package speech

import (
	"bytes"
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy 低置信度重试策略：
// 未存储语言偏好、检测置信度低于 Threshold 且检测语言不是基础语言时，
// 强制基础语言重新识别一次；重试结果非空才替换首轮结果。
type RetryPolicy struct {
	Threshold    float64
	BaseLanguage string
}

// DefaultRetryPolicy 返回默认重试策略（0.75 / fr）
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Threshold: 0.75, BaseLanguage: "fr"}
}

// ShouldRetry 判断首轮结果是否需要以基础语言重试
func (rp RetryPolicy) ShouldRetry(preferred string, first *STTResponse) bool {
	if preferred != "" || first == nil {
		return false
	}
	return first.LanguageProbability < rp.Threshold && first.Language != rp.BaseLanguage
}

// Transcribe 识别一段音频。preferred 为设备存储的语言偏好，可为空。
// audio 需要整体持有，重试时重新读取。
func (rp RetryPolicy) Transcribe(ctx context.Context, stt STTProvider, audio []byte, filename, preferred string, logger *zap.Logger) (*STTResponse, error) {
	if len(audio) == 0 {
		return nil, ErrNoAudio
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()
	first, err := stt.Transcribe(ctx, &STTRequest{
		Audio:    bytes.NewReader(audio),
		Filename: filename,
		Language: preferred,
	})
	if err != nil {
		return nil, err
	}
	if !rp.ShouldRetry(preferred, first) {
		return first, nil
	}

	logger.Info("low confidence transcription, retrying with base language",
		zap.String("detected", first.Language),
		zap.Float64("probability", first.LanguageProbability),
		zap.String("base_language", rp.BaseLanguage))

	second, err := stt.Transcribe(ctx, &STTRequest{
		Audio:    bytes.NewReader(audio),
		Filename: filename,
		Language: rp.BaseLanguage,
	})
	if err != nil {
		logger.Warn("retry transcription failed, keeping first result", zap.Error(err))
		first.Retried = true
		return first, nil
	}
	if second.Text == "" {
		first.Retried = true
		return first, nil
	}
	if second.Language == "" {
		second.Language = rp.BaseLanguage
	}
	second.Retried = true
	second.Latency = time.Since(start)
	return second, nil
}
