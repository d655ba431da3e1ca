// Package speech 提供语音合成（piper）与语音识别（whisper）的 HTTP 适配。
package speech

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrEmptyText 合成文本为空
var ErrEmptyText = errors.New("speech: empty text")

// ErrNoAudio 识别请求缺少音频
var ErrNoAudio = errors.New("speech: audio input is required")

// ============================================================
// 文字转语音 (TTS)
// ============================================================

// TTSRequest 语音合成请求
type TTSRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	// Voice 为空时按 Language 查表
	Voice string `json:"voice,omitempty"`
	// LengthScale 语速，越小越快；0 使用默认值
	LengthScale float64 `json:"length_scale,omitempty"`
}

// TTSResponse 语音合成结果，AudioData 为完整 WAV 字节
type TTSResponse struct {
	Provider  string        `json:"provider"`
	Voice     string        `json:"voice"`
	AudioData []byte        `json:"-"`
	Format    string        `json:"format"`
	Latency   time.Duration `json:"latency"`
	CharCount int           `json:"char_count"`
	CreatedAt time.Time     `json:"created_at"`
}

// TTSProvider 语音合成接口
type TTSProvider interface {
	Synthesize(ctx context.Context, req *TTSRequest) (*TTSResponse, error)
	Name() string
}

// ============================================================
// 语音转文字 (STT)
// ============================================================

// STTRequest 语音识别请求
type STTRequest struct {
	Audio    io.Reader `json:"-"`
	Filename string    `json:"filename,omitempty"`
	// Language 为空时由服务端自动检测
	Language string `json:"language,omitempty"`
}

// STTResponse 语音识别结果
type STTResponse struct {
	Provider            string        `json:"provider"`
	Text                string        `json:"text"`
	Language            string        `json:"language,omitempty"`
	LanguageProbability float64       `json:"language_probability,omitempty"`
	Retried             bool          `json:"retried,omitempty"`
	Latency             time.Duration `json:"latency"`
	CreatedAt           time.Time     `json:"created_at"`
}

// STTProvider 语音识别接口
type STTProvider interface {
	Transcribe(ctx context.Context, req *STTRequest) (*STTResponse, error)
	Name() string
}
