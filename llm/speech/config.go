package speech

import (
	"time"

	"github.com/BaSui01/kyronex/config"
)

// PiperConfig 配置 piper HTTP 服务
type PiperConfig struct {
	BaseURL     string            `json:"base_url" yaml:"base_url"`
	Timeout     time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	LengthScale float64           `json:"length_scale,omitempty" yaml:"length_scale,omitempty"`
	Voices      map[string]string `json:"voices,omitempty" yaml:"voices,omitempty"`
	// DefaultLanguage 未知语言回退到该语言的声音
	DefaultLanguage string `json:"default_language,omitempty" yaml:"default_language,omitempty"`
}

// WhisperConfig 配置 whisper HTTP 服务
type WhisperConfig struct {
	// URL 为完整推理地址，例如 http://127.0.0.1:8178/inference
	URL     string        `json:"url" yaml:"url"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DefaultPiperConfig 返回默认 piper 配置
func DefaultPiperConfig() PiperConfig {
	return PiperConfig{
		BaseURL:         "http://127.0.0.1:5000",
		Timeout:         30 * time.Second,
		LengthScale:     0.9,
		Voices:          map[string]string{"fr": "fr_FR-tom-medium"},
		DefaultLanguage: "fr",
	}
}

// DefaultWhisperConfig 返回默认 whisper 配置
func DefaultWhisperConfig() WhisperConfig {
	return WhisperConfig{
		URL:     "http://127.0.0.1:8178/inference",
		Timeout: 60 * time.Second,
	}
}

// PiperConfigFrom 从应用配置构造 piper 配置
func PiperConfigFrom(c config.SpeechConfig, baseLanguage string) PiperConfig {
	return PiperConfig{
		BaseURL:         c.TTSURL,
		Timeout:         c.TTSTimeout,
		LengthScale:     c.LengthScale,
		Voices:          c.Voices,
		DefaultLanguage: baseLanguage,
	}
}

// WhisperConfigFrom 从应用配置构造 whisper 配置
func WhisperConfigFrom(c config.SpeechConfig) WhisperConfig {
	return WhisperConfig{URL: c.STTURL, Timeout: c.STTTimeout}
}
