package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/kyronex/internal/tlsutil"
	"go.uber.org/zap"
)

// PiperTTSProvider 调用 piper HTTP 服务合成 WAV（单声道 PCM16）
type PiperTTSProvider struct {
	cfg    PiperConfig
	client *http.Client
	logger *zap.Logger
}

// NewPiperTTSProvider 创建 piper 合成器
func NewPiperTTSProvider(cfg PiperConfig, logger *zap.Logger) *PiperTTSProvider {
	def := DefaultPiperConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.LengthScale == 0 {
		cfg.LengthScale = def.LengthScale
	}
	if len(cfg.Voices) == 0 {
		cfg.Voices = def.Voices
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = def.DefaultLanguage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PiperTTSProvider{
		cfg:    cfg,
		client: tlsutil.LocalHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "tts"), zap.String("provider", "piper")),
	}
}

func (p *PiperTTSProvider) Name() string { return "piper" }

// VoiceFor 返回语言对应的声音，未配置时回退到默认语言
func (p *PiperTTSProvider) VoiceFor(lang string) string {
	if v, ok := p.cfg.Voices[strings.ToLower(lang)]; ok {
		return v
	}
	return p.cfg.Voices[p.cfg.DefaultLanguage]
}

type piperRequest struct {
	Text        string  `json:"text"`
	LengthScale float64 `json:"length_scale"`
	Voice       string  `json:"voice,omitempty"`
}

// Synthesize 合成一段文本
func (p *PiperTTSProvider) Synthesize(ctx context.Context, req *TTSRequest) (*TTSResponse, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	voice := req.Voice
	if voice == "" {
		voice = p.VoiceFor(req.Language)
	}
	scale := req.LengthScale
	if scale == 0 {
		scale = p.cfg.LengthScale
	}

	payload, err := json.Marshal(piperRequest{Text: req.Text, LengthScale: scale, Voice: voice})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("piper request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("piper error: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read piper audio: %w", err)
	}
	if !IsWAV(data) {
		return nil, fmt.Errorf("piper returned %d bytes without a RIFF/WAVE header", len(data))
	}

	latency := time.Since(start)
	p.logger.Debug("synthesized",
		zap.String("voice", voice),
		zap.Int("chars", len([]rune(req.Text))),
		zap.Duration("latency", latency))

	return &TTSResponse{
		Provider:  p.Name(),
		Voice:     voice,
		AudioData: data,
		Format:    "wav",
		Latency:   latency,
		CharCount: len([]rune(req.Text)),
		CreatedAt: time.Now(),
	}, nil
}
