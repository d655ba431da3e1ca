package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/kyronex/internal/tlsutil"
	"go.uber.org/zap"
)

// WhisperSTTProvider 调用 whisper HTTP 服务（multipart 上传）
type WhisperSTTProvider struct {
	cfg    WhisperConfig
	client *http.Client
	logger *zap.Logger
}

// NewWhisperSTTProvider 创建 whisper 识别器
func NewWhisperSTTProvider(cfg WhisperConfig, logger *zap.Logger) *WhisperSTTProvider {
	def := DefaultWhisperConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WhisperSTTProvider{
		cfg:    cfg,
		client: tlsutil.LocalHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "stt"), zap.String("provider", "whisper")),
	}
}

func (p *WhisperSTTProvider) Name() string { return "whisper" }

type whisperResponse struct {
	Text                string  `json:"text"`
	Language            string  `json:"language"`
	LanguageProbability float64 `json:"language_probability"`
	Error               string  `json:"error,omitempty"`
}

// Transcribe 将音频转写为文本
func (p *WhisperSTTProvider) Transcribe(ctx context.Context, req *STTRequest) (*STTResponse, error) {
	if req == nil || req.Audio == nil {
		return nil, ErrNoAudio
	}
	filename := req.Filename
	if filename == "" {
		filename = "audio.webm"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, req.Audio); err != nil {
		return nil, fmt.Errorf("failed to copy audio: %w", err)
	}
	if req.Language != "" {
		_ = writer.WriteField("language", req.Language)
	}
	_ = writer.WriteField("response_format", "json")
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whisper request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("whisper error: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	var wResp whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&wResp); err != nil {
		return nil, fmt.Errorf("failed to decode whisper response: %w", err)
	}
	if wResp.Error != "" {
		return nil, fmt.Errorf("whisper error: %s", wResp.Error)
	}

	return &STTResponse{
		Provider:            p.Name(),
		Text:                strings.TrimSpace(wResp.Text),
		Language:            wResp.Language,
		LanguageProbability: wResp.LanguageProbability,
		Latency:             time.Since(start),
		CreatedAt:           time.Now(),
	}, nil
}
