package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/agent/persistence"
	"github.com/BaSui01/kyronex/api"
	"github.com/BaSui01/kyronex/internal/metrics"
	"github.com/BaSui01/kyronex/llm/speech"
	"github.com/BaSui01/kyronex/types"
)

// maxAudioBytes 上传音频上限
const maxAudioBytes = 25 << 20

// audioFields 可接受的 multipart 字段名
var audioFields = map[string]bool{"audio": true, "file": true}

// ProfileReader 读取设备档案
type ProfileReader interface {
	Profile(ctx context.Context, deviceKey string) persistence.DeviceProfile
}

// =============================================================================
// 🎙️ 语音识别 Handler
// =============================================================================

// SpeechHandler 语音识别处理器
type SpeechHandler struct {
	stt      speech.STTProvider
	policy   speech.RetryPolicy
	profiles ProfileReader
	identity *Identity
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewSpeechHandler 创建语音识别处理器；profiles 为 nil 时一律自动检测语言
func NewSpeechHandler(stt speech.STTProvider, policy speech.RetryPolicy, profiles ProfileReader, identity *Identity, collector *metrics.Collector, logger *zap.Logger) *SpeechHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpeechHandler{
		stt:      stt,
		policy:   policy,
		profiles: profiles,
		identity: identity,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "speech_handler")),
	}
}

// HandleSTT 识别上传的音频
// @Summary 语音识别
// @Description multipart 字段 audio（或 file）。设备有语言偏好时强制该语言，否则自动检测，
// @Description 低置信度时以基础语言重试一次。
// @Tags 语音
// @Accept multipart/form-data
// @Produce json
// @Success 200 {object} api.TranscriptionResponse
// @Failure 400 {object} Response "没有音频"
// @Failure 502 {object} Response "识别失败"
// @Router /api/stt [post]
func (h *SpeechHandler) HandleSTT(w http.ResponseWriter, r *http.Request) {
	audio, filename, err := readAudioPart(r)
	if err != nil || len(audio) == 0 {
		e := types.NewError(types.ErrInvalidRequest, "Pas d'audio reçu")
		if err != nil {
			e = e.WithCause(err)
		}
		WriteError(w, e, h.logger)
		return
	}

	ip, device := h.identity.Resolve(r)
	var preferred string
	if h.profiles != nil {
		preferred = h.profiles.Profile(r.Context(), device).Lang
	}

	start := time.Now()
	res, err := h.policy.Transcribe(r.Context(), h.stt, audio, filename, preferred, h.logger)
	elapsed := time.Since(start)
	if err != nil {
		h.metrics.RecordTranscription("error", false)
		if errors.Is(err, speech.ErrNoAudio) {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "Pas d'audio reçu", h.logger)
			return
		}
		WriteError(w, types.NewError(types.ErrTranscriptionFailed, "STT erreur").
			WithCause(err).
			WithRetryable(true), h.logger)
		return
	}
	h.metrics.RecordTranscription("ok", res.Retried)

	h.logger.Info("transcribed",
		zap.String("ip", ip),
		zap.String("language", res.Language),
		zap.Float64("probability", res.LanguageProbability),
		zap.Bool("retried", res.Retried),
		zap.Duration("elapsed", elapsed))

	WriteJSON(w, http.StatusOK, api.TranscriptionResponse{
		Text:     res.Text,
		Language: res.Language,
		STTMs:    elapsed.Milliseconds(),
		Retried:  res.Retried,
	})
}

// readAudioPart 读取第一个音频字段
func readAudioPart(r *http.Request) ([]byte, string, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", err
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, "", nil
		}
		if err != nil {
			return nil, "", err
		}
		if !audioFields[part.FormName()] {
			part.Close()
			continue
		}
		data, err := io.ReadAll(io.LimitReader(part, maxAudioBytes))
		part.Close()
		if err != nil {
			return nil, "", err
		}
		name := part.FileName()
		if name == "" {
			name = "audio.webm"
		}
		return data, name, nil
	}
}
