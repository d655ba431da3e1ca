package handlers

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/kyronex/types"
)

// AudioLocator 把音频文件名解析为本地路径，*voice.AudioStore 满足该接口
type AudioLocator interface {
	Path(name string) (string, error)
}

// AudioHandler 合成音频下载
type AudioHandler struct {
	store  AudioLocator
	logger *zap.Logger
}

// NewAudioHandler 创建音频处理器
func NewAudioHandler(store AudioLocator, logger *zap.Logger) *AudioHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AudioHandler{store: store, logger: logger.With(zap.String("component", "audio_handler"))}
}

// HandleAudio 返回一段合成音频
// @Summary 合成音频
// @Tags 语音
// @Produce audio/wav
// @Param name path string true "文件名"
// @Success 200 {file} file
// @Failure 404 {object} Response "不存在"
// @Router /audio/{name} [get]
func (h *AudioHandler) HandleAudio(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		name = strings.TrimPrefix(r.URL.Path, "/audio/")
	}
	path, err := h.store.Path(name)
	if err != nil {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "audio introuvable", h.logger)
		return
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "audio introuvable", h.logger)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, path)
}
