package voice

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidAudioName 音频文件名非法（路径穿越等）
var ErrInvalidAudioName = errors.New("voice: invalid audio name")

// AudioURLPrefix 合成音频对外的 URL 前缀
const AudioURLPrefix = "/audio/"

// AudioStore 合成音频的文件目录
type AudioStore struct {
	dir string
}

// NewAudioStore 创建（必要时建立）音频目录
func NewAudioStore(dir string) (*AudioStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	return &AudioStore{dir: dir}, nil
}

// Dir 返回目录路径
func (s *AudioStore) Dir() string { return s.dir }

// Save 写入一段 WAV，返回 /audio/<name> 形式的引用
func (s *AudioStore) Save(data []byte) (string, error) {
	name := uuid.NewString()[:8] + "_kitt.wav"
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	return AudioURLPrefix + name, nil
}

// Path 把文件名解析为目录内的路径
func (s *AudioStore) Path(name string) (string, error) {
	name = strings.TrimPrefix(name, AudioURLPrefix)
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", ErrInvalidAudioName
	}
	return filepath.Join(s.dir, name), nil
}

// Sweep 删除修改时间早于 now-maxAge 的 .wav 文件，返回删除数量
func (s *AudioStore) Sweep(now time.Time, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".wav" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
