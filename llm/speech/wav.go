package speech

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV 数据不是可解码的 PCM WAV
var ErrInvalidWAV = errors.New("speech: invalid wav data")

// Waveform 单声道浮点波形，采样值范围 [-1, 1]
type Waveform struct {
	Samples    []float64
	SampleRate int
}

// Duration 返回波形时长
func (w *Waveform) Duration() time.Duration {
	if w == nil || w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(w.Samples)) / float64(w.SampleRate) * float64(time.Second))
}

// AppendSilence 追加静音
func (w *Waveform) AppendSilence(d time.Duration) {
	n := int(d.Seconds() * float64(w.SampleRate))
	if n <= 0 {
		return
	}
	w.Samples = append(w.Samples, make([]float64, n)...)
}

// Append 追加另一段波形；采样率不同时返回错误
func (w *Waveform) Append(other *Waveform) error {
	if other == nil || len(other.Samples) == 0 {
		return nil
	}
	if w.SampleRate == 0 {
		w.SampleRate = other.SampleRate
	}
	if other.SampleRate != w.SampleRate {
		return fmt.Errorf("sample rate mismatch: %d != %d", other.SampleRate, w.SampleRate)
	}
	w.Samples = append(w.Samples, other.Samples...)
	return nil
}

// IsWAV 检查 RIFF/WAVE 头
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// DecodeWAV 解码 PCM WAV；多声道取平均混为单声道
func DecodeWAV(data []byte) (*Waveform, error) {
	if !IsWAV(data) {
		return nil, ErrInvalidWAV
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, ErrInvalidWAV
	}
	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	scale := math.Pow(2, float64(buf.SourceBitDepth-1))
	if buf.SourceBitDepth == 8 {
		// 8 位 PCM 为无符号
		scale = 128
	}

	frames := len(buf.Data) / channels
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			v := float64(buf.Data[i*channels+c])
			if buf.SourceBitDepth == 8 {
				v -= 128
			}
			sum += v
		}
		samples[i] = sum / float64(channels) / scale
	}
	return &Waveform{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

// WriteWAV 以单声道 PCM16 写出波形，采样值裁剪到 [-1, 1]
func WriteWAV(w io.WriteSeeker, wf *Waveform) error {
	if wf == nil || wf.SampleRate <= 0 {
		return ErrInvalidWAV
	}
	data := make([]int, len(wf.Samples))
	for i, s := range wf.Samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		data[i] = int(math.Round(s * 32767))
	}
	enc := wav.NewEncoder(w, wf.SampleRate, 16, 1, 1)
	if err := enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: wf.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}); err != nil {
		return fmt.Errorf("failed to encode wav: %w", err)
	}
	return enc.Close()
}

// EncodeWAV 编码为内存中的 WAV 字节
func EncodeWAV(wf *Waveform) ([]byte, error) {
	sb := &seekBuffer{}
	if err := WriteWAV(sb, wf); err != nil {
		return nil, err
	}
	return sb.buf, nil
}

// seekBuffer 内存 io.WriteSeeker，wav.Encoder 关闭时需要回写头部长度
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		s.buf = append(s.buf, make([]byte, end-len(s.buf))...)
	}
	copy(s.buf[s.pos:end], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(s.pos) + offset
	case io.SeekEnd:
		next = int64(len(s.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("negative seek position")
	}
	s.pos = int(next)
	return next, nil
}
