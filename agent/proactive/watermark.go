package proactive

import (
	"sync/atomic"
	"time"
)

// Watermark 最近一次用户交互的时间（进程级）。
// 每轮对话开始时写入；广播方读取它来避让正在进行的对话。
type Watermark struct {
	ns atomic.Int64
}

// DefaultWatermark 进程级水位线
var DefaultWatermark = NewWatermark(time.Now())

// NewWatermark 创建水位线
func NewWatermark(t time.Time) *Watermark {
	w := &Watermark{}
	w.Touch(t)
	return w
}

// Touch 记录一次交互
func (w *Watermark) Touch(t time.Time) {
	w.ns.Store(t.UnixNano())
}

// Last 最近一次交互时间
func (w *Watermark) Last() time.Time {
	return time.Unix(0, w.ns.Load())
}

// Since 距最近一次交互的时长
func (w *Watermark) Since(now time.Time) time.Duration {
	return now.Sub(w.Last())
}
