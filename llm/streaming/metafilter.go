package streaming

import (
	"strings"
)

// =============================================================================
// 🧹 思考块 / 控制标记过滤
// =============================================================================

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
	// 控制标记名的最大长度，超过即视为普通文本
	maxControlTokenLen = 30
)

type controlMatch int

const (
	controlNone controlMatch = iota
	controlPartial
	controlFull
)

// MetaFilter 从模型输出中剔除 <think>…</think> 块和 <|…|> 控制标记，
// 只向下游发送已确认干净的增量。
//
// 过滤按原始输出顺序扫描，遇到可能是标记开头但尚未收全的片段时暂停，
// 因此任意切分方式得到的输出完全一致。每次回复一个实例，非并发安全。
type MetaFilter struct {
	raw      strings.Builder
	clean    strings.Builder
	pending  string
	inThink  bool
	dropped  int
	finished bool
}

// NewMetaFilter 创建过滤器
func NewMetaFilter() *MetaFilter {
	return &MetaFilter{}
}

// Push 追加一段原始增量，返回新确认的干净文本（可能为空）
func (f *MetaFilter) Push(delta string) string {
	if f.finished || delta == "" {
		return ""
	}
	f.raw.WriteString(delta)
	f.pending += delta
	out := f.scan()
	f.clean.WriteString(out)
	return out
}

// Finish 结束输入，返回暂扣的尾部片段（没有后续输入，它只能是普通文本）。
// 未闭合的思考块内容被丢弃。重复调用返回空串。
func (f *MetaFilter) Finish() string {
	if f.finished {
		return ""
	}
	f.finished = true
	tail := f.pending
	f.pending = ""
	if f.inThink {
		return ""
	}
	f.clean.WriteString(tail)
	return tail
}

// Clean 返回已确认的干净回复（去除首尾空白）
func (f *MetaFilter) Clean() string {
	return strings.TrimSpace(f.clean.String())
}

// Emitted 返回已发送给下游的文本
func (f *MetaFilter) Emitted() string {
	return f.clean.String()
}

// Raw 返回模型原始输出
func (f *MetaFilter) Raw() string {
	return f.raw.String()
}

// Dropped 返回被剔除的标记段数量（思考块、控制标记、孤立的闭合标签）
func (f *MetaFilter) Dropped() int {
	return f.dropped
}

// Thinking 报告当前是否处于未闭合的思考块中
func (f *MetaFilter) Thinking() bool {
	return f.inThink
}

func (f *MetaFilter) scan() string {
	var out strings.Builder
	for f.pending != "" {
		if f.inThink {
			i := strings.Index(f.pending, thinkClose)
			if i < 0 {
				// 只保留可能是闭合标签开头的尾部
				f.pending = f.pending[len(f.pending)-partialSuffix(f.pending, thinkClose):]
				break
			}
			f.pending = f.pending[i+len(thinkClose):]
			f.inThink = false
			continue
		}

		i := strings.IndexByte(f.pending, '<')
		if i < 0 {
			out.WriteString(f.pending)
			f.pending = ""
			break
		}
		out.WriteString(f.pending[:i])
		f.pending = f.pending[i:]

		if strings.HasPrefix(f.pending, thinkOpen) {
			f.inThink = true
			f.dropped++
			f.pending = f.pending[len(thinkOpen):]
			continue
		}
		if strings.HasPrefix(f.pending, thinkClose) {
			f.dropped++
			f.pending = f.pending[len(thinkClose):]
			continue
		}
		m, n := matchControl(f.pending)
		if m == controlFull {
			f.dropped++
			f.pending = f.pending[n:]
			continue
		}
		if m == controlPartial || strings.HasPrefix(thinkOpen, f.pending) || strings.HasPrefix(thinkClose, f.pending) {
			// 等待更多输入
			break
		}
		out.WriteByte('<')
		f.pending = f.pending[1:]
	}
	return out.String()
}

// matchControl 检查 s 开头是否为 <|name|> 形式的控制标记
func matchControl(s string) (controlMatch, int) {
	if !strings.HasPrefix(s, "<|") {
		return controlNone, 0
	}
	for j := 2; j < len(s); j++ {
		switch c := s[j]; c {
		case '|':
			if j == 2 {
				return controlNone, 0
			}
			if j+1 == len(s) {
				return controlPartial, 0
			}
			if s[j+1] == '>' {
				return controlFull, j + 2
			}
			return controlNone, 0
		case '<', '>', ' ', '\t', '\r', '\n':
			return controlNone, 0
		}
		if j-2 >= maxControlTokenLen {
			return controlNone, 0
		}
	}
	return controlPartial, 0
}

// partialSuffix 返回 s 结尾与 marker 真前缀重合的最大长度
func partialSuffix(s, marker string) int {
	for n := len(marker) - 1; n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return n
		}
	}
	return 0
}
