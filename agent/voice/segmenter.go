package voice

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// =============================================================================
// ✂️ 句子切分
// =============================================================================

// DefaultMinChars 片段最小字符数
const DefaultMinChars = 4

// sentenceEnd 句末标点后跟空白
var sentenceEnd = regexp.MustCompile(`[.!?…]\s`)

// Segment 可独立合成的一段回复文本
type Segment struct {
	Index int
	Text  string
}

// Segmenter 把流式增量切成句子。每次回复一个实例，非并发安全。
type Segmenter struct {
	minChars int
	buf      string
	carry    string
	next     int
}

// NewSegmenter 创建切分器；minChars <= 0 时使用默认值
func NewSegmenter(minChars int) *Segmenter {
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	return &Segmenter{minChars: minChars}
}

// Feed 追加增量，返回新切出的完整片段
func (s *Segmenter) Feed(delta string) []Segment {
	s.buf += delta
	var out []Segment
	for {
		cut := s.cutPoint()
		if cut < 0 {
			break
		}
		chunk := strings.TrimSpace(s.buf[:cut])
		s.buf = strings.TrimLeftFunc(s.buf[cut:], unicode.IsSpace)
		if seg, ok := s.accept(chunk); ok {
			out = append(out, seg)
		}
	}
	return out
}

// Flush 输出剩余文本（含尚未合并出去的短片段）
func (s *Segmenter) Flush() []Segment {
	rest := strings.TrimSpace(s.buf)
	s.buf = ""
	text := joinSpace(s.carry, rest)
	s.carry = ""
	if !hasLetter(text) {
		return nil
	}
	seg := Segment{Index: s.next, Text: text}
	s.next++
	return []Segment{seg}
}

// Count 返回已输出的片段数
func (s *Segmenter) Count() int {
	return s.next
}

// cutPoint 返回最早的切分位置（不含句末空白），没有则返回 -1
func (s *Segmenter) cutPoint() int {
	cut := -1
	if loc := sentenceEnd.FindStringIndex(s.buf); loc != nil {
		cut = loc[1] - 1
	}
	if nl := strings.IndexByte(s.buf, '\n'); nl >= 0 && (cut < 0 || nl < cut) {
		cut = nl + 1
	}
	return cut
}

func (s *Segmenter) accept(chunk string) (Segment, bool) {
	if !hasLetter(chunk) {
		return Segment{}, false
	}
	text := joinSpace(s.carry, chunk)
	if utf8.RuneCountInString(text) < s.minChars {
		s.carry = text
		return Segment{}, false
	}
	s.carry = ""
	seg := Segment{Index: s.next, Text: text}
	s.next++
	return seg, true
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}

func joinSpace(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}
