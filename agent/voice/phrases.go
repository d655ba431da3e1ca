package voice

import (
	"math/rand/v2"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// phrasePattern 文本 + 可选的标点串
var phrasePattern = regexp.MustCompile(`([^.!?,;:…]+)([.!?,;:…]+)?`)

// Phrase 片段内的一个短语，合成后追加 Pause 静音
type Phrase struct {
	Text  string
	Pause time.Duration
	// Speed 乘到 length_scale 上的语速扰动（0.95 ~ 1.05）
	Speed float64
}

// Jitter 返回 [0, 1) 的随机数；测试中可替换为常量
type Jitter func() float64

// SplitPhrases 按 . ! ? , ; : … 切分短语，短于 minChars 的短语并入下一个。
// 强标点后停顿 350~450ms，弱标点后 180~250ms。
func SplitPhrases(text string, minChars int, jitter Jitter) []Phrase {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if jitter == nil {
		jitter = rand.Float64
	}
	if minChars <= 0 {
		minChars = DefaultMinChars
	}

	type raw struct{ text, punct string }
	var parts []raw
	for _, m := range phrasePattern.FindAllStringSubmatch(text, -1) {
		seg := strings.TrimSpace(m[1])
		if seg == "" {
			continue
		}
		parts = append(parts, raw{seg, m[2]})
	}

	var phrases []Phrase
	for i := 0; i < len(parts); i++ {
		seg, punct := parts[i].text, parts[i].punct
		for utf8.RuneCountInString(seg) < minChars && i+1 < len(parts) {
			i++
			seg = seg + punct + " " + parts[i].text
			punct = parts[i].punct
		}
		speed := 0.95 + jitter()*0.10
		var pause time.Duration
		switch {
		case strings.ContainsAny(punct, ".!?…"):
			pause = time.Duration(350+jitter()*100) * time.Millisecond
		case strings.ContainsAny(punct, ",;:"):
			pause = time.Duration(180+jitter()*70) * time.Millisecond
		}
		phrases = append(phrases, Phrase{Text: seg + punct, Pause: pause, Speed: speed})
	}
	return phrases
}
