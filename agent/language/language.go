// Package language 决定每轮回复的语言：设备偏好优先，其次客户端提示，最后按文本检测。
package language

import (
	"regexp"
	"strings"
	"sync"

	"github.com/abadojack/whatlanggo"
)

// =============================================================================
// 🌍 支持的语言
// =============================================================================

// Base 无法判定时的默认语言
const Base = "fr"

// Supported 有合成音色的语言，顺序即平票时的优先级
var Supported = []string{"fr", "en", "de", "it", "pt"}

// Names 语言代码到显示名（/api/set-lang 使用）
var Names = map[string]string{
	"fr": "Français",
	"en": "English",
	"de": "Deutsch",
	"it": "Italiano",
	"pt": "Português",
}

// fallback 无音色的识别语言映射到已支持语言
var fallback = map[string]string{
	"nl": "fr", "es": "fr", "af": "fr", "ca": "fr", "pl": "fr",
	"ru": "fr", "ar": "fr", "tr": "fr",
	"zh": "en", "ja": "en", "ko": "en",
	"pt-br": "pt", "pt-pt": "pt",
}

// closedClass 各语言的封闭类词表（代词、冠词、连词、常用问候）
var closedClass = map[string]map[string]struct{}{
	"fr": wordSet("je tu il elle nous vous ils elles le la les un une des est sont avec pour dans sur par et ou mais que qui quoi comment quand bonjour merci oui non voici j'ai j'aime c'est j' d' l' m' t' s' n'"),
	"en": wordSet("i you he she we they it is are was were have has the a an and or but in on at to for with from this that what how when where hello yes no please thank thanks okay ok hi hey my your do don't can will would could should"),
	"de": wordSet("ich du er sie wir ihr es ist bin hat haben der die das ein eine und oder aber in auf mit für von was wie wann wo hallo danke bitte ja nein nicht kein sehr auch noch dann jetzt"),
	"it": wordSet("io tu lui lei noi voi loro è sono ho ha il la lo i le un una e o ma in su per con da cosa come quando dove ciao grazie prego sì no anche molto bene buongiorno salve"),
	"pt": wordSet("eu tu ele ela nós vocês eles elas é são tem tenho o a os as um uma e ou mas em no na para com de que como quando onde olá obrigado obrigada sim não também muito bom boa tudo bem"),
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+(?:'[\p{L}\p{N}_]*)?`)

func wordSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		out[w] = struct{}{}
	}
	return out
}

// IsSupported 该语言是否有音色
func IsSupported(code string) bool {
	_, ok := Names[code]
	return ok
}

// MapHint 把识别器或客户端的语言代码映射到已支持语言
func MapHint(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return Base
	}
	if m, ok := fallback[code]; ok {
		return m
	}
	if len(code) > 2 {
		code = code[:2]
	}
	if m, ok := fallback[code]; ok {
		return m
	}
	if IsSupported(code) {
		return code
	}
	return Base
}

// =============================================================================
// 🔍 语言检测
// =============================================================================

// Scores 按语言统计封闭类词出现次数
func Scores(text string) map[string]int {
	scores := make(map[string]int, len(Supported))
	norm := strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	for _, tok := range wordPattern.FindAllString(norm, -1) {
		for _, lang := range Supported {
			if matchWord(closedClass[lang], tok) {
				scores[lang]++
			}
		}
	}
	return scores
}

func matchWord(set map[string]struct{}, tok string) bool {
	if _, ok := set[tok]; ok {
		return true
	}
	// 省音："d'accord" 按 "d'" 计
	if i := strings.IndexByte(tok, '\''); i > 0 {
		_, ok := set[tok[:i+1]]
		return ok
	}
	return false
}

// Detect 猜测文本语言。短文本只看封闭类词计数，长文本计数不足时交给统计检测。
func Detect(text string) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return Base
	}
	scores := Scores(t)
	best, bestScore := Base, 0
	for _, lang := range Supported {
		if scores[lang] > bestScore {
			best, bestScore = lang, scores[lang]
		}
	}

	if bestScore >= 2 {
		return best
	}
	if bestScore == 1 && len(strings.Fields(t)) <= 6 {
		return best
	}
	if len([]rune(t)) >= 20 {
		if lang, ok := statistical(t); ok {
			return lang
		}
	}
	if bestScore >= 1 {
		return best
	}
	return Base
}

func statistical(text string) (string, bool) {
	info := whatlanggo.Detect(text)
	code := info.Lang.Iso6391()
	if code == "" {
		return "", false
	}
	return MapHint(code), true
}

// =============================================================================
// 🔒 语言决策与锁定
// =============================================================================

// Decision 一轮对话选定的语言
type Decision struct {
	Lang   string
	Locked bool
}

// Resolve 选定本轮语言。已存偏好总是胜出并锁定回复语言；否则用提示，再否则检测文本。
func Resolve(stored, hint, text string) Decision {
	if stored != "" {
		return Decision{Lang: MapHint(stored), Locked: true}
	}
	if hint != "" {
		return Decision{Lang: MapHint(hint)}
	}
	return Decision{Lang: Detect(text)}
}

// ReplyLock 跟踪一次回复的合成语言。未锁定时按回复自身文本重判一次，之后冻结。
type ReplyLock struct {
	mu        sync.Mutex
	lang      string
	locked    bool
	threshold int
}

// NewReplyLock 以本轮决策为起点。threshold 为重判前需要的回复字符数。
func NewReplyLock(d Decision, threshold int) *ReplyLock {
	if threshold <= 0 {
		threshold = 15
	}
	return &ReplyLock{lang: d.Lang, locked: d.Locked, threshold: threshold}
}

// Observe 传入目前为止的干净回复，返回应使用的语言。仅在发生切换的那次调用返回 true。
func (l *ReplyLock) Observe(reply string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked || len([]rune(reply)) < l.threshold {
		return l.lang, false
	}
	l.locked = true
	detected := Detect(reply)
	if detected == l.lang {
		return l.lang, false
	}
	l.lang = detected
	return l.lang, true
}

// Lang 当前语言
func (l *ReplyLock) Lang() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lang
}

// Locked 语言是否已冻结
func (l *ReplyLock) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}
