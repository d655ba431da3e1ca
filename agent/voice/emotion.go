package voice

import (
	"regexp"
	"sync"

	"go.uber.org/zap"
)

// =============================================================================
// 🎭 情绪识别
// =============================================================================

// Emotion 回复情绪
type Emotion string

const (
	EmotionNormal    Emotion = "normal"
	EmotionExcited   Emotion = "excited"
	EmotionWorried   Emotion = "worried"
	EmotionSad       Emotion = "sad"
	EmotionConfident Emotion = "confident"
)

// Emotions 全部情绪（normal 在前）
var Emotions = []Emotion{EmotionNormal, EmotionExcited, EmotionWorried, EmotionSad, EmotionConfident}

// EmotionRule 情绪规则；按匹配次数计分
type EmotionRule struct {
	Emotion Emotion
	Pattern *regexp.Regexp
}

// emotionRules 表顺序即平分时的优先级
var emotionRules = []EmotionRule{
	{EmotionExcited, regexp.MustCompile(`(?i)!{2,}|formidable|excellent|magnifique|incroyable|fantastique|super|` +
		`extraordinaire|turbo boost|sensationnel|bravo|victoire|génial`)},
	{EmotionWorried, regexp.MustCompile(`(?i)danger|attention|prudence|alerte|urgent|critique|risque|` +
		`méfie|inqui[eé]t|problème|panne|erreur|menace|vigilance`)},
	{EmotionSad, regexp.MustCompile(`(?i)désolé|triste|hélas|malheureusement|dommage|regrett|navré|` +
		`pardon|excuse|peine|manque|nostalgi`)},
	{EmotionConfident, regexp.MustCompile(`(?i)bien sûr|évidemment|naturellement|absolument|affirmatif|` +
		`certain|garanti|sans doute|aucun problème|facile|maîtris`)},
}

// EmotionScores 返回每种情绪的匹配次数
func EmotionScores(text string) map[Emotion]int {
	scores := make(map[Emotion]int, len(emotionRules))
	for _, r := range emotionRules {
		if n := len(r.Pattern.FindAllStringIndex(text, -1)); n > 0 {
			scores[r.Emotion] = n
		}
	}
	return scores
}

// Classify 返回得分最高的情绪；平分取规则表靠前者，全零为 normal
func Classify(text string) Emotion {
	best, bestScore := EmotionNormal, 0
	for _, r := range emotionRules {
		n := len(r.Pattern.FindAllStringIndex(text, -1))
		if n > bestScore {
			best, bestScore = r.Emotion, n
		}
	}
	return best
}

// EmotionLatch 每次回复一个实例：首个片段派发时冻结情绪，后续只记录漂移
type EmotionLatch struct {
	mu      sync.Mutex
	emotion Emotion
	frozen  bool
	logger  *zap.Logger
}

// NewEmotionLatch 创建情绪锁存
func NewEmotionLatch(logger *zap.Logger) *EmotionLatch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmotionLatch{emotion: EmotionNormal, logger: logger}
}

// Observe 以当前累计回复评估情绪；首次调用后结果固定
func (l *EmotionLatch) Observe(cumulative string) Emotion {
	current := Classify(cumulative)
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.frozen {
		l.emotion = current
		l.frozen = true
		return current
	}
	if current != l.emotion {
		l.logger.Debug("emotion drift ignored",
			zap.String("frozen", string(l.emotion)),
			zap.String("current", string(current)))
	}
	return l.emotion
}

// Emotion 返回已冻结的情绪，未冻结时为 normal
func (l *EmotionLatch) Emotion() Emotion {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.emotion
}

// Frozen 报告是否已冻结
func (l *EmotionLatch) Frozen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frozen
}
