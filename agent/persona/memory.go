package persona

import (
	"regexp"
	"strings"
)

// =============================================================================
// 🧠 记忆事实规则
// =============================================================================

// PromptFacts 放进提示词的记忆条数
const PromptFacts = 5

var (
	memoryExtract = regexp.MustCompile(`(?i)(?:je m.appelle|mon (?:nom|prénom) (?:est|c.est)|` +
		`j.aime|j.adore|je déteste|je préfère|` +
		`je suis|j.habite|je travaille|` +
		`mon (?:chat|chien|animal|voiture|métier|travail|hobby|passion)|` +
		`ma (?:femme|copine|fille|mère|soeur|voiture|maison|passion)|` +
		`souviens.toi|retiens|n.oublie pas|rappelle.toi)`)

	memoryForget = regexp.MustCompile(`(?i)(?:oublie|efface|supprime|retire).*(?:mémoire|souvenir|tu sais sur moi)`)
)

// ExtractFact 消息里有值得记住的内容时返回 "[user] msg"
func ExtractFact(msg, user string) (string, bool) {
	if !memoryExtract.MatchString(msg) {
		return "", false
	}
	return "[" + user + "] " + msg, true
}

// IsForget 用户要求忘掉关于自己的记忆
func IsForget(msg string) bool {
	return memoryForget.MatchString(msg)
}

// MemoryContext 渲染提示词中的记忆段落，只取最后 PromptFacts 条
func MemoryContext(facts []string) string {
	if len(facts) == 0 {
		return ""
	}
	if len(facts) > PromptFacts {
		facts = facts[len(facts)-PromptFacts:]
	}
	var b strings.Builder
	b.WriteString("\nTu te souviens de ces faits :")
	for _, f := range facts {
		b.WriteString("\n- ")
		b.WriteString(f)
	}
	return b.String()
}
