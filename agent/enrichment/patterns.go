package enrichment

import "regexp"

// wordBounded 编译不区分大小写的模式，两端要求 Unicode 单词边界。
// RE2 的 \b 只识别 ASCII，法语重音字母需要显式边界。
func wordBounded(pattern string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(?:` + pattern + `)(?:$|[^\p{L}\p{N}_])`)
}

// leadingBounded 只要求开头边界
func leadingBounded(pattern string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(?:` + pattern + `)`)
}

var (
	timePattern    = wordBounded(`quelle heure|heure est.il|l.heure`)
	datePattern    = wordBounded(`quel(?:le)? date|date (?:d')?aujourd|on est quel jour|quel jour`)
	systemPattern  = wordBounded(`état (?:du )?syst[eè]me|état système|status syst|diagnostic|tes capteurs|ta sant[ée]|comment (?:tu )?vas.tu`)
	weatherPattern = wordBounded(`m[eé]t[eé]o|temps (?:qu.il fait|dehors)|temp[eé]rature ext[eé]rieure|fera.t.il`)
	timerPattern   = leadingBounded(`(?:mets? (?:un )?)?timer?\s*(?:de\s+)?(\d+)\s*(min|sec|minute|seconde)`)

	visionKeywords = wordBounded(`qu.?est.ce que tu vois|qu.?est.ce que je porte|qu.?est.ce que je tiens|` +
		`regarde.moi|devant toi|camera|caméra|` +
		`comment je suis habill|de quelle couleur|tu me vois|tu vois quoi|` +
		`décris.moi|décris ce que|analyse.moi|scanne|scanner`)

	searchTriggers = wordBounded(`actualit[eé]|news|nouvelle[s]?|m[eé]t[eé]o|temps\s+qu.il\s+fait|` +
		`aujourd.hui|ce\s+(?:soir|matin|midi|week.end)|en\s+ce\s+moment|` +
		`prix\s+d[ue]|combien\s+co[uû]te|sortie\s+de|derni[eè]re?\s+version|` +
		`r[eé]cent|vient\s+de|champion[s]?\s+du\s+monde|[eé]l[eé]ction[s]?|` +
		`qui\s+a\s+gagn[eé]|score|r[eé]sultat|classement|top\s+\d|` +
		`film[s]?\s+du\s+moment|s[eé]rie[s]?\s+populaire|` +
		`quel\s+(?:est|sont)\s+les?\s+(?:meilleur|derni|nouveau|principal)|` +
		`quelle\s+(?:est|sont)\s+les?\s+(?:meilleur|derni|nouveau|principal)|` +
		`d[eé]finition\s+de|qu.est.ce\s+que\s+[a-z]{3,}|wikipedia|explique.moi`)

	privateEntities = wordBounded(`mario\s*ravasi|za\s*elettronica|manix|emmanuel\s*gelinne|kyronex|kitt\s*franco|` +
		`start_kyronex|kyronex_server`)

	keywordPattern = regexp.MustCompile(`[\p{L}\p{N}_]{4,}`)
	blankLines     = regexp.MustCompile(`\n{3,}`)
)
