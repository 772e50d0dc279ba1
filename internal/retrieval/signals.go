package retrieval

import (
	"strings"
	"unicode"

	"terrasite/internal/knowledge"
)

// Vocabulary supplies the domain terms signal extraction recognizes:
// registered tool identifiers and the unit names present in the corpus.
type Vocabulary struct {
	Units []string
	Tools []string
}

// querySignals is the extracted evidence used for keyword scoring,
// metadata boosts and category routing.
type querySignals struct {
	tokens  []string
	unit    string
	typeTag string
}

// routing trigger terms. Range/capability language routes to equipment,
// deployment/siting language routes to the doctrine category.
var (
	equipmentTriggers = []string{"range", "weapon", "equipment", "firepower", "capability", "射程", "武器", "装备", "火力"}
	knowledgeTriggers = []string{"deploy", "siting", "site", "position", "station", "terrain", "部署", "配置", "驻扎", "阵地"}
)

// route inspects the query text for trigger keywords and restricts the
// candidate pool to the matched categories. Multiple categories may match
// at once; with no trigger the pool is the full enabled scope.
func (e *Engine) route(rawText string, scope []knowledge.Category) []knowledge.Category {
	lower := strings.ToLower(rawText)

	var matched []knowledge.Category
	if containsAny(lower, equipmentTriggers) && inScope(scope, knowledge.CategoryEquipment) {
		matched = append(matched, knowledge.CategoryEquipment)
	}
	hitKnowledge := containsAny(lower, knowledgeTriggers)
	if !hitKnowledge {
		for _, u := range e.vocab.Units {
			if u != "" && strings.Contains(lower, strings.ToLower(u)) {
				hitKnowledge = true
				break
			}
		}
	}
	if hitKnowledge && inScope(scope, knowledge.CategoryKnowledge) {
		matched = append(matched, knowledge.CategoryKnowledge)
	}

	if len(matched) == 0 {
		return scope
	}
	return matched
}

// extractSignals builds the signal-token bag and detects the query's unit
// and metadata type tag.
func (e *Engine) extractSignals(q Query) querySignals {
	var s querySignals

	s.tokens = append(s.tokens, extractTokens(q.RawText)...)
	s.tokens = append(s.tokens, q.Keywords...)

	lower := strings.ToLower(q.RawText)
	for _, tool := range e.vocab.Tools {
		if strings.Contains(lower, strings.ToLower(tool)) {
			s.tokens = append(s.tokens, tool)
		}
	}
	for _, unit := range e.vocab.Units {
		if unit != "" && strings.Contains(lower, strings.ToLower(unit)) {
			s.tokens = append(s.tokens, unit)
			if s.unit == "" || len(unit) > len(s.unit) {
				// Prefer the longest match so "heavy infantry" beats "infantry".
				s.unit = unit
			}
		}
	}

	switch {
	case containsAny(lower, equipmentTriggers):
		s.typeTag = "equipment_info"
	case containsAny(lower, knowledgeTriggers):
		s.typeTag = "deployment_rule"
	}

	s.tokens = uniqueTokens(s.tokens)
	return s
}

// extractTokens pulls signal tokens out of free text: CJK runs of at
// least two characters, digit sequences, and ASCII words of at least
// three characters that are not stopwords.
func extractTokens(text string) []string {
	var tokens []string

	flush := func(buf []rune, kind int) {
		if len(buf) == 0 {
			return
		}
		tok := string(buf)
		switch kind {
		case kindCJK:
			if len(buf) >= 2 {
				tokens = append(tokens, tok)
			}
		case kindDigit:
			tokens = append(tokens, tok)
		case kindWord:
			if len(buf) >= 3 && !isStopword(strings.ToLower(tok)) {
				tokens = append(tokens, tok)
			}
		}
	}

	var buf []rune
	kind := kindNone
	for _, r := range text {
		k := runeKind(r)
		if k != kind {
			flush(buf, kind)
			buf = buf[:0]
			kind = k
		}
		if k != kindNone {
			buf = append(buf, r)
		}
	}
	flush(buf, kind)

	return tokens
}

const (
	kindNone = iota
	kindCJK
	kindDigit
	kindWord
)

func runeKind(r rune) int {
	switch {
	case unicode.Is(unicode.Han, r):
		return kindCJK
	case unicode.IsDigit(r):
		return kindDigit
	case unicode.IsLetter(r):
		return kindWord
	default:
		return kindNone
	}
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"that": true, "this": true, "are": true, "was": true, "were": true,
	"need": true, "needs": true, "should": true, "must": true, "can": true,
	"will": true, "has": true, "have": true, "not": true, "its": true,
	"area": true, "areas": true, "between": true, "within": true,
}

func isStopword(w string) bool {
	return stopwords[w]
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

func inScope(scope []knowledge.Category, cat knowledge.Category) bool {
	if len(scope) == 0 {
		return true
	}
	for _, c := range scope {
		if c == cat {
			return true
		}
	}
	return false
}

func uniqueTokens(ts []string) []string {
	seen := make(map[string]bool, len(ts))
	out := ts[:0]
	for _, t := range ts {
		key := strings.ToLower(t)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}
