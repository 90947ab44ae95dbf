package enhancer

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/xrash/smetrics"
)

const (
	domainBonus   = 0.15
	contextWeight = 0.2
)

// SpellCorrector replaces unknown words with the closest dictionary word,
// preferring candidates that share characters with the surrounding words.
type SpellCorrector struct {
	dict        *Dictionary
	maxDistance int
}

func NewSpellCorrector(dict *Dictionary, maxDistance int) *SpellCorrector {
	if maxDistance <= 0 {
		maxDistance = 2
	}
	return &SpellCorrector{dict: dict, maxDistance: maxDistance}
}

// Correct returns the corrected query and the replacements made. When nothing
// changes the original string is returned untouched.
func (s *SpellCorrector) Correct(query string) (string, map[string]string) {
	words := splitWords(query)
	corrections := make(map[string]string)
	for i, w := range words {
		if !s.correctable(w) {
			continue
		}
		candidates := s.dict.Candidates(w, s.maxDistance)
		if len(candidates) == 0 {
			continue
		}
		best := s.pick(w, neighbours(words, i), candidates)
		if best != "" && best != w {
			corrections[w] = best
		}
	}
	if len(corrections) == 0 {
		return query, nil
	}
	return applyCorrections(query, corrections), corrections
}

func (s *SpellCorrector) correctable(w string) bool {
	if len(w) <= 2 {
		return false
	}
	for _, r := range w {
		if unicode.IsDigit(r) {
			return false
		}
	}
	return !s.dict.Contains(w)
}

// pick scores candidates by string similarity, character overlap with the
// neighbouring words and a bonus for domain terms.
func (s *SpellCorrector) pick(word string, context []string, candidates []Candidate) string {
	type scored struct {
		word  string
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		score := smetrics.JaroWinkler(word, c.Word, 0.7, 4)
		score -= 0.05 * float64(c.Distance-1)
		score += contextWeight * contextScore(c.Word, context)
		if s.dict.IsDomainTerm(c.Word) {
			score += domainBonus
		}
		ranked = append(ranked, scored{word: c.Word, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	return ranked[0].word
}

// contextScore is the mean Jaccard overlap between the character sets of
// candidate and each neighbouring word.
func contextScore(candidate string, context []string) float64 {
	if len(context) == 0 {
		return 0
	}
	cs := charSet(candidate)
	total := 0.0
	for _, n := range context {
		ns := charSet(n)
		inter, union := 0, len(ns)
		for r := range cs {
			if _, ok := ns[r]; ok {
				inter++
			} else {
				union++
			}
		}
		if union > 0 {
			total += float64(inter) / float64(union)
		}
	}
	return total / float64(len(context))
}

func charSet(s string) map[rune]struct{} {
	set := make(map[rune]struct{}, len(s))
	for _, r := range s {
		set[r] = struct{}{}
	}
	return set
}

func neighbours(words []string, i int) []string {
	out := make([]string, 0, 2)
	if i > 0 {
		out = append(out, words[i-1])
	}
	if i+1 < len(words) {
		out = append(out, words[i+1])
	}
	return out
}

// splitWords lowercases query and splits it on anything that is neither a
// letter nor a digit.
func splitWords(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func applyCorrections(query string, corrections map[string]string) string {
	out := query
	keys := make([]string, 0, len(corrections))
	for k := range corrections {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, from := range keys {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(from) + `\b`)
		out = re.ReplaceAllLiteralString(out, corrections[from])
	}
	return out
}
