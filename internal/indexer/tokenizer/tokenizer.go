// Package tokenizer provides text normalisation shared by indexing and
// querying. It lower-cases input, keeps alphabetic runs only, removes
// stop-words, and applies a simple suffix-based stemmer.
package tokenizer

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {}, "does": {},
	"how": {}, "why": {}, "i": {}, "me": {}, "my": {}, "we": {},
	"you": {}, "your": {}, "about": {}, "into": {}, "than": {},
}

// Token represents a single normalised term, its position among the kept
// tokens, and the byte span of its surface form in the original text.
type Token struct {
	Term     string
	Surface  string
	Position int
	Offset   int
	End      int
}

// Tokenize breaks text into stemmed, lowercased Tokens with stop-words and
// non-alphabetic runs removed.
func Tokenize(text string) []Token {
	words := scan(text)
	tokens := make([]Token, 0, len(words))
	pos := 0
	for _, w := range words {
		if len(w.text) < 2 {
			continue
		}
		if IsStopWord(w.text) {
			continue
		}
		stemmed := Stem(w.text)
		if stemmed == "" {
			continue
		}
		tokens = append(tokens, Token{
			Term:     stemmed,
			Surface:  w.text,
			Position: pos,
			Offset:   w.offset,
			End:      w.end,
		})
		pos++
	}
	return tokens
}

// Terms returns only the normalised terms of text.
func Terms(text string) []string {
	tokens := Tokenize(text)
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Term
	}
	return out
}

// Words returns every lowercased alphabetic word of text in order, without
// stop-word removal or stemming.
func Words(text string) []string {
	words := scan(text)
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = w.text
	}
	return out
}

// IsStopWord reports whether the lowercased word is a stop-word.
func IsStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}

type word struct {
	text   string
	offset int
	end    int
}

// scan splits text on every non-letter rune, keeping byte offsets into the
// original string.
func scan(text string) []word {
	out := make([]word, 0, len(text)/6)
	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, word{text: strings.ToLower(text[start:i]), offset: start, end: i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, word{text: strings.ToLower(text[start:]), offset: start, end: len(text)})
	}
	return out
}

var suffixes = []struct {
	suffix      string
	replacement string
	minLen      int
}{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"eness", "ene", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ling", "l", 3},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"est", "", 3},
	{"ful", "", 3},
	{"ous", "", 3},
	{"ess", "", 3},
	{"ble", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}

// Stem applies a simple suffix-stripping stemmer to the given lowercase word.
func Stem(word string) string {
	for _, rule := range suffixes {
		if strings.HasSuffix(word, rule.suffix) {
			newWord := word[:len(word)-len(rule.suffix)] + rule.replacement
			if len(newWord) >= rule.minLen {
				return newWord
			}
		}
	}
	return word
}
