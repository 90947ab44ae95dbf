// Package highlight builds short snippets around matched query terms.
package highlight

import (
	"strings"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/indexer/tokenizer"
)

const (
	DefaultWindow = 50
	Marker        = "**"
	ellipsis      = "..."
)

// Snippets returns one snippet per matched term, built around the term's
// first occurrence in content. tokens must be the tokenisation of content.
// Terms with no occurrence are skipped.
func Snippets(content string, tokens []tokenizer.Token, terms []string, window int) []string {
	if window <= 0 {
		window = DefaultWindow
	}
	first := make(map[string]tokenizer.Token, len(terms))
	for _, tok := range tokens {
		if _, ok := first[tok.Term]; !ok {
			first[tok.Term] = tok
		}
	}

	out := make([]string, 0, len(terms))
	seen := make(map[int]struct{}, len(terms))
	for _, term := range terms {
		tok, ok := first[term]
		if !ok {
			continue
		}
		if _, dup := seen[tok.Offset]; dup {
			continue
		}
		seen[tok.Offset] = struct{}{}
		out = append(out, snippet(content, tok.Offset, tok.End, window))
	}
	return out
}

func snippet(content string, start, end, window int) string {
	from := backRunes(content, start, window)
	to := forwardRunes(content, end, window)

	var sb strings.Builder
	sb.Grow(to - from + 2*len(Marker) + 2*len(ellipsis))
	if from > 0 {
		sb.WriteString(ellipsis)
	}
	sb.WriteString(content[from:start])
	sb.WriteString(Marker)
	sb.WriteString(content[start:end])
	sb.WriteString(Marker)
	sb.WriteString(content[end:to])
	if to < len(content) {
		sb.WriteString(ellipsis)
	}
	return sb.String()
}

// backRunes walks n runes left of pos and returns the byte offset reached.
func backRunes(s string, pos, n int) int {
	for i := 0; i < n && pos > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(s[:pos])
		pos -= size
	}
	return pos
}

func forwardRunes(s string, pos, n int) int {
	for i := 0; i < n && pos < len(s); i++ {
		_, size := utf8.DecodeRuneInString(s[pos:])
		pos += size
	}
	return pos
}
