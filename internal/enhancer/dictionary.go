package enhancer

import (
	"sort"
	"strings"
	"sync"

	"github.com/xrash/smetrics"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/indexer/tokenizer"
)

// Candidate is a dictionary word within edit distance of a misspelling.
type Candidate struct {
	Word     string
	Distance int
}

// Dictionary holds the words the spell corrector trusts: the index
// vocabulary, the domain terms and the stop-words. It is safe for concurrent
// use; the vocabulary part is replaced wholesale when the index changes.
type Dictionary struct {
	mu     sync.RWMutex
	words  map[string]struct{}
	byLen  map[int][]string
	domain map[string]struct{}
	extra  map[string]struct{}
}

func NewDictionary(domainTerms []string, extraKnown []string) *Dictionary {
	d := &Dictionary{
		words:  make(map[string]struct{}),
		byLen:  make(map[int][]string),
		domain: make(map[string]struct{}, len(domainTerms)),
		extra:  make(map[string]struct{}, len(extraKnown)),
	}
	for _, t := range domainTerms {
		d.domain[strings.ToLower(t)] = struct{}{}
	}
	for _, t := range extraKnown {
		d.extra[strings.ToLower(t)] = struct{}{}
	}
	d.rebuildLengths()
	return d
}

// Replace swaps the vocabulary for words.
func (d *Dictionary) Replace(words []string) {
	next := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			next[w] = struct{}{}
		}
	}
	d.mu.Lock()
	d.words = next
	d.rebuildLengths()
	d.mu.Unlock()
}

// rebuildLengths indexes vocabulary and domain terms by length. Callers hold
// the write lock or own d exclusively.
func (d *Dictionary) rebuildLengths() {
	byLen := make(map[int][]string)
	add := func(w string) {
		byLen[len(w)] = append(byLen[len(w)], w)
	}
	for w := range d.words {
		add(w)
	}
	for w := range d.domain {
		if _, dup := d.words[w]; !dup {
			add(w)
		}
	}
	for _, bucket := range byLen {
		sort.Strings(bucket)
	}
	d.byLen = byLen
}

// Contains reports whether word is known and must not be corrected.
func (d *Dictionary) Contains(word string) bool {
	if tokenizer.IsStopWord(word) {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.words[word]; ok {
		return true
	}
	if _, ok := d.domain[word]; ok {
		return true
	}
	_, ok := d.extra[word]
	return ok
}

func (d *Dictionary) IsDomainTerm(word string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.domain[word]
	return ok
}

func (d *Dictionary) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.words)
}

// Candidates returns every word within maxDistance edits of word, closest
// first.
func (d *Dictionary) Candidates(word string, maxDistance int) []Candidate {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Candidate
	for l := len(word) - maxDistance; l <= len(word)+maxDistance; l++ {
		if l <= 2 {
			continue
		}
		for _, w := range d.byLen[l] {
			dist := smetrics.WagnerFischer(word, w, 1, 1, 1)
			if dist > 0 && dist <= maxDistance {
				out = append(out, Candidate{Word: w, Distance: dist})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Word < out[j].Word
	})
	return out
}
