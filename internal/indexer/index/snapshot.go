package index

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
)

// Entry is an analysed document ready to be placed in a snapshot.
type Entry struct {
	Doc      model.Document
	Length   int
	Postings map[string]*Posting
	Words    []string
	Tokens   []tokenizer.Token
}

// Analyze tokenises doc and counts its terms. The returned entry owns a copy
// of the document.
func Analyze(doc model.Document) *Entry {
	tokens := tokenizer.Tokenize(doc.Content)
	d := doc.Clone()
	d.Tokens = make([]string, len(tokens))
	postings := make(map[string]*Posting)
	seen := make(map[string]struct{})
	words := make([]string, 0, len(tokens))
	for i, tok := range tokens {
		d.Tokens[i] = tok.Term
		p, ok := postings[tok.Term]
		if !ok {
			p = &Posting{DocID: doc.ID, Positions: make([]int, 0, 4)}
			postings[tok.Term] = p
		}
		p.Frequency++
		p.Positions = append(p.Positions, tok.Position)
		if _, dup := seen[tok.Surface]; !dup {
			seen[tok.Surface] = struct{}{}
			words = append(words, tok.Surface)
		}
	}
	return &Entry{
		Doc:      d,
		Length:   len(tokens),
		Postings: postings,
		Words:    words,
		Tokens:   tokens,
	}
}

// Snapshot is an immutable inverted index. Readers may use it concurrently
// without locking; mutation always goes through a Builder producing a new
// Snapshot.
type Snapshot struct {
	terms        map[string]map[string]*Posting
	docs         map[string]*Entry
	totalLength  int64
	avgDocLength float64
}

// Empty returns a snapshot with no documents.
func Empty() *Snapshot {
	return &Snapshot{
		terms: make(map[string]map[string]*Posting),
		docs:  make(map[string]*Entry),
	}
}

func (s *Snapshot) DocCount() int {
	return len(s.docs)
}

func (s *Snapshot) AvgDocLength() float64 {
	return s.avgDocLength
}

func (s *Snapshot) TotalLength() int64 {
	return s.totalLength
}

// DocumentFrequency returns the number of documents containing term.
func (s *Snapshot) DocumentFrequency(term string) int {
	return len(s.terms[term])
}

// DocLength returns the token count of a document, or 0 when unknown.
func (s *Snapshot) DocLength(docID string) int {
	if e, ok := s.docs[docID]; ok {
		return e.Length
	}
	return 0
}

// TermFrequency returns how often term occurs in docID.
func (s *Snapshot) TermFrequency(term, docID string) int {
	if p, ok := s.terms[term][docID]; ok {
		return p.Frequency
	}
	return 0
}

// Postings returns the postings of term ordered by document id.
func (s *Snapshot) Postings(term string) PostingList {
	docs, ok := s.terms[term]
	if !ok {
		return nil
	}
	result := make(PostingList, 0, len(docs))
	for _, p := range docs {
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DocID < result[j].DocID
	})
	return result
}

// Entry returns the analysed entry for docID. Callers must treat it as
// read-only.
func (s *Snapshot) Entry(docID string) (*Entry, bool) {
	e, ok := s.docs[docID]
	return e, ok
}

// Document returns a copy of the stored document.
func (s *Snapshot) Document(docID string) (model.Document, bool) {
	e, ok := s.docs[docID]
	if !ok {
		return model.Document{}, false
	}
	return e.Doc.Clone(), true
}

// DocIDs returns every document id in sorted order.
func (s *Snapshot) DocIDs() []string {
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SurfaceWords returns every distinct surface word seen while indexing, for
// spelling dictionaries.
func (s *Snapshot) SurfaceWords() []string {
	seen := make(map[string]struct{})
	for _, e := range s.docs {
		for _, w := range e.Words {
			seen[w] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

func (s *Snapshot) Stats() Stats {
	longest := 0
	for _, e := range s.docs {
		if e.Length > longest {
			longest = e.Length
		}
	}
	return Stats{
		Documents:       len(s.docs),
		Terms:           len(s.terms),
		TotalLength:     s.totalLength,
		AvgDocLength:    s.avgDocLength,
		LongestDocument: longest,
	}
}

// Builder assembles a new Snapshot. A builder seeded from an existing
// snapshot shares that snapshot's per-term maps until it first touches them.
type Builder struct {
	terms       map[string]map[string]*Posting
	owned       map[string]bool
	docs        map[string]*Entry
	totalLength int64
}

// NewBuilder returns a builder for a snapshot rebuilt from scratch.
func NewBuilder(sizeHint int) *Builder {
	return &Builder{
		terms: make(map[string]map[string]*Posting),
		owned: make(map[string]bool),
		docs:  make(map[string]*Entry, sizeHint),
	}
}

// BuilderFrom returns a builder seeded with the contents of s. s itself is
// never modified.
func BuilderFrom(s *Snapshot) *Builder {
	b := &Builder{
		terms:       make(map[string]map[string]*Posting, len(s.terms)),
		owned:       make(map[string]bool),
		docs:        make(map[string]*Entry, len(s.docs)+1),
		totalLength: s.totalLength,
	}
	for term, docs := range s.terms {
		b.terms[term] = docs
	}
	for id, e := range s.docs {
		b.docs[id] = e
	}
	return b
}

func (b *Builder) termMap(term string) map[string]*Posting {
	docs, ok := b.terms[term]
	if !ok {
		docs = make(map[string]*Posting)
		b.terms[term] = docs
		b.owned[term] = true
		return docs
	}
	if !b.owned[term] {
		cp := make(map[string]*Posting, len(docs)+1)
		for id, p := range docs {
			cp[id] = p
		}
		b.terms[term] = cp
		b.owned[term] = true
		return cp
	}
	return docs
}

// Put adds e, replacing any document with the same id.
func (b *Builder) Put(e *Entry) {
	b.Remove(e.Doc.ID)
	for term, p := range e.Postings {
		b.termMap(term)[e.Doc.ID] = p
	}
	b.docs[e.Doc.ID] = e
	b.totalLength += int64(e.Length)
}

// Remove drops docID and reports whether it was present.
func (b *Builder) Remove(docID string) bool {
	old, ok := b.docs[docID]
	if !ok {
		return false
	}
	for term := range old.Postings {
		docs := b.termMap(term)
		delete(docs, docID)
		if len(docs) == 0 {
			delete(b.terms, term)
			delete(b.owned, term)
		}
	}
	delete(b.docs, docID)
	b.totalLength -= int64(old.Length)
	return true
}

// Build freezes the builder's state. The builder must not be used afterwards.
func (b *Builder) Build() *Snapshot {
	s := &Snapshot{
		terms:       b.terms,
		docs:        b.docs,
		totalLength: b.totalLength,
	}
	if n := len(b.docs); n > 0 {
		s.avgDocLength = float64(b.totalLength) / float64(n)
	}
	b.terms, b.docs, b.owned = nil, nil, nil
	return s
}
