// Package ranker scores documents against a query with Okapi BM25. Documents
// whose BM25 score falls under a low-signal threshold are rescued with a
// blended TF-IDF score computed from the same statistics.
package ranker

import (
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/config"
)

type ScoredDoc struct {
	DocID        string   `json:"doc_id"`
	Score        float64  `json:"score"`
	BM25         float64  `json:"bm25"`
	TFIDF        float64  `json:"tfidf,omitempty"`
	Rescued      bool     `json:"rescued,omitempty"`
	MatchedTerms []string `json:"matched_terms"`
}

// Params are the BM25 knobs. Epsilon floors the IDF so terms present in most
// documents never contribute negatively.
type Params struct {
	K1                 float64
	B                  float64
	Epsilon            float64
	LowSignalThreshold float64
	TFIDFBlend         float64
}

func DefaultParams() Params {
	return Params{K1: 1.2, B: 0.75, Epsilon: 0.25, LowSignalThreshold: 0.1, TFIDFBlend: 0.5}
}

func ParamsFromConfig(cfg config.LexicalConfig) Params {
	return Params{
		K1:                 cfg.K1,
		B:                  cfg.B,
		Epsilon:            cfg.Epsilon,
		LowSignalThreshold: cfg.LowSignalThreshold,
		TFIDFBlend:         cfg.TFIDFBlend,
	}
}

// CorpusStats is the read view of the index the ranker needs.
type CorpusStats interface {
	DocCount() int
	AvgDocLength() float64
	DocLength(docID string) int
}

type Ranker struct {
	params Params
}

func New(p Params) *Ranker {
	return &Ranker{params: p}
}

func (r *Ranker) Params() Params {
	return r.params
}

// Rank scores every document that appears in at least one posting list.
// The result is unordered; use merger.TopK to select and order.
func (r *Ranker) Rank(postingsPerTerm map[string]index.PostingList, stats CorpusStats) []ScoredDoc {
	n := stats.DocCount()
	if n == 0 {
		return nil
	}
	avgLen := stats.AvgDocLength()

	type acc struct {
		bm25    float64
		tfidf   float64
		matched []string
	}
	scores := make(map[string]*acc)

	terms := make([]string, 0, len(postingsPerTerm))
	for term := range postingsPerTerm {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	for _, term := range terms {
		postings := postingsPerTerm[term]
		df := len(postings)
		if df == 0 {
			continue
		}
		idf := r.IDF(n, df)
		for _, posting := range postings {
			docLen := stats.DocLength(posting.DocID)
			a, ok := scores[posting.DocID]
			if !ok {
				a = &acc{}
				scores[posting.DocID] = a
			}
			a.bm25 += r.TermScore(posting.Frequency, docLen, avgLen, idf)
			a.tfidf += TFIDF(posting.Frequency, docLen, n, df)
			a.matched = append(a.matched, term)
		}
	}

	result := make([]ScoredDoc, 0, len(scores))
	for docID, a := range scores {
		score, rescued := r.blend(a.bm25, a.tfidf)
		result = append(result, ScoredDoc{
			DocID:        docID,
			Score:        score,
			BM25:         a.bm25,
			TFIDF:        a.tfidf,
			Rescued:      rescued,
			MatchedTerms: a.matched,
		})
	}
	return result
}

// IDF returns max(epsilon, ln((N-df+0.5)/(df+0.5))).
func (r *Ranker) IDF(totalDocs, docFreq int) float64 {
	idf := math.Log((float64(totalDocs) - float64(docFreq) + 0.5) / (float64(docFreq) + 0.5))
	return math.Max(r.params.Epsilon, idf)
}

// TermScore is the BM25 contribution of one query term to one document.
func (r *Ranker) TermScore(termFreq, docLength int, avgDocLength, idf float64) float64 {
	if termFreq <= 0 {
		return 0
	}
	lengthRatio := 1.0
	if avgDocLength > 0 {
		lengthRatio = float64(docLength) / avgDocLength
	}
	tf := float64(termFreq)
	k1, b := r.params.K1, r.params.B
	return idf * (tf * (k1 + 1)) / (tf + k1*(1-b+b*lengthRatio))
}

// TFIDF is the length-normalised term frequency times a smoothed IDF that
// stays positive for terms present in every document.
func TFIDF(termFreq, docLength, totalDocs, docFreq int) float64 {
	if termFreq <= 0 || docLength <= 0 || docFreq <= 0 {
		return 0
	}
	return float64(termFreq) / float64(docLength) * math.Log(1+float64(totalDocs)/float64(docFreq))
}

// blend rescues low-signal BM25 scores. The rescued score is capped at the
// threshold so a rescued document never outranks one whose BM25 alone clears
// it, which keeps the score monotone in term frequency.
func (r *Ranker) blend(bm25, tfidf float64) (float64, bool) {
	threshold := r.params.LowSignalThreshold
	if bm25 >= threshold {
		return bm25, false
	}
	mixed := (1-r.params.TFIDFBlend)*bm25 + r.params.TFIDFBlend*tfidf
	mixed = math.Min(mixed, threshold)
	if mixed > bm25 {
		return mixed, true
	}
	return bm25, false
}
