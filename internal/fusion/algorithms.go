package fusion

import (
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
)

// rrf scores each document as the weighted sum of 1/(k+rank) over the lists
// it appears in. A missing side contributes nothing.
func rrf(entries map[string]*entry, k int, w Weights) {
	for _, en := range entries {
		score := 0.0
		if en.lexicalRank > 0 {
			score += w.Lexical / float64(k+en.lexicalRank)
		}
		if en.semanticRank > 0 {
			score += w.Semantic / float64(k+en.semanticRank)
		}
		en.fused = score
	}
}

// combSUM min-max normalises each side to [0,1] and takes the weighted sum.
func combSUM(entries map[string]*entry, lex, sem []model.SearchResult, w Weights) {
	lexMin, lexMax := scoreRange(lex)
	semMin, semMax := scoreRange(sem)
	for _, en := range entries {
		score := 0.0
		if en.lexical != nil {
			score += w.Lexical * minMax(en.lexical.Score, lexMin, lexMax)
		}
		if en.semantic != nil {
			score += w.Semantic * minMax(en.semantic.Score, semMin, semMax)
		}
		en.fused = score
	}
}

// borda awards N-rank+1 points per list, where N is that list's length.
func borda(entries map[string]*entry, lexN, semN int) {
	for _, en := range entries {
		score := 0.0
		if en.lexicalRank > 0 {
			score += float64(lexN - en.lexicalRank + 1)
		}
		if en.semanticRank > 0 {
			score += float64(semN - en.semanticRank + 1)
		}
		en.fused = score
	}
}

func scoreRange(results []model.SearchResult) (float64, float64) {
	if len(results) == 0 {
		return 0, 0
	}
	lo, hi := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < lo {
			lo = r.Score
		}
		if r.Score > hi {
			hi = r.Score
		}
	}
	return lo, hi
}

// minMax maps v into [0,1]; a flat list maps every score to 1.
func minMax(v, lo, hi float64) float64 {
	if hi == lo {
		return 1
	}
	return (v - lo) / (hi - lo)
}
