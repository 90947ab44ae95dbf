package fusion

import (
	"math"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
)

const (
	weightStep       = 0.1
	sizeTolerance    = 3
	minSpread        = 0.1
	bordaMinResults  = 3
	strengthMargin   = 0.2
	shortQueryTokens = 2
	longQueryTokens  = 6
)

// SelectAlgorithm picks CombSUM for similarly sized lists that both have a
// meaningful score spread, Borda for comparative or specific queries with
// enough results on each side, and RRF otherwise.
func SelectAlgorithm(lex, sem []model.SearchResult, intent model.Intent) Algorithm {
	if len(lex) > 0 && len(sem) > 0 &&
		absInt(len(lex)-len(sem)) <= sizeTolerance &&
		stdDev(lex) > minSpread && stdDev(sem) > minSpread {
		return AlgorithmCombSUM
	}
	if (intent == model.IntentComparative || intent == model.IntentSpecific) &&
		len(lex) > bordaMinResults && len(sem) > bordaMinResults {
		return AlgorithmBorda
	}
	return AlgorithmRRF
}

// Weights starts from the configured semantic weight, shifts it by one step
// for the query's intent and length and by one step for whichever side is
// markedly stronger, then clamps it to the configured bounds. A pinned NaN
// weight is ignored.
func (e *Engine) Weights(lex, sem []model.SearchResult, meta QueryMeta) Weights {
	if meta.SemanticWeight != nil && !math.IsNaN(*meta.SemanticWeight) {
		s := clamp(*meta.SemanticWeight, 0, 1)
		return Weights{Semantic: s, Lexical: 1 - s}
	}
	s := e.params.SemanticWeight

	switch {
	case meta.Intent == model.IntentSpecific ||
		(meta.TokenCount > 0 && meta.TokenCount <= shortQueryTokens):
		s -= weightStep
	case meta.Intent == model.IntentExploratory ||
		meta.Intent == model.IntentAnalytical ||
		meta.TokenCount >= longQueryTokens:
		s += weightStep
	}

	if len(lex) > 0 && len(sem) > 0 {
		lexStrength := squash(meanScore(lex))
		semStrength := clamp(meanScore(sem), 0, 1)
		switch {
		case semStrength-lexStrength > strengthMargin:
			s += weightStep
		case lexStrength-semStrength > strengthMargin:
			s -= weightStep
		}
	}

	s = clamp(s, e.params.MinWeight, e.params.MaxWeight)
	return Weights{Semantic: s, Lexical: 1 - s}
}

func meanScore(results []model.SearchResult) float64 {
	if len(results) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range results {
		sum += r.Score
	}
	return sum / float64(len(results))
}

func stdDev(results []model.SearchResult) float64 {
	if len(results) < 2 {
		return 0
	}
	mean := meanScore(results)
	variance := 0.0
	for _, r := range results {
		d := r.Score - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(results)))
}

// squash maps an unbounded non-negative BM25 average onto [0,1).
func squash(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return v / (1 + v)
}

func clamp(v, lo, hi float64) float64 {
	if lo > hi {
		return v
	}
	return math.Max(lo, math.Min(hi, v))
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
