// Package fusion merges a lexical and a semantic result list into one
// ranking. Reciprocal Rank Fusion is the default; CombSUM and Borda count are
// available, and an adaptive selector picks between the three from the shape
// of the inputs and the query intent.
package fusion

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
)

// DefaultRRFConstant is the usual RRF smoothing parameter.
const DefaultRRFConstant = 60

type Algorithm string

const (
	AlgorithmRRF      Algorithm = "rrf"
	AlgorithmCombSUM  Algorithm = "combsum"
	AlgorithmBorda    Algorithm = "borda"
	AlgorithmAdaptive Algorithm = "adaptive"
)

// ParseAlgorithm maps a configuration string to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(s); a {
	case AlgorithmRRF, AlgorithmCombSUM, AlgorithmBorda, AlgorithmAdaptive:
		return a, nil
	case "":
		return AlgorithmRRF, nil
	default:
		return "", fmt.Errorf("%w: unknown fusion algorithm %q", apperrors.ErrInvalidInput, s)
	}
}

// QueryMeta carries what the fusion layer knows about the query.
type QueryMeta struct {
	Intent     model.Intent
	TokenCount int
	// SemanticWeight, when set, pins the semantic weight and disables the
	// adaptive adjustments.
	SemanticWeight *float64
}

// Weights are the per-side multipliers; they sum to 1.
type Weights struct {
	Semantic float64 `json:"semantic"`
	Lexical  float64 `json:"lexical"`
}

// Output is the fused ranking plus how it was produced.
type Output struct {
	Results   []model.FusionResult `json:"results"`
	Algorithm Algorithm            `json:"algorithm"`
	Weights   Weights              `json:"weights"`
}

type Params struct {
	RRFK           int
	SemanticWeight float64
	MinWeight      float64
	MaxWeight      float64
}

func DefaultParams() Params {
	return Params{RRFK: DefaultRRFConstant, SemanticWeight: 0.7, MinWeight: 0.2, MaxWeight: 0.8}
}

func ParamsFromConfig(cfg config.FusionConfig) Params {
	p := Params{
		RRFK:           cfg.RRFK,
		SemanticWeight: cfg.SemanticWeight,
		MinWeight:      cfg.MinWeight,
		MaxWeight:      cfg.MaxWeight,
	}
	if p.RRFK <= 0 {
		p.RRFK = DefaultRRFConstant
	}
	return p
}

type Engine struct {
	params Params
	logger *slog.Logger
}

func NewEngine(p Params) *Engine {
	if p.RRFK <= 0 {
		p.RRFK = DefaultRRFConstant
	}
	return &Engine{
		params: p,
		logger: slog.Default().With("component", "fusion"),
	}
}

// entry is one document's state while fusing.
type entry struct {
	id           string
	lexical      *model.SearchResult
	semantic     *model.SearchResult
	lexicalRank  int
	semanticRank int
	fused        float64
}

func (e *entry) inBoth() bool {
	return e.lexicalRank > 0 && e.semanticRank > 0
}

func (e *entry) lexicalScore() float64 {
	if e.lexical == nil {
		return 0
	}
	return e.lexical.Score
}

func (e *entry) semanticScore() float64 {
	if e.semantic == nil {
		return 0
	}
	return e.semantic.Score
}

// Fuse merges lexical and semantic results with algorithm and returns at most
// topK results ranked 1..N. A malformed side is logged and treated as empty.
func (e *Engine) Fuse(lexical, semantic []model.SearchResult, algorithm Algorithm, meta QueryMeta, topK int) Output {
	lex := e.sanitize(lexical, model.MethodLexical)
	sem := e.sanitize(semantic, model.MethodSemantic)

	if algorithm == "" {
		algorithm = AlgorithmRRF
	}
	if algorithm == AlgorithmAdaptive {
		algorithm = SelectAlgorithm(lex, sem, meta.Intent)
	}
	weights := e.Weights(lex, sem, meta)

	if len(lex) == 0 && len(sem) == 0 {
		return Output{Results: []model.FusionResult{}, Algorithm: algorithm, Weights: weights}
	}

	entries, order := collect(lex, sem)
	switch algorithm {
	case AlgorithmCombSUM:
		combSUM(entries, lex, sem, weights)
	case AlgorithmBorda:
		borda(entries, len(lex), len(sem))
	default:
		algorithm = AlgorithmRRF
		rrf(entries, e.params.RRFK, weights)
	}

	ranked := make([]*entry, 0, len(order))
	for _, id := range order {
		ranked = append(ranked, entries[id])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return compare(ranked[i], ranked[j])
	})
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}

	maxFused := 0.0
	if len(ranked) > 0 {
		maxFused = ranked[0].fused
	}
	results := make([]model.FusionResult, len(ranked))
	for i, en := range ranked {
		results[i] = toResult(en, i+1, confidence(en, maxFused))
	}
	return Output{Results: results, Algorithm: algorithm, Weights: weights}
}

// FromSingle ranks a single result list as a fusion output, for searches
// that ran only one retrieval path.
func FromSingle(results []model.SearchResult, method model.SearchMethod, topK int) []model.FusionResult {
	var lex, sem []model.SearchResult
	if method == model.MethodSemantic {
		sem = sortByScore(results)
	} else {
		lex = sortByScore(results)
	}
	entries, order := collect(lex, sem)
	ranked := make([]*entry, 0, len(order))
	for _, id := range order {
		en := entries[id]
		en.fused = en.lexicalScore() + en.semanticScore()
		ranked = append(ranked, en)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return compare(ranked[i], ranked[j])
	})
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	maxFused := 0.0
	if len(ranked) > 0 {
		maxFused = ranked[0].fused
	}
	out := make([]model.FusionResult, len(ranked))
	for i, en := range ranked {
		out[i] = toResult(en, i+1, confidence(en, maxFused))
	}
	return out
}

// sanitize validates one side, dropping it entirely when malformed, and
// returns it ordered by score with duplicate ids removed.
func (e *Engine) sanitize(results []model.SearchResult, method model.SearchMethod) []model.SearchResult {
	if err := validate(results); err != nil {
		e.logger.Warn("discarding malformed result set",
			"method", method,
			"results", len(results),
			"error", err,
		)
		return nil
	}
	return sortByScore(results)
}

func validate(results []model.SearchResult) error {
	for i, r := range results {
		if r.DocumentID == "" {
			return fmt.Errorf("%w: result %d has no document id", apperrors.ErrFusion, i)
		}
		if math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
			return fmt.Errorf("%w: result %d (%s) has non-finite score", apperrors.ErrFusion, i, r.DocumentID)
		}
	}
	return nil
}

func sortByScore(results []model.SearchResult) []model.SearchResult {
	out := make([]model.SearchResult, 0, len(results))
	seen := make(map[string]int, len(results))
	for _, r := range results {
		if idx, dup := seen[r.DocumentID]; dup {
			if r.Score > out[idx].Score {
				out[idx] = r
			}
			continue
		}
		seen[r.DocumentID] = len(out)
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	return out
}

// collect indexes both sides by document id, assigning 1-based ranks.
// order lists ids in first-seen order for deterministic iteration.
func collect(lex, sem []model.SearchResult) (map[string]*entry, []string) {
	entries := make(map[string]*entry, len(lex)+len(sem))
	order := make([]string, 0, len(lex)+len(sem))
	get := func(id string) *entry {
		if en, ok := entries[id]; ok {
			return en
		}
		en := &entry{id: id}
		entries[id] = en
		order = append(order, id)
		return en
	}
	for i := range lex {
		en := get(lex[i].DocumentID)
		en.lexical = &lex[i]
		en.lexicalRank = i + 1
	}
	for i := range sem {
		en := get(sem[i].DocumentID)
		en.semantic = &sem[i]
		en.semanticRank = i + 1
	}
	return entries, order
}

// compare orders by fused score, then presence in both lists, then lexical
// score, then id.
func compare(a, b *entry) bool {
	if a.fused != b.fused {
		return a.fused > b.fused
	}
	if a.inBoth() != b.inBoth() {
		return a.inBoth()
	}
	if a.lexicalScore() != b.lexicalScore() {
		return a.lexicalScore() > b.lexicalScore()
	}
	return a.id < b.id
}

func toResult(en *entry, rank int, confidence float64) model.FusionResult {
	fr := model.FusionResult{
		DocumentID:    en.id,
		FusedScore:    en.fused,
		SemanticScore: en.semanticScore(),
		LexicalScore:  en.lexicalScore(),
		Confidence:    confidence,
		Rank:          rank,
	}
	if en.lexical != nil {
		fr.SearchMethods = append(fr.SearchMethods, model.MethodLexical)
		fr.Content = en.lexical.Content
		fr.Metadata = model.CloneMetadata(en.lexical.Metadata)
		fr.Highlights = append([]string(nil), en.lexical.Highlights...)
	}
	if en.semantic != nil {
		fr.SearchMethods = append(fr.SearchMethods, model.MethodSemantic)
		if fr.Content == "" {
			fr.Content = en.semantic.Content
		}
		if fr.Metadata == nil {
			fr.Metadata = model.CloneMetadata(en.semantic.Metadata)
		}
	}
	return fr
}
