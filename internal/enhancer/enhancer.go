// Package enhancer rewrites raw query text before retrieval. It corrects
// spelling against the index vocabulary, expands tokens with domain and
// general synonyms, and classifies the query's intent. Each stage can be
// switched off, and a stage that fails degrades to pass-through.
package enhancer

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
)

const (
	defaultCacheSize   = 4096
	correctionPenalty  = 0.05
	minQueryConfidence = 0.1
)

// Options selects the stages to run.
type Options struct {
	SpellCorrection bool
	Expansion       bool
	IntentDetection bool
}

func (o Options) key() string {
	b := [3]byte{'0', '0', '0'}
	if o.SpellCorrection {
		b[0] = '1'
	}
	if o.Expansion {
		b[1] = '1'
	}
	if o.IntentDetection {
		b[2] = '1'
	}
	return string(b[:])
}

type Enhancer struct {
	dict       *Dictionary
	speller    *SpellCorrector
	expander   *Expander
	classifier *IntentClassifier
	defaults   Options
	memo       *lru.Cache[string, model.EnhancedQuery]
	logger     *slog.Logger
}

// New builds an enhancer from configuration. relations may be nil.
func New(cfg config.EnhancerConfig, relations LexicalRelations) *Enhancer {
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	memo, _ := lru.New[string, model.EnhancedQuery](size)

	domain := make([]string, 0, len(TechnicalTerms)+len(DomainSynonyms))
	domain = append(domain, TechnicalTerms...)
	for k := range DomainSynonyms {
		domain = append(domain, k)
	}
	classifier := NewIntentClassifier()
	dict := NewDictionary(domain, classifier.Keywords())

	return &Enhancer{
		dict:       dict,
		speller:    NewSpellCorrector(dict, cfg.MaxEditDistance),
		expander:   NewExpander(DomainSynonyms, cfg.MaxDomainSynonyms, cfg.MaxRelatedSynonyms, relations),
		classifier: classifier,
		defaults: Options{
			SpellCorrection: cfg.SpellCorrection,
			Expansion:       cfg.Expansion,
			IntentDetection: cfg.IntentDetection,
		},
		memo:   memo,
		logger: slog.Default().With("component", "query-enhancer"),
	}
}

// Defaults returns the stage toggles taken from configuration.
func (e *Enhancer) Defaults() Options {
	return e.defaults
}

func (e *Enhancer) Dictionary() *Dictionary {
	return e.dict
}

// UpdateVocabulary replaces the spelling dictionary's vocabulary and drops
// memoised results computed against the old one.
func (e *Enhancer) UpdateVocabulary(words []string) {
	e.dict.Replace(words)
	e.memo.Purge()
	e.logger.Debug("vocabulary refreshed", "words", len(words))
}

// Enhance runs the configured stages on query.
func (e *Enhancer) Enhance(ctx context.Context, query string) *model.EnhancedQuery {
	return e.EnhanceWith(ctx, query, e.defaults)
}

// EnhanceWith runs the selected stages on query. It never fails; a stage
// that errors or panics is skipped.
func (e *Enhancer) EnhanceWith(ctx context.Context, query string, opts Options) *model.EnhancedQuery {
	memoKey := opts.key() + "|" + strings.Join(strings.Fields(strings.ToLower(query)), " ")
	if cached, ok := e.memo.Get(memoKey); ok {
		out := cloneEnhanced(cached)
		out.Original = query
		if len(out.Corrections) == 0 {
			out.Corrected = query
		}
		return &out
	}

	out := model.EnhancedQuery{
		Original:   query,
		Corrected:  query,
		Intent:     model.IntentExploratory,
		Confidence: defaultConfidence,
	}

	degraded := false
	if opts.SpellCorrection {
		ok := e.runStage("spell_correction", query, func() error {
			corrected, corrections := e.speller.Correct(query)
			out.Corrected = corrected
			out.Corrections = corrections
			return nil
		})
		degraded = degraded || !ok
	}

	out.Tokens = queryTokens(out.Corrected)
	out.ExpandedTokens = append([]string(nil), out.Tokens...)

	if opts.Expansion {
		ok := e.runStage("expansion", query, func() error {
			expanded, err := e.expander.Expand(ctx, out.Tokens)
			if len(expanded) >= len(out.Tokens) {
				out.ExpandedTokens = expanded
			}
			return err
		})
		degraded = degraded || !ok
	}

	if opts.IntentDetection {
		ok := e.runStage("intent", query, func() error {
			out.Intent, out.Confidence = e.classifier.Classify(out.Corrected)
			return nil
		})
		degraded = degraded || !ok
	}
	if n := len(out.Corrections); n > 0 {
		out.Confidence -= correctionPenalty * float64(n)
		if out.Confidence < minQueryConfidence {
			out.Confidence = minQueryConfidence
		}
	}

	// A degraded result is answered once and never memoised.
	if !degraded {
		e.memo.Add(memoKey, cloneEnhanced(out))
	}
	return &out
}

// Rewrite returns the text the lexical index should search for query.
func (e *Enhancer) Rewrite(query string, spellCorrect, expand bool) string {
	eq := e.EnhanceWith(context.Background(), query, Options{
		SpellCorrection: spellCorrect,
		Expansion:       expand,
	})
	return eq.Text()
}

// runStage reports whether fn completed without error or panic.
func (e *Enhancer) runStage(stage, query string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			e.logger.Error("enhancement stage panicked, skipping",
				"stage", stage,
				"query", query,
				"panic", r,
			)
		}
	}()
	if err := fn(); err != nil {
		e.logger.Warn("enhancement stage degraded",
			"stage", stage,
			"query", query,
			"error", fmt.Errorf("%w: %w", apperrors.ErrQuery, err),
		)
		return false
	}
	return true
}

// queryTokens keeps the lowercase, non stop-word words of text in order.
func queryTokens(text string) []string {
	words := tokenizer.Words(text)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 2 || tokenizer.IsStopWord(w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

func cloneEnhanced(q model.EnhancedQuery) model.EnhancedQuery {
	q.Tokens = append([]string(nil), q.Tokens...)
	q.ExpandedTokens = append([]string(nil), q.ExpandedTokens...)
	if q.Corrections != nil {
		q.Corrections = maps.Clone(q.Corrections)
	}
	return q
}
