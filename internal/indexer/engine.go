// Package indexer owns the lexical index. Readers load an immutable snapshot
// through an atomic pointer; writers build a replacement snapshot off to the
// side and swap it in, so a search never observes a partial update.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/searcher/highlight"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/metrics"
)

const defaultTopK = 10

// Rewriter rewrites raw query text before it is tokenised. The query
// enhancer implements it.
type Rewriter interface {
	Rewrite(query string, spellCorrect, expand bool) string
}

// SearchOptions controls a single lexical search.
type SearchOptions struct {
	TopK               int
	UseSpellCorrection bool
	UseQueryExpansion  bool
}

// VocabularyHook is called with the full surface vocabulary after every
// successful index mutation, while the writer lock is held. Hooks must not
// mutate the engine.
type VocabularyHook func(words []string)

type Engine struct {
	snapshot atomic.Pointer[index.Snapshot]
	writeMu  sync.Mutex

	ranker          *ranker.Ranker
	highlightWindow int
	workers         int

	rewriter atomic.Value
	hooksMu  sync.RWMutex
	hooks    []VocabularyHook

	metrics *metrics.Metrics
	logger  *slog.Logger
}

type rewriterBox struct{ r Rewriter }

// NewEngine returns an engine with an empty index.
func NewEngine(cfg config.LexicalConfig, m *metrics.Metrics) *Engine {
	workers := cfg.IndexWorkers
	if workers <= 0 {
		workers = 4
	}
	e := &Engine{
		ranker:          ranker.New(ranker.ParamsFromConfig(cfg)),
		highlightWindow: cfg.HighlightWindow,
		workers:         workers,
		metrics:         m,
		logger:          slog.Default().With("component", "lexical-index"),
	}
	e.snapshot.Store(index.Empty())
	return e
}

// SetRewriter installs the query rewriter used when a search asks for spell
// correction or expansion.
func (e *Engine) SetRewriter(r Rewriter) {
	e.rewriter.Store(rewriterBox{r: r})
}

// OnVocabularyChange registers fn to receive the vocabulary after each
// mutation. fn is also called immediately with the current vocabulary.
func (e *Engine) OnVocabularyChange(fn VocabularyHook) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.hooksMu.Lock()
	e.hooks = append(e.hooks, fn)
	e.hooksMu.Unlock()
	fn(e.snapshot.Load().SurfaceWords())
}

// IndexDocuments replaces the whole index with docs. If any document lacks an
// id the call fails with ErrIndex and the existing index is left untouched.
func (e *Engine) IndexDocuments(ctx context.Context, docs []model.Document) error {
	for i, doc := range docs {
		if strings.TrimSpace(doc.ID) == "" {
			e.metrics.RecordIndexMutation("bulk", "rejected", e.snapshot.Load().DocCount())
			return apperrors.IndexErrorf("document at position %d has no id", i)
		}
	}

	entries := make([]*index.Entry, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			entries[i] = index.Analyze(docs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.metrics.RecordIndexMutation("bulk", "cancelled", e.snapshot.Load().DocCount())
		return fmt.Errorf("analysing documents: %w", err)
	}

	b := index.NewBuilder(len(entries))
	for _, entry := range entries {
		b.Put(entry)
	}
	next := b.Build()

	e.writeMu.Lock()
	e.snapshot.Store(next)
	e.notify(next)
	e.writeMu.Unlock()

	e.logger.Info("index rebuilt",
		"documents", next.DocCount(),
		"avg_doc_length", next.AvgDocLength(),
	)
	e.metrics.RecordIndexMutation("bulk", "ok", next.DocCount())
	return nil
}

// AddDocument inserts or replaces a single document.
func (e *Engine) AddDocument(doc model.Document) error {
	if strings.TrimSpace(doc.ID) == "" {
		e.metrics.RecordIndexMutation("add", "rejected", e.snapshot.Load().DocCount())
		return apperrors.IndexErrorf("document has no id")
	}
	entry := index.Analyze(doc)

	e.writeMu.Lock()
	b := index.BuilderFrom(e.snapshot.Load())
	b.Put(entry)
	next := b.Build()
	e.snapshot.Store(next)
	e.notify(next)
	e.writeMu.Unlock()

	e.logger.Debug("document indexed",
		"doc_id", doc.ID,
		"token_count", entry.Length,
		"documents", next.DocCount(),
	)
	e.metrics.RecordIndexMutation("add", "ok", next.DocCount())
	return nil
}

// RemoveDocument deletes docID and reports whether it was indexed.
func (e *Engine) RemoveDocument(docID string) bool {
	e.writeMu.Lock()
	current := e.snapshot.Load()
	if _, ok := current.Entry(docID); !ok {
		e.writeMu.Unlock()
		return false
	}
	b := index.BuilderFrom(current)
	b.Remove(docID)
	next := b.Build()
	e.snapshot.Store(next)
	e.notify(next)
	e.writeMu.Unlock()

	e.logger.Debug("document removed", "doc_id", docID, "documents", next.DocCount())
	e.metrics.RecordIndexMutation("remove", "ok", next.DocCount())
	return true
}

// Search ranks indexed documents against query. It never fails: an empty
// query, an empty index and unknown terms all yield fewer or no results.
func (e *Engine) Search(query string, opts SearchOptions) []model.SearchResult {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	snap := e.snapshot.Load()
	if snap.DocCount() == 0 {
		e.logger.Warn("search against empty index", "query", query)
		return nil
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	text := query
	if opts.UseSpellCorrection || opts.UseQueryExpansion {
		if box, ok := e.rewriter.Load().(rewriterBox); ok && box.r != nil {
			text = box.r.Rewrite(query, opts.UseSpellCorrection, opts.UseQueryExpansion)
		}
	}

	terms := uniqueTerms(text)
	if len(terms) == 0 {
		return nil
	}
	postingsPerTerm := make(map[string]index.PostingList, len(terms))
	for _, term := range terms {
		if postings := snap.Postings(term); len(postings) > 0 {
			postingsPerTerm[term] = postings
		}
	}
	if len(postingsPerTerm) == 0 {
		return nil
	}

	scored := merger.TopK(topK, e.ranker.Rank(postingsPerTerm, snap))
	results := make([]model.SearchResult, 0, len(scored))
	for i, sd := range scored {
		entry, ok := snap.Entry(sd.DocID)
		if !ok {
			continue
		}
		meta := model.CloneMetadata(entry.Doc.Metadata)
		if meta == nil {
			meta = make(map[string]any, 2)
		}
		meta["matched_terms"] = append([]string(nil), sd.MatchedTerms...)
		if sd.Rescued {
			meta["scoring"] = "bm25+tfidf"
		} else {
			meta["scoring"] = "bm25"
		}
		results = append(results, model.SearchResult{
			DocumentID:   sd.DocID,
			Content:      entry.Doc.Content,
			Score:        sd.Score,
			Metadata:     meta,
			SearchMethod: model.MethodLexical,
			Highlights:   highlight.Snippets(entry.Doc.Content, entry.Tokens, sd.MatchedTerms, e.highlightWindow),
			Rank:         i + 1,
		})
	}
	return results
}

// Document returns a copy of an indexed document.
func (e *Engine) Document(docID string) (model.Document, bool) {
	return e.snapshot.Load().Document(docID)
}

func (e *Engine) Stats() index.Stats {
	return e.snapshot.Load().Stats()
}

// Vocabulary returns every distinct surface word in the index.
func (e *Engine) Vocabulary() []string {
	return e.snapshot.Load().SurfaceWords()
}

// Snapshot exposes the current immutable index for read-only inspection.
func (e *Engine) Snapshot() *index.Snapshot {
	return e.snapshot.Load()
}

func (e *Engine) notify(s *index.Snapshot) {
	e.hooksMu.RLock()
	hooks := make([]VocabularyHook, len(e.hooks))
	copy(hooks, e.hooks)
	e.hooksMu.RUnlock()
	if len(hooks) == 0 {
		return
	}
	words := s.SurfaceWords()
	for _, fn := range hooks {
		fn(words)
	}
}

func uniqueTerms(text string) []string {
	terms := tokenizer.Terms(text)
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
