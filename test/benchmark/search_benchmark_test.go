package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/enhancer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/fusion"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/hybrid"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/config"
)

type fixedStats struct {
	docs   int
	avgLen float64
}

func (s fixedStats) DocCount() int         { return s.docs }
func (s fixedStats) AvgDocLength() float64 { return s.avgLen }
func (s fixedStats) DocLength(string) int  { return 180 }

// BenchmarkBM25Rank measures scoring for an increasing number of query
// terms over 500-document posting lists.
func BenchmarkBM25Rank(b *testing.B) {
	r := ranker.New(ranker.DefaultParams())
	for _, tc := range []int{1, 3, 5, 10} {
		b.Run(fmt.Sprintf("terms_%d", tc), func(b *testing.B) {
			postings := make(map[string]index.PostingList)
			for t := 0; t < tc; t++ {
				pl := make(index.PostingList, 500)
				for i := range pl {
					pl[i] = index.Posting{
						DocID:     fmt.Sprintf("doc-%d", i),
						Frequency: (i % 5) + 1,
						Positions: []int{t * 10},
					}
				}
				postings[fmt.Sprintf("term%d", t)] = pl
			}
			stats := fixedStats{docs: 5000, avgLen: 200}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = r.Rank(postings, stats)
			}
		})
	}
}

// BenchmarkEngineSearch measures lexical search latency across 10 000
// documents.
func BenchmarkEngineSearch(b *testing.B) {
	engine := newEngine(b, syntheticDocs(10000, "doc"))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = engine.Search(topics[i%len(topics)]+" systems", indexer.SearchOptions{TopK: 10})
	}
}

func BenchmarkEngineSearchParallel(b *testing.B) {
	engine := newEngine(b, syntheticDocs(10000, "doc"))
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_ = engine.Search(topics[i%len(topics)], indexer.SearchOptions{TopK: 10})
			i++
		}
	})
}

func rankedList(n int, method model.SearchMethod, offset int) []model.SearchResult {
	out := make([]model.SearchResult, n)
	for i := range out {
		out[i] = model.SearchResult{
			DocumentID:   fmt.Sprintf("doc-%d", i+offset),
			Score:        1 / float64(i+1),
			SearchMethod: method,
			Rank:         i + 1,
		}
	}
	return out
}

// BenchmarkFuse compares the fusion algorithms on half-overlapping
// candidate lists.
func BenchmarkFuse(b *testing.B) {
	engine := fusion.NewEngine(fusion.DefaultParams())
	lex := rankedList(50, model.MethodLexical, 0)
	sem := rankedList(50, model.MethodSemantic, 25)
	meta := fusion.QueryMeta{Intent: model.IntentFactual}
	for _, algo := range []fusion.Algorithm{fusion.AlgorithmRRF, fusion.AlgorithmCombSUM, fusion.AlgorithmBorda, fusion.AlgorithmAdaptive} {
		b.Run(string(algo), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = engine.Fuse(lex, sem, algo, meta, 10)
			}
		})
	}
}

// BenchmarkHybridSearch measures the orchestrated lexical path with and
// without the response cache.
func BenchmarkHybridSearch(b *testing.B) {
	cfg := config.Default()
	engine := newEngine(b, syntheticDocs(2000, "doc"))
	enh := enhancer.New(cfg.Enhancer, nil)
	engine.SetRewriter(enh)
	engine.OnVocabularyChange(enh.UpdateVocabulary)

	l1, err := cache.NewL1(cfg.Cache.L1MaxEntries, cfg.Cache.L1MaxBytes, nil, nil)
	if err != nil {
		b.Fatal(err)
	}
	mgr := cache.NewManager(l1, nil, cache.PoliciesFromConfig(cfg.Cache.Policies), cache.OptionsFromConfig(cfg.Cache, nil))
	orch, err := hybrid.New(cfg.Hybrid, cfg.Fusion.Algorithm, hybrid.Deps{
		Engine:   engine,
		Enhancer: enh,
		Fusion:   fusion.NewEngine(fusion.ParamsFromConfig(cfg.Fusion)),
		Cache:    mgr,
	})
	if err != nil {
		b.Fatal(err)
	}
	defer orch.Release()

	ctx := context.Background()
	for _, noCache := range []bool{true, false} {
		b.Run(fmt.Sprintf("no_cache_%t", noCache), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				req := hybrid.Request{Query: "retrieval ranking", Mode: hybrid.ModeLexical, NoCache: noCache}
				if _, err := orch.Search(ctx, req); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
