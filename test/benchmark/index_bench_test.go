// Package benchmark contains Go benchmarks for the lexical engine, the
// fusion engine and the cached hybrid search path, measuring throughput and
// allocation behaviour.
package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/config"
)

var topics = []string{"retrieval", "embedding", "ranking", "fusion", "cache", "index", "query", "semantic"}

func syntheticDocs(n int, prefix string) []model.Document {
	docs := make([]model.Document, n)
	for i := range docs {
		docs[i] = model.Document{
			ID: fmt.Sprintf("%s-%d", prefix, i),
			Content: fmt.Sprintf("this document covers %s %s and %s in production systems",
				topics[i%len(topics)], topics[(i+2)%len(topics)], topics[(i+3)%len(topics)]),
			Metadata: map[string]any{"topic": topics[i%len(topics)]},
		}
	}
	return docs
}

func newEngine(b *testing.B, docs []model.Document) *indexer.Engine {
	b.Helper()
	engine := indexer.NewEngine(config.Default().Lexical, nil)
	if err := engine.IndexDocuments(context.Background(), docs); err != nil {
		b.Fatal(err)
	}
	return engine
}

// BenchmarkAnalyze measures per-document tokenisation and posting
// construction.
func BenchmarkAnalyze(b *testing.B) {
	doc := model.Document{ID: "doc", Content: "hybrid retrieval combines lexical scoring with semantic similarity over dense embeddings"}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = index.Analyze(doc)
	}
}

// BenchmarkSnapshotBuild measures rebuilding an immutable snapshot from a
// populated one, the cost paid by every single-document mutation.
func BenchmarkSnapshotBuild(b *testing.B) {
	for _, size := range []int{100, 1000, 5000} {
		b.Run(fmt.Sprintf("docs_%d", size), func(b *testing.B) {
			snap := newEngine(b, syntheticDocs(size, "doc")).Snapshot()
			extra := index.Analyze(model.Document{ID: "extra", Content: "one more document"})
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				builder := index.BuilderFrom(snap)
				builder.Put(extra)
				_ = builder.Build()
			}
		})
	}
}

// BenchmarkEngineIndexDocuments measures bulk indexing throughput.
func BenchmarkEngineIndexDocuments(b *testing.B) {
	for _, size := range []int{100, 1000, 5000} {
		docs := syntheticDocs(size, "bulk")
		b.Run(fmt.Sprintf("docs_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				engine := indexer.NewEngine(config.Default().Lexical, nil)
				if err := engine.IndexDocuments(context.Background(), docs); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkEngineAddDocument measures single-document inserts at various
// pre-loaded corpus sizes.
func BenchmarkEngineAddDocument(b *testing.B) {
	for _, preload := range []int{100, 1000, 5000} {
		b.Run(fmt.Sprintf("preload_%d", preload), func(b *testing.B) {
			engine := newEngine(b, syntheticDocs(preload, "preload"))
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				doc := model.Document{
					ID:      fmt.Sprintf("bench-%d", i%64),
					Content: "benchmark document body for measuring indexing throughput",
				}
				if err := engine.AddDocument(doc); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
