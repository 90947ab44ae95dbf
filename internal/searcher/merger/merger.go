// Package merger selects the best-scoring documents from one or more scored
// lists using a bounded min-heap.
package merger

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/searcher/ranker"
)

// TopK returns the limit highest-scoring documents across lists, ordered by
// score descending then document id ascending. A non-positive limit keeps
// every document.
func TopK(limit int, lists ...[]ranker.ScoredDoc) []ranker.ScoredDoc {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	if limit <= 0 || limit > total {
		limit = total
	}
	if limit == 0 {
		return nil
	}
	h := make(scoredDocHeap, 0, limit+1)
	for _, results := range lists {
		for _, doc := range results {
			heap.Push(&h, doc)
			if h.Len() > limit {
				heap.Pop(&h)
			}
		}
	}
	result := make([]ranker.ScoredDoc, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&h).(ranker.ScoredDoc)
	}
	return result
}

type scoredDocHeap []ranker.ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].DocID > h[j].DocID
}

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x any) {
	*h = append(*h, x.(ranker.ScoredDoc))
}

func (h *scoredDocHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
