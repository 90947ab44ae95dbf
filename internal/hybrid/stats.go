package hybrid

import (
	"maps"
	"sync"
	"time"
)

// Stats are running totals and averages across all searches.
type Stats struct {
	Searches          int64          `json:"searches"`
	AvgResponseTimeMs float64        `json:"avg_response_time_ms"`
	AvgResultCount    float64        `json:"avg_result_count"`
	ByMode            map[Mode]int64 `json:"by_mode"`
	Degradations      int64          `json:"degradations"`
	CacheHits         int64          `json:"cache_hits"`
}

type runningStats struct {
	mu sync.Mutex
	s  Stats
}

func newRunningStats() *runningStats {
	return &runningStats{s: Stats{ByMode: make(map[Mode]int64)}}
}

func (r *runningStats) record(info QueryInfo, elapsed time.Duration, results int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.Searches++
	n := float64(r.s.Searches)
	r.s.AvgResponseTimeMs += (millis(elapsed) - r.s.AvgResponseTimeMs) / n
	r.s.AvgResultCount += (float64(results) - r.s.AvgResultCount) / n
	r.s.ByMode[info.EffectiveMode]++
	if info.DegradationCause != "" {
		r.s.Degradations++
	}
	switch info.Cache {
	case "hit_l1", "hit_l2", "stale", "stale_on_error":
		r.s.CacheHits++
	}
}

func (r *runningStats) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.s
	out.ByMode = maps.Clone(r.s.ByMode)
	return out
}
