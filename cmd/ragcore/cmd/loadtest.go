package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var defaultLoadQueries = []string{
	"machine learning",
	"neural networks",
	"how to install docker",
	"vector database",
	"semantic search",
	"retrieval augmented generation",
	"kubernetes deployment",
	"gradient descent",
	"compare postgres and mysql",
	"cache invalidation",
	"bm25 ranking",
	"embedding models",
	"what is a transformer",
	"query expansion",
	"reciprocal rank fusion",
}

type loadOptions struct {
	url         string
	concurrency int
	duration    time.Duration
	mode        string
	topK        int
	queries     []string
}

// loadStats aggregates the outcome of every request a load run sends.
type loadStats struct {
	total    atomic.Int64
	success  atomic.Int64
	failures atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	status    map[int]int64
	cache     map[string]int64
	degraded  map[string]int64
}

func newLoadStats() *loadStats {
	return &loadStats{
		latencies: make([]time.Duration, 0, 100000),
		status:    make(map[int]int64),
		cache:     make(map[string]int64),
		degraded:  make(map[string]int64),
	}
}

type searchSummary struct {
	QueryInfo struct {
		DegradationCause string `json:"degradation_cause"`
		Cache            string `json:"cache"`
	} `json:"query_info"`
}

func (s *loadStats) record(d time.Duration, status int, body []byte, err error) {
	s.total.Add(1)
	if err != nil {
		s.failures.Add(1)
		return
	}
	var summary searchSummary
	if status >= 200 && status < 300 {
		s.success.Add(1)
		_ = json.Unmarshal(body, &summary)
	} else {
		s.failures.Add(1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, d)
	s.status[status]++
	if c := summary.QueryInfo.Cache; c != "" {
		s.cache[c]++
	}
	if cause := summary.QueryInfo.DegradationCause; cause != "" {
		s.degraded[cause]++
	}
}

func newLoadTestCmd() *cobra.Command {
	opts := loadOptions{}

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Send concurrent searches to a running ragcore and report latency and cache behaviour",
		Example: `  ragcore loadtest --url http://localhost:8080 -n 20 -d 1m
  ragcore loadtest --mode lexical -q "neural networks" -q "docker install"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.concurrency < 1 {
				return fmt.Errorf("concurrency must be at least 1")
			}
			if len(opts.queries) == 0 {
				opts.queries = defaultLoadQueries
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "=== ragcore load test ===")
			fmt.Fprintf(out, "Target:      %s\n", opts.url)
			fmt.Fprintf(out, "Concurrency: %d\n", opts.concurrency)
			fmt.Fprintf(out, "Duration:    %s\n", opts.duration)
			fmt.Fprintf(out, "Queries:     %d unique\n\n", len(opts.queries))

			stats, err := runLoadTest(cmd.Context(), opts)
			if err != nil {
				return err
			}
			printLoadReport(out, stats, opts.duration)
			if stats.total.Load() == 0 {
				return errors.New("no requests completed, is the service running?")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "http://localhost:8080", "Base URL of the search API")
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "n", 10, "Number of concurrent workers")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 30*time.Second, "Test duration")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "Search mode sent with every request")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 10, "top_k sent with every request")
	cmd.Flags().StringArrayVarP(&opts.queries, "query", "q", nil, "Query to cycle through (repeatable)")

	return cmd
}

func runLoadTest(ctx context.Context, opts loadOptions) (*loadStats, error) {
	stats := newLoadStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        opts.concurrency * 2,
			MaxIdleConnsPerHost: opts.concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	defer client.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < opts.concurrency; w++ {
		g.Go(func() error {
			for i := w; gctx.Err() == nil; i++ {
				q := url.Values{"q": {opts.queries[i%len(opts.queries)]}, "top_k": {strconv.Itoa(opts.topK)}}
				if opts.mode != "" {
					q.Set("mode", opts.mode)
				}
				req, err := http.NewRequestWithContext(gctx, http.MethodGet, opts.url+"/api/v1/search?"+q.Encode(), nil)
				if err != nil {
					return fmt.Errorf("building request: %w", err)
				}
				start := time.Now()
				resp, err := client.Do(req)
				if err != nil {
					if gctx.Err() != nil {
						return nil
					}
					stats.record(time.Since(start), 0, nil, err)
					continue
				}
				body, err := io.ReadAll(resp.Body)
				resp.Body.Close()
				stats.record(time.Since(start), resp.StatusCode, body, err)
			}
			return nil
		})
	}
	return stats, g.Wait()
}

func printLoadReport(out io.Writer, s *loadStats, duration time.Duration) {
	total := s.total.Load()
	failures := s.failures.Load()

	fmt.Fprintln(out, "=== Results ===")
	fmt.Fprintf(out, "Total Requests:  %d\n", total)
	fmt.Fprintf(out, "Successful:      %d\n", s.success.Load())
	fmt.Fprintf(out, "Errors:          %d\n", failures)
	if total > 0 {
		fmt.Fprintf(out, "Error Rate:      %.2f%%\n", float64(failures)/float64(total)*100)
		fmt.Fprintf(out, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.latencies) > 0 {
		latencies := slices.Clone(s.latencies)
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))
		var sq float64
		for _, l := range latencies {
			diff := float64(l - avg)
			sq += diff * diff
		}

		fmt.Fprintln(out, "\n=== Latency ===")
		fmt.Fprintf(out, "Min:    %s\n", latencies[0])
		fmt.Fprintf(out, "Avg:    %s\n", avg)
		fmt.Fprintf(out, "P50:    %s\n", percentile(latencies, 50))
		fmt.Fprintf(out, "P90:    %s\n", percentile(latencies, 90))
		fmt.Fprintf(out, "P95:    %s\n", percentile(latencies, 95))
		fmt.Fprintf(out, "P99:    %s\n", percentile(latencies, 99))
		fmt.Fprintf(out, "Max:    %s\n", latencies[len(latencies)-1])
		fmt.Fprintf(out, "StdDev: %s\n", time.Duration(math.Sqrt(sq/float64(len(latencies)))))
	}

	printCounts(out, "Status Codes", s.status)
	printCounts(out, "Cache Outcomes", s.cache)
	printCounts(out, "Degradations", s.degraded)
}

func printCounts[K int | string](out io.Writer, title string, counts map[K]int64) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(out, "\n=== %s ===\n", title)
	keys := make([]K, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %v: %d\n", k, counts[k])
	}
}

// percentile returns the p-th percentile of an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
