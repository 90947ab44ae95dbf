// Package hybrid is the public search entry point. It enhances the query,
// runs the lexical index and the external semantic searcher side by side on
// a fixed worker pool, fuses the two rankings and caches the response.
//
// The semantic side is guarded by a per-call timeout and a circuit breaker.
// When it times out, fails or is unavailable the search degrades to
// lexical-only instead of failing.
package hybrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/enhancer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/fusion"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/tracing"
)

// cacheDataType is the policy tag of cached search responses.
const cacheDataType = "search"

const (
	stageEnhancement = "enhancement"
	stageLexical     = "lexical"
	stageSemantic    = "semantic"
	stageFusion      = "fusion"
)

const (
	causeTimeout     = "timeout"
	causeCircuitOpen = "circuit_open"
	causeError       = "error"
	causeUnavailable = "unavailable"
)

// Mode selects the retrieval paths a search runs.
type Mode string

const (
	ModeLexical  Mode = "lexical"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
)

// ParseMode maps a configuration or request string to a Mode. The empty
// string yields def.
func ParseMode(s string, def Mode) (Mode, error) {
	switch m := Mode(s); m {
	case ModeLexical, ModeSemantic, ModeHybrid:
		return m, nil
	case "":
		return def, nil
	default:
		return "", fmt.Errorf("%w: unknown search mode %q", apperrors.ErrInvalidInput, s)
	}
}

// SemanticSearcher is the external vector-search collaborator. It must
// honour ctx cancellation.
type SemanticSearcher interface {
	Search(ctx context.Context, query string, filters map[string]any, topK int) ([]model.SearchResult, error)
}

// Request is one search call. Zero values fall back to the configured
// defaults.
type Request struct {
	Query   string
	Mode    Mode
	TopK    int
	Filters map[string]any
	// Enhancement overrides the enhancer's configured stages.
	Enhancement *enhancer.Options
	Algorithm   fusion.Algorithm
	// SemanticWeight pins the fusion weight of the semantic side.
	SemanticWeight  *float64
	SemanticTimeout time.Duration
	// NoCache bypasses the response cache for this call.
	NoCache bool
}

// QueryInfo describes how the query was interpreted and executed.
type QueryInfo struct {
	Original         string            `json:"original"`
	Corrected        string            `json:"corrected"`
	Expanded         []string          `json:"expanded,omitempty"`
	Intent           model.Intent      `json:"intent"`
	Confidence       float64           `json:"confidence"`
	Corrections      map[string]string `json:"corrections,omitempty"`
	Algorithm        fusion.Algorithm  `json:"algorithm,omitempty"`
	Weights          *fusion.Weights   `json:"weights,omitempty"`
	RequestedMode    Mode              `json:"requested_mode"`
	EffectiveMode    Mode              `json:"effective_mode"`
	DegradationCause string            `json:"degradation_cause,omitempty"`
	Cache            string            `json:"cache"`
}

// Timings are the per-call stage durations in milliseconds and the size
// of each candidate list.
type Timings struct {
	TotalMs         float64 `json:"total_ms"`
	EnhancementMs   float64 `json:"enhancement_ms"`
	LexicalMs       float64 `json:"lexical_ms"`
	SemanticMs      float64 `json:"semantic_ms"`
	FusionMs        float64 `json:"fusion_ms"`
	LexicalResults  int     `json:"lexical_results"`
	SemanticResults int     `json:"semantic_results"`
}

// Response is the result of a search.
type Response struct {
	Results   []model.FusionResult `json:"results"`
	QueryInfo QueryInfo            `json:"query_info"`
	Metrics   Timings              `json:"metrics"`
}

// degraded carries a lexical-only response out of a cache fetch so it is
// returned to callers without being stored.
type degraded struct {
	resp *Response
}

func (d *degraded) Error() string {
	return "search degraded to lexical-only: " + d.resp.QueryInfo.DegradationCause
}

// Orchestrator runs hybrid searches. It is safe for concurrent use.
type Orchestrator struct {
	cfg      config.HybridConfig
	mode     Mode
	algo     fusion.Algorithm
	engine   *indexer.Engine
	enhancer *enhancer.Enhancer
	fusion   *fusion.Engine
	semantic SemanticSearcher
	cache    *cache.Manager
	breaker  *resilience.CircuitBreaker
	pool     *ants.Pool
	stats    *runningStats
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Deps are the collaborators of an Orchestrator. Semantic and Cache may be
// nil: without a semantic searcher every search is lexical-only, without a
// cache nothing is memoised.
type Deps struct {
	Engine   *indexer.Engine
	Enhancer *enhancer.Enhancer
	Fusion   *fusion.Engine
	Semantic SemanticSearcher
	Cache    *cache.Manager
	Metrics  *metrics.Metrics
}

// New builds an Orchestrator. Call Release when done to stop the worker
// pool.
func New(cfg config.HybridConfig, fusionAlgorithm string, deps Deps) (*Orchestrator, error) {
	if deps.Engine == nil || deps.Enhancer == nil || deps.Fusion == nil {
		return nil, fmt.Errorf("%w: orchestrator needs an engine, an enhancer and a fusion engine", apperrors.ErrInvalidInput)
	}
	mode, err := ParseMode(cfg.DefaultMode, ModeHybrid)
	if err != nil {
		return nil, err
	}
	algo, err := fusion.ParseAlgorithm(fusionAlgorithm)
	if err != nil {
		return nil, err
	}
	size := cfg.WorkerPoolSize
	if size <= 0 {
		size = 8
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("creating search worker pool: %w", err)
	}

	o := &Orchestrator{
		cfg:      cfg,
		mode:     mode,
		algo:     algo,
		engine:   deps.Engine,
		enhancer: deps.Enhancer,
		fusion:   deps.Fusion,
		semantic: deps.Semantic,
		cache:    deps.Cache,
		pool:     pool,
		stats:    newRunningStats(),
		metrics:  deps.Metrics,
		logger:   slog.Default().With("component", "hybrid-orchestrator"),
	}
	o.breaker = resilience.NewCircuitBreaker("semantic-search", resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		ResetTimeout:     cfg.CircuitBreaker.ResetTimeout,
		OnStateChange: func(name string, to resilience.State) {
			o.metrics.SetBreakerState(name, int(to))
		},
	})
	o.metrics.SetBreakerState(o.breaker.Name(), int(resilience.StateClosed))
	return o, nil
}

// Release stops the worker pool.
func (o *Orchestrator) Release() {
	o.pool.Release()
}

// Breaker exposes the semantic circuit breaker for health reporting.
func (o *Orchestrator) Breaker() *resilience.CircuitBreaker {
	return o.breaker
}

// Search runs req. It fails only for invalid requests or when the caller's
// context is cancelled; every collaborator failure degrades the result.
func (o *Orchestrator) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	req, err := o.normalize(req)
	if err != nil {
		return nil, err
	}
	ctx, requestID := logger.EnsureRequestID(ctx)
	ctx, span := tracing.StartSpan(ctx, "search", requestID)
	log := logger.FromContext(ctx).With("component", "hybrid-orchestrator")

	var resp *Response
	if o.cache != nil && o.cfg.CacheResults && !req.NoCache {
		resp, err = o.cached(ctx, req)
	} else {
		resp, err = o.run(ctx, req)
		if resp != nil {
			resp.QueryInfo.Cache = "bypass"
		}
	}
	span.End()
	if err != nil {
		log.Error("search failed", "query", req.Query, "mode", req.Mode, "error", err)
		return nil, err
	}

	stages := span.StageDurations()
	resp.Metrics.TotalMs = millis(time.Since(start))
	resp.Metrics.EnhancementMs = millis(stages[stageEnhancement])
	resp.Metrics.LexicalMs = millis(stages[stageLexical])
	resp.Metrics.SemanticMs = millis(stages[stageSemantic])
	resp.Metrics.FusionMs = millis(stages[stageFusion])
	span.SetAttr("effective_mode", string(resp.QueryInfo.EffectiveMode))
	span.SetAttr("results", len(resp.Results))
	span.Log(log)

	o.stats.record(resp.QueryInfo, time.Since(start), len(resp.Results))
	o.metrics.RecordSearch(string(req.Mode), string(resp.QueryInfo.EffectiveMode), len(resp.Results))
	log.Info("search completed",
		"query", req.Query,
		"mode", req.Mode,
		"effective_mode", resp.QueryInfo.EffectiveMode,
		"results", len(resp.Results),
		"cache", resp.QueryInfo.Cache,
		"duration_ms", resp.Metrics.TotalMs,
	)
	return resp, nil
}

func (o *Orchestrator) normalize(req Request) (Request, error) {
	if req.Mode == "" {
		req.Mode = o.mode
	}
	if _, err := ParseMode(string(req.Mode), o.mode); err != nil {
		return req, err
	}
	if req.TopK <= 0 {
		req.TopK = o.cfg.TopK
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}
	if req.Algorithm == "" {
		req.Algorithm = o.algo
	}
	if _, err := fusion.ParseAlgorithm(string(req.Algorithm)); err != nil {
		return req, err
	}
	if req.SemanticTimeout <= 0 {
		req.SemanticTimeout = o.cfg.SemanticTimeout
	}
	if req.Enhancement == nil {
		def := o.enhancer.Defaults()
		req.Enhancement = &def
	}
	return req, nil
}

// cached serves req through the cache manager. Degraded runs bypass the
// write so a transient semantic outage is not pinned for a whole TTL.
func (o *Orchestrator) cached(ctx context.Context, req Request) (*Response, error) {
	key := o.cacheKey(req)
	res, err := o.cache.GetWithFallback(ctx, key, cacheDataType, func(ctx context.Context) ([]byte, error) {
		resp, err := o.run(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.QueryInfo.DegradationCause != "" {
			return nil, &degraded{resp: resp}
		}
		return json.Marshal(resp)
	})
	if err != nil {
		var d *degraded
		if errors.As(err, &d) {
			out := *d.resp
			out.Results = append([]model.FusionResult(nil), d.resp.Results...)
			out.QueryInfo.Cache = "bypass"
			return &out, nil
		}
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(res.Value, &resp); err != nil {
		o.logger.Warn("dropping undecodable cached response", "key", key, "error", err)
		if _, derr := o.cache.Delete(ctx, key, model.LayerAll); derr != nil {
			o.logger.Warn("failed to delete undecodable cached response", "key", key, "error", derr)
		}
		fresh, err := o.run(ctx, req)
		if err != nil {
			return nil, err
		}
		fresh.QueryInfo.Cache = "bypass"
		return fresh, nil
	}
	resp.QueryInfo.Cache = res.Outcome.String()
	if res.Outcome.Cached() {
		resp.Metrics = Timings{
			LexicalResults:  resp.Metrics.LexicalResults,
			SemanticResults: resp.Metrics.SemanticResults,
		}
	}
	return &resp, nil
}

func (o *Orchestrator) cacheKey(req Request) string {
	weight := ""
	if req.SemanticWeight != nil {
		weight = strconv.FormatFloat(*req.SemanticWeight, 'f', 4, 64)
	}
	filters := ""
	if len(req.Filters) > 0 {
		b, _ := json.Marshal(req.Filters)
		filters = string(b)
	}
	return cache.Key(cacheDataType,
		string(req.Mode),
		req.Query,
		strconv.Itoa(req.TopK),
		string(req.Algorithm),
		optionsKey(*req.Enhancement),
		weight,
		filters,
	)
}

// run executes the uncached pipeline.
func (o *Orchestrator) run(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrQuery, err)
	}

	eq := o.enhance(ctx, req)
	info := QueryInfo{
		Original:      eq.Original,
		Corrected:     eq.Corrected,
		Expanded:      eq.ExpandedTokens,
		Intent:        eq.Intent,
		Confidence:    eq.Confidence,
		Corrections:   eq.Corrections,
		RequestedMode: req.Mode,
		EffectiveMode: req.Mode,
	}

	candidates := max(o.cfg.CandidateK, req.TopK)
	wantLexical := req.Mode != ModeSemantic
	wantSemantic := req.Mode != ModeLexical

	var (
		lexical, semantic []model.SearchResult
		semErr            error
		wg                sync.WaitGroup
	)
	if wantLexical {
		wg.Add(1)
		o.submit(func() {
			defer wg.Done()
			lexical = o.searchLexical(ctx, eq, req.Filters, candidates)
		})
	}
	if wantSemantic {
		wg.Add(1)
		o.submit(func() {
			defer wg.Done()
			semantic, semErr = o.searchSemantic(ctx, eq, req, candidates)
		})
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrQuery, err)
	}

	if wantSemantic && semErr != nil {
		cause := degradationCause(semErr)
		info.EffectiveMode = ModeLexical
		info.DegradationCause = cause
		o.metrics.RecordDegradation(cause)
		logger.FromContext(ctx).Warn("semantic search degraded to lexical-only",
			"query", req.Query,
			"cause", cause,
			"error", semErr,
		)
		semantic = nil
		if !wantLexical {
			lexical = o.searchLexical(ctx, eq, req.Filters, candidates)
		}
	}

	resp := &Response{
		QueryInfo: info,
		Metrics: Timings{
			LexicalResults:  len(lexical),
			SemanticResults: len(semantic),
		},
	}
	resp.Results, resp.QueryInfo.Algorithm, resp.QueryInfo.Weights = o.fuse(ctx, lexical, semantic, eq, req, info.EffectiveMode)
	return resp, nil
}

func (o *Orchestrator) enhance(ctx context.Context, req Request) *model.EnhancedQuery {
	ctx, span := tracing.StartChildSpan(ctx, stageEnhancement)
	eq := o.enhancer.EnhanceWith(ctx, req.Query, *req.Enhancement)
	o.metrics.ObserveStage(stageEnhancement, span.End())
	return eq
}

func (o *Orchestrator) searchLexical(ctx context.Context, eq *model.EnhancedQuery, filters map[string]any, topK int) []model.SearchResult {
	_, span := tracing.StartChildSpan(ctx, stageLexical)
	results := o.engine.Search(eq.Text(), indexer.SearchOptions{TopK: topK})
	results = applyFilters(results, filters)
	span.SetAttr("results", len(results))
	o.metrics.ObserveStage(stageLexical, span.End())
	return results
}

func (o *Orchestrator) searchSemantic(ctx context.Context, eq *model.EnhancedQuery, req Request, topK int) ([]model.SearchResult, error) {
	ctx, span := tracing.StartChildSpan(ctx, stageSemantic)
	defer func() { o.metrics.ObserveStage(stageSemantic, span.End()) }()
	if o.semantic == nil {
		return nil, errSemanticUnavailable
	}

	var results []model.SearchResult
	err := o.breaker.Execute(func() error {
		var err error
		results, err = resilience.WithTimeout(ctx, req.SemanticTimeout, "semantic search",
			func(ctx context.Context) ([]model.SearchResult, error) {
				return o.semantic.Search(ctx, eq.Corrected, req.Filters, topK)
			})
		return err
	})
	if err != nil {
		span.SetAttr("error", err.Error())
		return nil, err
	}
	for i := range results {
		results[i].SearchMethod = model.MethodSemantic
	}
	span.SetAttr("results", len(results))
	return results, nil
}

func (o *Orchestrator) fuse(ctx context.Context, lexical, semantic []model.SearchResult, eq *model.EnhancedQuery, req Request, mode Mode) ([]model.FusionResult, fusion.Algorithm, *fusion.Weights) {
	_, span := tracing.StartChildSpan(ctx, stageFusion)
	defer func() { o.metrics.ObserveStage(stageFusion, span.End()) }()

	switch mode {
	case ModeLexical:
		return fusion.FromSingle(lexical, model.MethodLexical, req.TopK), "", nil
	case ModeSemantic:
		return fusion.FromSingle(semantic, model.MethodSemantic, req.TopK), "", nil
	}
	out := o.fusion.Fuse(lexical, semantic, req.Algorithm, fusion.QueryMeta{
		Intent:         eq.Intent,
		TokenCount:     len(eq.Tokens),
		SemanticWeight: req.SemanticWeight,
	}, req.TopK)
	span.SetAttr("algorithm", string(out.Algorithm))
	weights := out.Weights
	return out.Results, out.Algorithm, &weights
}

// submit runs fn on the worker pool, or inline when the pool is closed.
func (o *Orchestrator) submit(fn func()) {
	if err := o.pool.Submit(fn); err != nil {
		o.logger.Warn("worker pool rejected task, running inline", "error", err)
		fn()
	}
}

// Stats returns the running statistics across all searches.
func (o *Orchestrator) Stats() Stats {
	return o.stats.snapshot()
}

var errSemanticUnavailable = errors.New("no semantic searcher configured")

func degradationCause(err error) string {
	switch {
	case errors.Is(err, errSemanticUnavailable):
		return causeUnavailable
	case errors.Is(err, resilience.ErrCircuitOpen):
		return causeCircuitOpen
	case errors.Is(err, apperrors.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return causeTimeout
	default:
		return causeError
	}
}

// applyFilters keeps results whose metadata carries every filter value.
func applyFilters(results []model.SearchResult, filters map[string]any) []model.SearchResult {
	if len(filters) == 0 {
		return results
	}
	out := results[:0:0]
	for _, r := range results {
		if matches(r.Metadata, filters) {
			out = append(out, r)
		}
	}
	return out
}

func matches(meta, filters map[string]any) bool {
	for k, want := range filters {
		got, ok := meta[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func optionsKey(o enhancer.Options) string {
	return fmt.Sprintf("sc=%t,ex=%t,in=%t", o.SpellCorrection, o.Expansion, o.IntentDetection)
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
