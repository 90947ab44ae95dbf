// Package handler exposes the hybrid search entry point and the manual
// cache invalidation operations over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/enhancer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/fusion"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/hybrid"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/invalidation"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/logger"
)

const (
	defaultMaxTopK    = 100
	defaultAuditLimit = 50
	filterPrefix      = "filter."
)

type Searcher interface {
	Search(ctx context.Context, req hybrid.Request) (*hybrid.Response, error)
	Stats() hybrid.Stats
}

// Invalidator is the manual side of the invalidation service.
type Invalidator interface {
	Invalidate(ctx context.Context, key string, layers model.Layer, reason model.Reason) (model.InvalidationEvent, error)
	InvalidatePattern(ctx context.Context, pattern string, layers model.Layer, reason model.Reason) (model.InvalidationEvent, error)
	InvalidateDataType(ctx context.Context, dataType string, reason model.Reason) (model.InvalidationEvent, error)
	History(limit int) []model.InvalidationEvent
	Stats() invalidation.Stats
}

// Options wires the optional collaborators whose state the stats endpoint
// reports. Any of them may be nil.
type Options struct {
	Invalidator Invalidator
	Cache       *cache.Manager
	Engine      *indexer.Engine
	Worker      *invalidation.Worker
	MaxTopK     int
}

type Handler struct {
	searcher Searcher
	opts     Options
	logger   *slog.Logger
}

func New(searcher Searcher, opts Options) *Handler {
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = defaultMaxTopK
	}
	return &Handler{
		searcher: searcher,
		opts:     opts,
		logger:   slog.Default().With("component", "search-handler"),
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.Invalidate)
	mux.HandleFunc("GET /api/v1/cache/audit", h.Audit)
}

// Search runs one hybrid search from query parameters:
//
//	q, mode, top_k, algorithm, semantic_weight, no_cache,
//	spell, expand, intent, filter.<field>=<value>
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseSearch(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp, err := h.searcher.Search(r.Context(), req)
	if err != nil {
		logger.FromContext(r.Context()).Error("search failed", "query", req.Query, "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) parseSearch(r *http.Request) (hybrid.Request, error) {
	q := r.URL.Query()
	req := hybrid.Request{Query: strings.TrimSpace(q.Get("q"))}
	if req.Query == "" {
		return req, badRequest("query parameter 'q' is required")
	}
	req.Mode = hybrid.Mode(q.Get("mode"))
	req.Algorithm = fusion.Algorithm(q.Get("algorithm"))

	if v := q.Get("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return req, badRequest("top_k must be a positive integer")
		}
		req.TopK = min(n, h.opts.MaxTopK)
	}
	if v := q.Get("semantic_weight"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || f < 0 || f > 1 {
			return req, badRequest("semantic_weight must be a number in [0,1]")
		}
		req.SemanticWeight = &f
	}
	if v := q.Get("no_cache"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, badRequest("no_cache must be a boolean")
		}
		req.NoCache = b
	}

	stages := map[string]*bool{}
	var opts enhancer.Options
	stages["spell"] = &opts.SpellCorrection
	stages["expand"] = &opts.Expansion
	stages["intent"] = &opts.IntentDetection
	overridden := false
	for name, dst := range stages {
		v := q.Get(name)
		if v == "" {
			*dst = true
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, badRequest(name + " must be a boolean")
		}
		*dst = b
		overridden = true
	}
	if overridden {
		req.Enhancement = &opts
	}

	for name, values := range q {
		if field, ok := strings.CutPrefix(name, filterPrefix); ok && field != "" && len(values) > 0 {
			if req.Filters == nil {
				req.Filters = make(map[string]any)
			}
			req.Filters[field] = values[0]
		}
	}
	return req, nil
}

type statsResponse struct {
	Search       hybrid.Stats              `json:"search"`
	Index        any                       `json:"index,omitempty"`
	Cache        *cache.Stats              `json:"cache,omitempty"`
	Invalidation *invalidation.Stats       `json:"invalidation,omitempty"`
	Worker       *invalidation.WorkerStats `json:"invalidation_worker,omitempty"`
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	out := statsResponse{Search: h.searcher.Stats()}
	if h.opts.Engine != nil {
		out.Index = h.opts.Engine.Stats()
	}
	if h.opts.Cache != nil {
		s := h.opts.Cache.Stats()
		out.Cache = &s
	}
	if h.opts.Invalidator != nil {
		s := h.opts.Invalidator.Stats()
		out.Invalidation = &s
	}
	if h.opts.Worker != nil {
		s := h.opts.Worker.Stats()
		out.Worker = &s
	}
	h.writeJSON(w, http.StatusOK, out)
}

type invalidateRequest struct {
	Key      string   `json:"key"`
	Pattern  string   `json:"pattern"`
	DataType string   `json:"data_type"`
	Layers   []string `json:"layers"`
	Reason   string   `json:"reason"`
}

// Invalidate evicts a key, an L1 pattern or a whole data type. Exactly one
// of key, pattern and data_type must be set.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	if h.opts.Invalidator == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "caching is disabled"})
		return
	}
	var body invalidateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		h.writeError(w, badRequest("invalid JSON body: "+err.Error()))
		return
	}
	set := 0
	for _, v := range []string{body.Key, body.Pattern, body.DataType} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		h.writeError(w, badRequest("exactly one of key, pattern and data_type is required"))
		return
	}
	layers, err := parseLayers(body.Layers)
	if err != nil {
		h.writeError(w, err)
		return
	}
	reason := model.ReasonManual
	if body.Reason != "" {
		reason = model.Reason(body.Reason)
	}

	ctx := r.Context()
	var ev model.InvalidationEvent
	switch {
	case body.Key != "":
		ev, err = h.opts.Invalidator.Invalidate(ctx, body.Key, layers, reason)
	case body.Pattern != "":
		ev, err = h.opts.Invalidator.InvalidatePattern(ctx, body.Pattern, layers, reason)
	default:
		ev, err = h.opts.Invalidator.InvalidateDataType(ctx, body.DataType, reason)
	}
	if err != nil {
		logger.FromContext(ctx).Error("cache invalidation failed", "request", body, "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ev)
}

// Audit returns the most recent invalidation events, oldest first.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	if h.opts.Invalidator == nil {
		h.writeJSON(w, http.StatusOK, []model.InvalidationEvent{})
		return
	}
	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, badRequest("limit must be a positive integer"))
			return
		}
		limit = n
	}
	events := h.opts.Invalidator.History(limit)
	if events == nil {
		events = []model.InvalidationEvent{}
	}
	h.writeJSON(w, http.StatusOK, events)
}

func parseLayers(names []string) (model.Layer, error) {
	if len(names) == 0 {
		return model.LayerAll, nil
	}
	var l model.Layer
	for _, n := range names {
		switch strings.ToLower(n) {
		case "l1":
			l |= model.LayerL1
		case "l2":
			l |= model.LayerL2
		case "all":
			l |= model.LayerAll
		default:
			return 0, badRequest(fmt.Sprintf("unknown cache layer %q", n))
		}
	}
	return l, nil
}

func badRequest(msg string) error {
	return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, msg)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, apperrors.HTTPStatusCode(err), map[string]string{"error": err.Error()})
}
