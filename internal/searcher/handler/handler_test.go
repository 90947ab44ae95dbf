package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/fusion"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/hybrid"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/invalidation"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
)

type fakeSearcher struct {
	last hybrid.Request
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, req hybrid.Request) (*hybrid.Response, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &hybrid.Response{
		Results:   []model.FusionResult{{DocumentID: "a", Rank: 1, FusedScore: 0.5}},
		QueryInfo: hybrid.QueryInfo{Original: req.Query, EffectiveMode: hybrid.ModeHybrid, Cache: "bypass"},
	}, nil
}

func (f *fakeSearcher) Stats() hybrid.Stats {
	return hybrid.Stats{Searches: 7, ByMode: map[hybrid.Mode]int64{hybrid.ModeHybrid: 7}}
}

type call struct {
	op     string
	target string
	layers model.Layer
	reason model.Reason
}

type fakeInvalidator struct {
	calls []call
	err   error
}

func (f *fakeInvalidator) event(op, target string, layers model.Layer, reason model.Reason) (model.InvalidationEvent, error) {
	f.calls = append(f.calls, call{op: op, target: target, layers: layers, reason: reason})
	if f.err != nil {
		return model.InvalidationEvent{}, f.err
	}
	return model.InvalidationEvent{ID: "ev-1", Key: target, Reason: reason, Timestamp: time.Unix(0, 0).UTC(), AffectedLayers: layers.Names(), Removed: 1}, nil
}

func (f *fakeInvalidator) Invalidate(_ context.Context, key string, layers model.Layer, reason model.Reason) (model.InvalidationEvent, error) {
	return f.event("key", key, layers, reason)
}

func (f *fakeInvalidator) InvalidatePattern(_ context.Context, pattern string, layers model.Layer, reason model.Reason) (model.InvalidationEvent, error) {
	return f.event("pattern", pattern, layers, reason)
}

func (f *fakeInvalidator) InvalidateDataType(_ context.Context, dataType string, reason model.Reason) (model.InvalidationEvent, error) {
	return f.event("data_type", dataType, model.LayerL1, reason)
}

func (f *fakeInvalidator) History(limit int) []model.InvalidationEvent {
	out := []model.InvalidationEvent{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	if limit < len(out) {
		out = out[len(out)-limit:]
	}
	return out
}

func (f *fakeInvalidator) Stats() invalidation.Stats {
	return invalidation.Stats{Total: int64(len(f.calls))}
}

func newServer(s Searcher, opts Options) *http.ServeMux {
	mux := http.NewServeMux()
	New(s, opts).Register(mux)
	return mux
}

func do(t *testing.T, mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSearch_ParsesParameters(t *testing.T) {
	s := &fakeSearcher{}
	mux := newServer(s, Options{MaxTopK: 20})

	rec := do(t, mux, http.MethodGet,
		"/api/v1/search?q=machine+learning&mode=lexical&top_k=50&algorithm=borda&semantic_weight=0.3&no_cache=true&spell=false&filter.category=ml", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "machine learning", s.last.Query)
	assert.Equal(t, hybrid.ModeLexical, s.last.Mode)
	assert.Equal(t, 20, s.last.TopK, "top_k is capped")
	assert.Equal(t, fusion.AlgorithmBorda, s.last.Algorithm)
	require.NotNil(t, s.last.SemanticWeight)
	assert.InDelta(t, 0.3, *s.last.SemanticWeight, 1e-9)
	assert.True(t, s.last.NoCache)
	require.NotNil(t, s.last.Enhancement)
	assert.False(t, s.last.Enhancement.SpellCorrection)
	assert.True(t, s.last.Enhancement.Expansion)
	assert.Equal(t, map[string]any{"category": "ml"}, s.last.Filters)

	var resp hybrid.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "a", resp.Results[0].DocumentID)
	assert.Equal(t, "machine learning", resp.QueryInfo.Original)
}

func TestSearch_DefaultsLeaveEnhancementToOrchestrator(t *testing.T) {
	s := &fakeSearcher{}
	rec := do(t, newServer(s, Options{}), http.MethodGet, "/api/v1/search?q=hello", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, s.last.Enhancement)
	assert.Nil(t, s.last.Filters)
	assert.Zero(t, s.last.TopK)
}

func TestSearch_BadRequests(t *testing.T) {
	mux := newServer(&fakeSearcher{}, Options{})
	for _, target := range []string{
		"/api/v1/search",
		"/api/v1/search?q=x&top_k=0",
		"/api/v1/search?q=x&semantic_weight=2",
		"/api/v1/search?q=x&semantic_weight=NaN",
		"/api/v1/search?q=x&semantic_weight=-Inf",
		"/api/v1/search?q=x&no_cache=maybe",
		"/api/v1/search?q=x&expand=sometimes",
	} {
		t.Run(target, func(t *testing.T) {
			rec := do(t, mux, http.MethodGet, target, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestSearch_MapsErrors(t *testing.T) {
	s := &fakeSearcher{err: apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown search mode")}
	rec := do(t, newServer(s, Options{}), http.MethodGet, "/api/v1/search?q=x&mode=fuzzy", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidate(t *testing.T) {
	inv := &fakeInvalidator{}
	mux := newServer(&fakeSearcher{}, Options{Invalidator: inv})

	rec := do(t, mux, http.MethodPost, "/api/v1/cache/invalidate", `{"key":"doc:1","layers":["l1"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, mux, http.MethodPost, "/api/v1/cache/invalidate", `{"pattern":"search:*","reason":"forcedRefresh"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, mux, http.MethodPost, "/api/v1/cache/invalidate", `{"data_type":"embedding"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, inv.calls, 3)
	assert.Equal(t, call{op: "key", target: "doc:1", layers: model.LayerL1, reason: model.ReasonManual}, inv.calls[0])
	assert.Equal(t, call{op: "pattern", target: "search:*", layers: model.LayerAll, reason: model.ReasonForcedRefresh}, inv.calls[1])
	assert.Equal(t, "data_type", inv.calls[2].op)

	var ev model.InvalidationEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ev))
	assert.Equal(t, "embedding", ev.Key)
}

func TestInvalidate_Rejects(t *testing.T) {
	inv := &fakeInvalidator{}
	mux := newServer(&fakeSearcher{}, Options{Invalidator: inv})

	for _, body := range []string{
		`{`,
		`{}`,
		`{"key":"a","pattern":"b*"}`,
		`{"key":"a","layers":["l3"]}`,
	} {
		rec := do(t, mux, http.MethodPost, "/api/v1/cache/invalidate", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, inv.calls)

	inv.err = apperrors.ErrDurablePatternUnsupported
	rec := do(t, mux, http.MethodPost, "/api/v1/cache/invalidate", `{"pattern":"doc:*","layers":["all"]}`)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	disabled := newServer(&fakeSearcher{}, Options{})
	rec = do(t, disabled, http.MethodPost, "/api/v1/cache/invalidate", `{"key":"a"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAudit(t *testing.T) {
	mux := newServer(&fakeSearcher{}, Options{Invalidator: &fakeInvalidator{}})

	rec := do(t, mux, http.MethodGet, "/api/v1/cache/audit?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []model.InvalidationEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "2", events[0].ID)

	rec = do(t, mux, http.MethodGet, "/api/v1/cache/audit?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	mux := newServer(&fakeSearcher{}, Options{Invalidator: &fakeInvalidator{}})
	rec := do(t, mux, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "search")
	assert.Contains(t, body, "invalidation")
	assert.NotContains(t, body, "cache")
	assert.NotContains(t, body, "index")
}
