package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/metrics"
)

func TestRequestID_PropagatesOrAssigns(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = logger.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	req.Header.Set(RequestIDHeader, "caller-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "caller-42", seen)
	assert.Equal(t, "caller-42", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search", nil))
	require.NotEmpty(t, seen)
	assert.NotEqual(t, "caller-42", seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}

func TestTimeout_AnswersGatewayTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		<-release
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	Timeout(20*time.Millisecond)(slow).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/search", nil))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.JSONEq(t, `{"error":"request timeout"}`, rec.Body.String())
}

func TestTimeout_FastHandlerUnaffected(t *testing.T) {
	fast := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline := r.Context().Deadline()
		assert.True(t, hasDeadline)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	})

	rec := httptest.NewRecorder()
	Timeout(time.Second)(fast).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	h := Timeout(0)(fast)
	_, isPlain := h.(http.HandlerFunc)
	assert.True(t, isPlain, "zero timeout leaves the handler unwrapped")
}

func TestTimeoutWriter_DropsLateWrites(t *testing.T) {
	rec := httptest.NewRecorder()
	tw := &timeoutWriter{ResponseWriter: rec}
	require.True(t, tw.expire())

	tw.WriteHeader(http.StatusOK)
	_, err := tw.Write([]byte("late"))
	assert.ErrorIs(t, err, http.ErrHandlerTimeout)
	assert.Empty(t, rec.Body.String())

	started := &timeoutWriter{ResponseWriter: httptest.NewRecorder()}
	_, _ = started.Write([]byte("x"))
	assert.False(t, started.expire(), "a started response is not replaced")
}

func TestMetrics_LabelsByRoutePattern(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	chain := Metrics(m, mux)(Timeout(time.Second)(mux))
	for _, path := range []string{"/documents/a", "/documents/b?x=1"} {
		chain.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	chain.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "GET /documents/{id}", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HTTPRequestsInFlight))
	assert.Equal(t, 2, testutil.CollectAndCount(m.HTTPRequestDuration))
}

func TestMetrics_NilDisables(t *testing.T) {
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	h := Metrics(nil, nil)(next)
	_, isPlain := h.(http.HandlerFunc)
	assert.True(t, isPlain)
}

func TestLimiter_TokenBucketPerKey(t *testing.T) {
	l := NewLimiter(1, 2, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"), "burst exhausted")
	assert.True(t, l.Allow("b"), "keys have separate buckets")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"), "one token refilled")
	assert.False(t, l.Allow("a"))

	l.Reset("a")
	assert.True(t, l.Allow("a"))
}

func TestLimiter_SweepDropsIdleBuckets(t *testing.T) {
	l := NewLimiter(1, 1, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	l.Allow("old")
	now = now.Add(2 * time.Minute)
	l.Allow("fresh")
	assert.Equal(t, 1, l.Sweep())
	assert.True(t, l.Allow("old"), "a swept key starts with a full bucket")
}

func TestRateLimit_RejectsOverBudget(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RateLimit(NewLimiter(0.5, 1, time.Minute))(ok)

	send := func(path, remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("/api/v1/search", "10.0.0.1:5000").Code)
	rec := send("/api/v1/search", "10.0.0.1:5001")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, send("/api/v1/search", "10.0.0.2:5000").Code)
	assert.Equal(t, http.StatusOK, send("/health/live", "10.0.0.1:5002").Code)
	assert.Equal(t, http.StatusOK, send("/metrics", "10.0.0.1:5003").Code)

	_, isPlain := RateLimit(nil)(ok).(http.HandlerFunc)
	assert.True(t, isPlain)
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	h := CORS(DefaultCORSConfig("https://app.example"))(next)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/search", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), RequestIDHeader)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	_, isPlain := CORS(DefaultCORSConfig())(next).(http.HandlerFunc)
	assert.True(t, isPlain, "no origins leaves the handler unwrapped")
}
