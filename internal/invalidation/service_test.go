package invalidation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
	pkgredis "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/redis"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.InvalidationEvent
}

func (p *recordingPublisher) PublishAudit(_ context.Context, events []model.InvalidationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// newTestCache returns a cache manager backed by an in-process L1 and a
// miniredis L2.
func newTestCache(t *testing.T) (*cache.Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := pkgredis.NewClient(config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	l1, err := cache.NewL1(100, 1<<16, nil, nil)
	require.NoError(t, err)
	l2 := cache.NewRedisStore(client, "test:", nil)
	return cache.NewManager(l1, l2, cache.NewPolicies(nil, cache.Policy{L1TTL: time.Hour, L2TTL: time.Hour}), cache.Options{}), mr
}

func putKeys(t *testing.T, m *cache.Manager, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, m.Put(context.Background(), k, cache.DataTypeOf(k), []byte("value of "+k)))
	}
}

func TestService_Invalidate(t *testing.T) {
	m, mr := newTestCache(t)
	pub := &recordingPublisher{}
	svc := NewService(m, Options{Publisher: pub})
	ctx := context.Background()
	putKeys(t, m, "doc:1", "doc:2")

	ev, err := svc.Invalidate(ctx, "doc:1", model.LayerAll, model.ReasonManual)
	require.NoError(t, err)
	_, parseErr := uuid.Parse(ev.ID)
	assert.NoError(t, parseErr)
	assert.Equal(t, "doc", ev.DataType)
	assert.Equal(t, "doc:1", ev.Key)
	assert.Equal(t, model.ReasonManual, ev.Reason)
	assert.Equal(t, []string{"l1", "l2"}, ev.AffectedLayers)
	assert.Equal(t, 2, ev.Removed)

	_, ok := m.Get(ctx, "doc:1")
	assert.False(t, ok)
	assert.False(t, mr.Exists("test:doc:1"))
	assert.True(t, mr.Exists("test:doc:2"))

	assert.Equal(t, 1, pub.count())
	s := svc.Stats()
	assert.Equal(t, int64(1), s.Total)
	assert.Equal(t, int64(1), s.ByReason[model.ReasonManual])
}

func TestService_InvalidateL1Only(t *testing.T) {
	m, mr := newTestCache(t)
	svc := NewService(m, Options{})
	putKeys(t, m, "doc:1")

	ev, err := svc.Invalidate(context.Background(), "doc:1", model.LayerL1, model.ReasonForcedRefresh)
	require.NoError(t, err)
	assert.Equal(t, []string{"l1"}, ev.AffectedLayers)
	assert.Empty(t, m.L1().Keys())
	assert.True(t, mr.Exists("test:doc:1"))
}

func TestService_InvalidatePattern(t *testing.T) {
	m, _ := newTestCache(t)
	svc := NewService(m, Options{})
	ctx := context.Background()
	putKeys(t, m, "search:a", "search:b", "doc:1")

	ev, err := svc.InvalidatePattern(ctx, "search:*", model.LayerL1, model.ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, 2, ev.Removed)
	assert.Equal(t, []string{"l1"}, ev.AffectedLayers)
	assert.Equal(t, []string{"doc:1"}, m.L1().Keys())
}

func TestService_InvalidatePatternOnDurableTierIsUnsupported(t *testing.T) {
	m, mr := newTestCache(t)
	svc := NewService(m, Options{})
	putKeys(t, m, "search:a")

	ev, err := svc.InvalidatePattern(context.Background(), "search:*", model.LayerAll, model.ReasonManual)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDurablePatternUnsupported)
	assert.Equal(t, 1, ev.Removed, "the L1 portion still runs")
	assert.Empty(t, m.L1().Keys())
	assert.True(t, mr.Exists("test:search:a"))
}

func TestService_InvalidatePatternRejectsBadPattern(t *testing.T) {
	m, _ := newTestCache(t)
	svc := NewService(m, Options{})
	_, err := svc.InvalidatePattern(context.Background(), "a*b*", model.LayerL1, model.ReasonManual)
	assert.ErrorIs(t, err, apperrors.ErrInvalidation)
	assert.Equal(t, int64(1), svc.Stats().Failures)
}

func TestService_InvalidateDataType(t *testing.T) {
	m, _ := newTestCache(t)
	svc := NewService(m, Options{})
	putKeys(t, m, "embedding:1", "embedding:2", "search:a")

	ev, err := svc.InvalidateDataType(context.Background(), "embedding", model.ReasonForcedRefresh)
	require.NoError(t, err)
	assert.Equal(t, "embedding", ev.DataType)
	assert.Equal(t, 2, ev.Removed)
	assert.Equal(t, []string{"search:a"}, m.L1().Keys())
}

func TestService_AuditLogIsBounded(t *testing.T) {
	m, _ := newTestCache(t)
	svc := NewService(m, Options{AuditLogSize: 3})
	ctx := context.Background()
	for _, k := range []string{"a:1", "a:2", "a:3", "a:4", "a:5"} {
		_, err := svc.Invalidate(ctx, k, model.LayerL1, model.ReasonManual)
		require.NoError(t, err)
	}

	history := svc.History(0)
	require.Len(t, history, 3)
	assert.Equal(t, "a:3", history[0].Key)
	assert.Equal(t, "a:5", history[2].Key)

	last := svc.History(2)
	require.Len(t, last, 2)
	assert.Equal(t, "a:4", last[0].Key)
	assert.Equal(t, int64(5), svc.Stats().Total)
	assert.Equal(t, 3, svc.Stats().AuditEntries)
}

type fakeCache struct {
	mu     sync.Mutex
	sweeps int
}

func (f *fakeCache) Delete(context.Context, string, model.Layer) (int, error) { return 0, nil }
func (f *fakeCache) DeletePattern(string) ([]string, error) { return nil, nil }
func (f *fakeCache) Sweep(context.Context) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 1, 2, nil
}

func (f *fakeCache) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

func TestService_Sweep(t *testing.T) {
	fc := &fakeCache{}
	svc := NewService(fc, Options{})
	n, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(3), svc.Stats().SweptEntries)
}

func TestService_RunSweeperStopsOnCancel(t *testing.T) {
	fc := &fakeCache{}
	svc := NewService(fc, Options{SweepInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		svc.RunSweeper(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return fc.count() >= 2 }, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}
