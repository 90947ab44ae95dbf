package cache

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestL1(t *testing.T, entries int, bytes int64, clock *fakeClock) *L1 {
	t.Helper()
	l1, err := NewL1(entries, bytes, clock.Now, nil)
	require.NoError(t, err)
	return l1
}

func TestL1_PutGet(t *testing.T) {
	l1 := newTestL1(t, 10, 1<<10, newFakeClock())

	require.NoError(t, l1.Put("search:a", []byte("alpha"), time.Minute))
	v, ok := l1.Get("search:a")
	require.True(t, ok)
	assert.Equal(t, "alpha", string(v))

	v[0] = 'X'
	again, _ := l1.Get("search:a")
	assert.Equal(t, "alpha", string(again), "returned values must be copies")

	_, ok = l1.Get("search:missing")
	assert.False(t, ok)

	s := l1.Stats()
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, 1, s.Entries)
	assert.Equal(t, int64(len("search:a")+len("alpha")), s.Bytes)
}

func TestL1_EntryMetadata(t *testing.T) {
	clock := newFakeClock()
	l1 := newTestL1(t, 10, 1<<10, clock)
	require.NoError(t, l1.Put("k", []byte("v"), time.Minute))

	clock.Advance(10 * time.Second)
	e, ok := l1.GetEntry("k")
	require.True(t, ok)
	assert.Equal(t, int64(1), e.AccessCount)
	assert.Equal(t, clock.Now(), e.LastAccessed)
	assert.Equal(t, 50*time.Second, e.Remaining(clock.Now()))
}

func TestL1_TTLExpiry(t *testing.T) {
	clock := newFakeClock()
	l1 := newTestL1(t, 10, 1<<10, clock)

	require.NoError(t, l1.Put("short", []byte("1"), time.Second))
	require.NoError(t, l1.Put("forever", []byte("2"), 0))

	clock.Advance(1100 * time.Millisecond)
	_, ok := l1.Get("short")
	assert.False(t, ok)
	_, ok = l1.Get("forever")
	assert.True(t, ok)
	assert.Equal(t, int64(1), l1.Stats().Expirations)
}

func TestL1_MutationSweepsExpired(t *testing.T) {
	clock := newFakeClock()
	l1 := newTestL1(t, 10, 1<<10, clock)

	require.NoError(t, l1.Put("a", []byte("1"), time.Minute))
	require.NoError(t, l1.Put("b", []byte("2"), time.Hour))
	clock.Advance(2 * time.Minute)

	require.NoError(t, l1.Put("c", []byte("3"), 0))
	assert.ElementsMatch(t, []string{"b", "c"}, l1.Keys())
	assert.Equal(t, int64(4), l1.Bytes())
}

func TestL1_Sweep(t *testing.T) {
	clock := newFakeClock()
	l1 := newTestL1(t, 10, 1<<10, clock)
	require.NoError(t, l1.Put("a", []byte("1"), time.Minute))
	require.NoError(t, l1.Put("b", []byte("2"), 0))

	assert.Equal(t, 0, l1.Sweep())
	clock.Advance(time.Minute)
	assert.Equal(t, 1, l1.Sweep())
	assert.Equal(t, 1, l1.Len())
}

func TestL1_LRUOrderIgnoresTTL(t *testing.T) {
	l1 := newTestL1(t, 2, 1<<10, newFakeClock())

	require.NoError(t, l1.Put("a", []byte("1"), time.Hour))
	require.NoError(t, l1.Put("b", []byte("2"), time.Second))
	_, ok := l1.Get("a")
	require.True(t, ok)

	require.NoError(t, l1.Put("c", []byte("3"), time.Hour))
	assert.Equal(t, []string{"a", "c"}, l1.Keys())
	assert.Equal(t, int64(1), l1.Stats().Evictions)
}

func TestL1_ByteBudget(t *testing.T) {
	l1 := newTestL1(t, 100, 20, newFakeClock())

	require.NoError(t, l1.Put("k1", []byte("12345678"), 0))
	require.NoError(t, l1.Put("k2", []byte("12345678"), 0))
	assert.Equal(t, int64(20), l1.Bytes())

	require.NoError(t, l1.Put("k3", []byte("12345678"), 0))
	assert.Equal(t, []string{"k2", "k3"}, l1.Keys())
	assert.Equal(t, int64(20), l1.Bytes())
}

func TestL1_RejectsOversizedValue(t *testing.T) {
	l1 := newTestL1(t, 10, 16, newFakeClock())
	require.NoError(t, l1.Put("keep", []byte("x"), 0))

	err := l1.Put("big", []byte(strings.Repeat("x", 32)), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooLarge))
	assert.True(t, errors.Is(err, apperrors.ErrCacheWrite))

	assert.Equal(t, []string{"keep"}, l1.Keys())
	assert.Equal(t, int64(1), l1.Stats().Rejections)
}

func TestL1_ReplaceAdjustsBytes(t *testing.T) {
	l1 := newTestL1(t, 10, 1<<10, newFakeClock())
	require.NoError(t, l1.Put("k", []byte("12345"), 0))
	require.NoError(t, l1.Put("k", []byte("12"), 0))
	assert.Equal(t, int64(3), l1.Bytes())
	assert.Equal(t, 1, l1.Len())
}

func TestL1_DeleteMatching(t *testing.T) {
	l1 := newTestL1(t, 10, 1<<10, newFakeClock())
	for _, k := range []string{"search:a", "search:b", "doc:1", "embedding:1"} {
		require.NoError(t, l1.Put(k, []byte("v"), 0))
	}

	p, err := ParsePattern("search:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"search:a", "search:b"}, l1.DeleteMatching(p))
	assert.ElementsMatch(t, []string{"doc:1", "embedding:1"}, l1.Keys())

	assert.True(t, l1.Delete("doc:1"))
	assert.False(t, l1.Delete("doc:1"))
}

func TestL1_Purge(t *testing.T) {
	l1 := newTestL1(t, 10, 1<<10, newFakeClock())
	require.NoError(t, l1.Put("a", []byte("1"), time.Minute))
	l1.Purge()
	assert.Equal(t, 0, l1.Len())
	assert.Equal(t, int64(0), l1.Bytes())
}

func TestNewL1_RejectsNonPositiveLimits(t *testing.T) {
	_, err := NewL1(0, 10, nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = NewL1(10, 0, nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestL1_ConcurrentAccess(t *testing.T) {
	l1 := newTestL1(t, 64, 1<<12, newFakeClock())
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := string(rune('a' + (i+w)%26))
				_ = l1.Put(key, []byte("value"), time.Minute)
				l1.Get(key)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, l1.Len(), 26)
	assert.LessOrEqual(t, l1.Bytes(), int64(1<<12))
}
