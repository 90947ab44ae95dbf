// Package cache implements the two-tier result cache. L1 is an in-process LRU
// bounded by entries and bytes; L2 is a durable Store (Redis or Badger). The
// Manager reads L1 then L2, promotes L2 hits into L1 with a shorter TTL, and
// applies per-data-type TTL policies including stale-while-revalidate and
// serve-stale-on-error.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/metrics"
)

const (
	tierL2                = "l2"
	defaultStaleRetention = 10000
	defaultRefreshTimeout = 30 * time.Second
)

// Outcome tags where a GetWithFallback value came from.
type Outcome int

const (
	OutcomeMiss Outcome = iota
	OutcomeHitL1
	OutcomeHitL2
	OutcomeFetched
	OutcomeStale
	OutcomeStaleOnError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHitL1:
		return "hit_l1"
	case OutcomeHitL2:
		return "hit_l2"
	case OutcomeFetched:
		return "fetched"
	case OutcomeStale:
		return "stale"
	case OutcomeStaleOnError:
		return "stale_on_error"
	default:
		return "miss"
	}
}

// Cached reports whether the value was served without calling fetch.
func (o Outcome) Cached() bool {
	return o == OutcomeHitL1 || o == OutcomeHitL2 || o == OutcomeStale || o == OutcomeStaleOnError
}

// FetchFunc produces a fresh value on a full miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Result is a value plus its provenance.
type Result struct {
	Value   []byte
	Outcome Outcome
}

type staleValue struct {
	value  []byte
	served bool
}

// Stats aggregates both tiers and the manager's own counters.
type Stats struct {
	L1              TierStats `json:"l1"`
	L2Backend       string    `json:"l2_backend"`
	L2Hits          int64     `json:"l2_hits"`
	L2Misses        int64     `json:"l2_misses"`
	L2Errors        int64     `json:"l2_errors"`
	Fetches         int64     `json:"fetches"`
	FetchErrors     int64     `json:"fetch_errors"`
	StaleServed     int64     `json:"stale_served"`
	StaleOnError    int64     `json:"stale_on_error"`
	Refreshes       int64     `json:"refreshes"`
	RetainedEntries int       `json:"retained_entries"`
}

type Options struct {
	PromotionTTL   time.Duration
	OpTimeout      time.Duration
	StaleRetention int
	RefreshTimeout time.Duration
	Clock          Clock
	Metrics        *metrics.Metrics
}

// OptionsFromConfig maps cache configuration onto manager options.
func OptionsFromConfig(cfg config.CacheConfig, m *metrics.Metrics) Options {
	return Options{
		PromotionTTL:   cfg.PromotionTTL,
		OpTimeout:      cfg.OpTimeout,
		StaleRetention: cfg.StaleRetention,
		Metrics:        m,
	}
}

type Manager struct {
	l1       *L1
	l2       Store
	policies Policies
	opts     Options
	now      Clock

	lastKnown *lru.Cache[string, staleValue]
	group     singleflight.Group
	refreshes sync.WaitGroup

	l2Hits, l2Misses, l2Errors atomic.Int64
	fetches, fetchErrors       atomic.Int64
	staleServed, staleOnError  atomic.Int64
	refreshCount               atomic.Int64

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewManager composes l1 and an optional l2 (nil disables the durable tier).
func NewManager(l1 *L1, l2 Store, policies Policies, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.StaleRetention <= 0 {
		opts.StaleRetention = defaultStaleRetention
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}
	lastKnown, _ := lru.New[string, staleValue](opts.StaleRetention)
	return &Manager{
		l1:        l1,
		l2:        l2,
		policies:  policies,
		opts:      opts,
		now:       opts.Clock,
		lastKnown: lastKnown,
		metrics:   opts.Metrics,
		logger:    slog.Default().With("component", "cache-manager"),
	}
}

func (m *Manager) L1() *L1 { return m.l1 }

// L2 returns the durable tier, or nil when it is disabled.
func (m *Manager) L2() Store { return m.l2 }

func (m *Manager) Policies() Policies { return m.policies }

// Get looks key up in L1 then L2 without fetching.
func (m *Manager) Get(ctx context.Context, key string) (Result, bool) {
	if v, ok := m.l1.Get(key); ok {
		m.metrics.RecordCacheHit(tierL1)
		return Result{Value: v, Outcome: OutcomeHitL1}, true
	}
	if v, ok := m.getL2(ctx, key); ok {
		m.metrics.RecordCacheHit(tierL2)
		return Result{Value: v, Outcome: OutcomeHitL2}, true
	}
	m.metrics.RecordCacheMiss()
	return Result{}, false
}

// Put writes value to both tiers using dataType's policy and remembers it as
// the last known value for stale serving. Tier failures are logged and
// reported, never fatal to the caller.
func (m *Manager) Put(ctx context.Context, key, dataType string, value []byte) error {
	pol := m.policies.For(dataType)
	return m.PutTTL(ctx, key, value, pol.L1TTL, pol.L2TTL)
}

// PutTTL is Put with explicit per-tier TTLs.
func (m *Manager) PutTTL(ctx context.Context, key string, value []byte, l1TTL, l2TTL time.Duration) error {
	value = copyBytes(value)
	m.lastKnown.Add(key, staleValue{value: value})

	var errs []error
	if err := m.l1.Put(key, value, l1TTL); err != nil {
		m.logger.Warn("l1 write rejected", "key", key, "error", err)
		errs = append(errs, err)
	}
	if m.l2 != nil {
		e := newEntry(key, value, m.now(), l2TTL)
		if err := m.withTimeout(ctx, func(ctx context.Context) error { return m.l2.Set(ctx, e) }); err != nil {
			m.l2Errors.Add(1)
			m.logger.Warn("l2 write failed", "key", key, "backend", m.l2.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Delete removes key from the tiers in layers and forgets its last known
// value. It returns the number of tiers the key was removed from; an L2
// delete counts when it succeeds.
func (m *Manager) Delete(ctx context.Context, key string, layers model.Layer) (int, error) {
	m.lastKnown.Remove(key)
	removed := 0
	if layers.Has(model.LayerL1) && m.l1.Delete(key) {
		removed++
	}
	if layers.Has(model.LayerL2) && m.l2 != nil {
		if err := m.withTimeout(ctx, func(ctx context.Context) error { return m.l2.Delete(ctx, key) }); err != nil {
			m.l2Errors.Add(1)
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// DeletePattern removes every L1 key matching pattern and forgets the last
// known values of the same keys. The durable tier is not scanned.
func (m *Manager) DeletePattern(pattern string) ([]string, error) {
	p, err := ParsePattern(pattern)
	if err != nil {
		return nil, err
	}
	removed := m.l1.DeleteMatching(p)
	for _, key := range m.lastKnown.Keys() {
		if p.Match(key) {
			m.lastKnown.Remove(key)
		}
	}
	return removed, nil
}

// GetWithFallback reads key through L1 and L2 and calls fetch on a full
// miss. Depending on dataType's policy it may instead return the last known
// value: once while refreshing in the background (stale-while-revalidate),
// or whenever fetch fails (cache-on-error).
func (m *Manager) GetWithFallback(ctx context.Context, key, dataType string, fetch FetchFunc) (Result, error) {
	if res, ok := m.Get(ctx, key); ok {
		return res, nil
	}
	pol := m.policies.For(dataType)

	if pol.StaleWhileRevalidate {
		if sv, ok := m.lastKnown.Get(key); ok && !sv.served {
			sv.served = true
			m.lastKnown.Add(key, sv)
			m.staleServed.Add(1)
			m.refresh(ctx, key, dataType, fetch)
			return Result{Value: copyBytes(sv.value), Outcome: OutcomeStale}, nil
		}
	}

	value, err := m.fetch(ctx, key, dataType, fetch)
	if err == nil {
		return Result{Value: copyBytes(value), Outcome: OutcomeFetched}, nil
	}
	if pol.CacheOnError {
		if sv, ok := m.lastKnown.Get(key); ok {
			m.staleOnError.Add(1)
			m.logger.Warn("fetch failed, serving last known value",
				"key", key,
				"data_type", dataType,
				"error", err,
			)
			return Result{Value: copyBytes(sv.value), Outcome: OutcomeStaleOnError}, nil
		}
	}
	return Result{}, err
}

// fetch calls fn once per key across concurrent callers and stores the
// result.
func (m *Manager) fetch(ctx context.Context, key, dataType string, fn FetchFunc) ([]byte, error) {
	v, err, _ := m.group.Do(key, func() (any, error) {
		m.fetches.Add(1)
		value, err := fn(ctx)
		if err != nil {
			m.fetchErrors.Add(1)
			return nil, fmt.Errorf("fetching %s: %w", key, err)
		}
		if err := m.Put(ctx, key, dataType, value); err != nil {
			m.logger.Debug("storing fetched value partially failed", "key", key, "error", err)
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// refresh re-fetches key in the background, detached from the caller's
// cancellation.
func (m *Manager) refresh(ctx context.Context, key, dataType string, fn FetchFunc) {
	m.refreshes.Add(1)
	m.refreshCount.Add(1)
	go func() {
		defer m.refreshes.Done()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.RefreshTimeout)
		defer cancel()
		if _, err := m.fetch(rctx, key, dataType, fn); err != nil {
			m.logger.Warn("background refresh failed", "key", key, "data_type", dataType, "error", err)
		}
	}()
}

// Wait blocks until every background refresh has finished.
func (m *Manager) Wait() {
	m.refreshes.Wait()
}

// Sweep drops expired entries from both tiers.
func (m *Manager) Sweep(ctx context.Context) (l1Removed, l2Removed int, err error) {
	l1Removed = m.l1.Sweep()
	if m.l2 == nil {
		return l1Removed, 0, nil
	}
	l2Removed, err = m.l2.Sweep(ctx)
	if err != nil {
		m.l2Errors.Add(1)
		return l1Removed, l2Removed, err
	}
	m.metrics.RecordEviction(tierL2, "expired", l2Removed)
	return l1Removed, l2Removed, nil
}

func (m *Manager) Stats() Stats {
	s := Stats{
		L1:              m.l1.Stats(),
		L2Hits:          m.l2Hits.Load(),
		L2Misses:        m.l2Misses.Load(),
		L2Errors:        m.l2Errors.Load(),
		Fetches:         m.fetches.Load(),
		FetchErrors:     m.fetchErrors.Load(),
		StaleServed:     m.staleServed.Load(),
		StaleOnError:    m.staleOnError.Load(),
		Refreshes:       m.refreshCount.Load(),
		RetainedEntries: m.lastKnown.Len(),
	}
	if m.l2 != nil {
		s.L2Backend = m.l2.Name()
	}
	return s
}

// getL2 reads key from the durable tier and promotes a hit into L1. Any L2
// failure is logged and treated as a miss.
func (m *Manager) getL2(ctx context.Context, key string) ([]byte, bool) {
	if m.l2 == nil {
		return nil, false
	}
	var e *Entry
	err := m.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		e, err = m.l2.Get(ctx, key)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrMiss) {
			m.l2Misses.Add(1)
		} else {
			m.l2Errors.Add(1)
			m.logger.Warn("l2 read failed, treating as miss",
				"key", key,
				"backend", m.l2.Name(),
				"error", fmt.Errorf("%w: %w", apperrors.ErrCacheRead, err),
			)
		}
		return nil, false
	}
	m.l2Hits.Add(1)

	ttl := m.promotionTTL(key, e)
	if err := m.l1.Put(key, e.Value, ttl); err != nil {
		m.logger.Debug("promotion to l1 rejected", "key", key, "error", err)
	}
	return e.Value, true
}

// promotionTTL is the shortest of the configured promotion TTL, the data
// type's L1 TTL and the entry's remaining L2 lifetime.
func (m *Manager) promotionTTL(key string, e *Entry) time.Duration {
	ttl := m.policies.For(DataTypeOf(key)).L1TTL
	if p := m.opts.PromotionTTL; p > 0 && (ttl <= 0 || p < ttl) {
		ttl = p
	}
	if rem := e.Remaining(m.now()); e.HasTTL() && (ttl <= 0 || rem < ttl) {
		ttl = rem
	}
	return ttl
}

func (m *Manager) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.opts.OpTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, m.opts.OpTimeout)
	defer cancel()
	return fn(ctx)
}
