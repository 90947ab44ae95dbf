// Package invalidation removes stale entries from the cache tiers. Keys are
// invalidated manually, by pattern, or in response to source-data mutation
// events mapped through a rule table. Every invalidation leaves an audit
// record in a bounded in-memory log that can be mirrored to Kafka.
package invalidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/metrics"
)

const (
	defaultAuditLogSize  = 1000
	defaultSweepInterval = time.Minute
	publishTimeout       = 5 * time.Second
)

// Cache is the part of the cache manager invalidation drives.
type Cache interface {
	Delete(ctx context.Context, key string, layers model.Layer) (int, error)
	DeletePattern(pattern string) ([]string, error)
	Sweep(ctx context.Context) (l1Removed, l2Removed int, err error)
}

// AuditPublisher mirrors audit records to an external sink.
type AuditPublisher interface {
	PublishAudit(ctx context.Context, events []model.InvalidationEvent) error
}

type Options struct {
	AuditLogSize  int
	SweepInterval time.Duration
	Publisher     AuditPublisher
	Clock         func() time.Time
	Metrics       *metrics.Metrics
}

// Stats counts invalidations since startup.
type Stats struct {
	Total        int64                  `json:"total"`
	KeysRemoved  int64                  `json:"keys_removed"`
	ByReason     map[model.Reason]int64 `json:"by_reason"`
	Failures     int64                  `json:"failures"`
	Sweeps       int64                  `json:"sweeps"`
	SweptEntries int64                  `json:"swept_entries"`
	AuditEntries int                    `json:"audit_entries"`
}

type Service struct {
	cache     Cache
	publisher AuditPublisher
	interval  time.Duration
	now       func() time.Time

	mu    sync.Mutex
	audit *auditLog
	stats Stats

	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewService(c Cache, opts Options) *Service {
	if opts.AuditLogSize <= 0 {
		opts.AuditLogSize = defaultAuditLogSize
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{
		cache:     c,
		publisher: opts.Publisher,
		interval:  opts.SweepInterval,
		now:       opts.Clock,
		audit:     newAuditLog(opts.AuditLogSize),
		stats:     Stats{ByReason: make(map[model.Reason]int64)},
		metrics:   opts.Metrics,
		logger:    slog.Default().With("component", "cache-invalidation"),
	}
}

// Invalidate removes key from the tiers in layers and records the
// invalidation. The audit record is written even when a tier fails.
func (s *Service) Invalidate(ctx context.Context, key string, layers model.Layer, reason model.Reason) (model.InvalidationEvent, error) {
	removed, err := s.cache.Delete(ctx, key, layers)
	ev := s.record(ctx, key, layers, reason, removed)
	if err != nil {
		s.fail()
		s.logger.Warn("invalidation partially failed",
			"key", key,
			"layers", layers.Names(),
			"reason", reason,
			"error", err,
		)
		return ev, fmt.Errorf("%w: invalidating %s: %w", apperrors.ErrInvalidation, key, err)
	}
	return ev, nil
}

// InvalidatePattern removes every L1 key matching a single-wildcard pattern.
// The durable tier cannot be scanned by pattern: when layers includes L2 the
// L1 portion still runs and ErrDurablePatternUnsupported is returned.
func (s *Service) InvalidatePattern(ctx context.Context, pattern string, layers model.Layer, reason model.Reason) (model.InvalidationEvent, error) {
	removed, err := s.cache.DeletePattern(pattern)
	if err != nil {
		s.fail()
		return model.InvalidationEvent{}, fmt.Errorf("%w: pattern %q: %w", apperrors.ErrInvalidation, pattern, err)
	}
	ev := s.record(ctx, pattern, model.LayerL1, reason, len(removed))
	s.logger.Debug("pattern invalidated", "pattern", pattern, "removed", len(removed), "reason", reason)
	if layers.Has(model.LayerL2) {
		return ev, fmt.Errorf("%w: %q", apperrors.ErrDurablePatternUnsupported, pattern)
	}
	return ev, nil
}

// InvalidateDataType drops every L1 entry of one data type.
func (s *Service) InvalidateDataType(ctx context.Context, dataType string, reason model.Reason) (model.InvalidationEvent, error) {
	return s.InvalidatePattern(ctx, dataType+":*", model.LayerL1, reason)
}

// Sweep drops expired entries from both tiers once.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	l1, l2, err := s.cache.Sweep(ctx)
	n := l1 + l2
	s.mu.Lock()
	s.stats.Sweeps++
	s.stats.SweptEntries += int64(n)
	s.mu.Unlock()
	if n > 0 {
		s.metrics.RecordInvalidation(string(model.ReasonTTLExpired))
		s.logger.Debug("expired entries swept", "l1", l1, "l2", l2)
	}
	if err != nil {
		s.fail()
		return n, fmt.Errorf("%w: sweep: %w", apperrors.ErrInvalidation, err)
	}
	return n, nil
}

// RunSweeper sweeps on every tick until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("ttl sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ttl sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("ttl sweep failed", "error", err)
			}
		}
	}
}

// History returns up to limit audit records, oldest first. limit <= 0
// returns the whole log.
func (s *Service) History(limit int) []model.InvalidationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audit.last(limit)
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.ByReason = make(map[model.Reason]int64, len(s.stats.ByReason))
	for k, v := range s.stats.ByReason {
		out.ByReason[k] = v
	}
	out.AuditEntries = s.audit.len()
	return out
}

func (s *Service) record(ctx context.Context, key string, layers model.Layer, reason model.Reason, removed int) model.InvalidationEvent {
	ev := model.InvalidationEvent{
		ID:             uuid.NewString(),
		DataType:       cache.DataTypeOf(key),
		Key:            key,
		Reason:         reason,
		Timestamp:      s.now(),
		AffectedLayers: layers.Names(),
		Removed:        removed,
	}
	s.mu.Lock()
	s.audit.add(ev)
	s.stats.Total++
	s.stats.KeysRemoved += int64(removed)
	s.stats.ByReason[reason]++
	s.mu.Unlock()
	s.metrics.RecordInvalidation(string(reason))

	if s.publisher != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := s.publisher.PublishAudit(pctx, []model.InvalidationEvent{ev}); err != nil {
			s.logger.Warn("publishing audit record failed", "key", key, "event_id", ev.ID, "error", err)
		}
	}
	return ev
}

func (s *Service) fail() {
	s.mu.Lock()
	s.stats.Failures++
	s.mu.Unlock()
}

// auditLog is a fixed-capacity ring of the most recent records.
type auditLog struct {
	buf  []model.InvalidationEvent
	next int
	full bool
}

func newAuditLog(size int) *auditLog {
	return &auditLog{buf: make([]model.InvalidationEvent, size)}
}

func (a *auditLog) add(ev model.InvalidationEvent) {
	a.buf[a.next] = ev
	a.next = (a.next + 1) % len(a.buf)
	if a.next == 0 {
		a.full = true
	}
}

func (a *auditLog) len() int {
	if a.full {
		return len(a.buf)
	}
	return a.next
}

func (a *auditLog) last(limit int) []model.InvalidationEvent {
	n := a.len()
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]model.InvalidationEvent, 0, limit)
	start := a.next - limit
	if start < 0 {
		start += len(a.buf)
	}
	for i := 0; i < limit; i++ {
		out = append(out, a.buf[(start+i)%len(a.buf)])
	}
	return out
}
