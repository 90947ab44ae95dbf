package invalidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/metrics"
)

const (
	defaultQueueSize = 1024
	defaultBatchSize = 64
)

type WorkerOptions struct {
	QueueSize   int
	BatchSize   int
	BatchWindow time.Duration
	Metrics     *metrics.Metrics
}

func WorkerOptionsFromConfig(cfg config.InvalidationConfig, m *metrics.Metrics) WorkerOptions {
	return WorkerOptions{
		QueueSize:   cfg.QueueSize,
		BatchSize:   cfg.BatchSize,
		BatchWindow: cfg.BatchWindow,
		Metrics:     m,
	}
}

// WorkerStats counts mutation events handled by the worker.
type WorkerStats struct {
	Enqueued     int64 `json:"enqueued"`
	Rejected     int64 `json:"rejected"`
	Processed    int64 `json:"processed"`
	Batches      int64 `json:"batches"`
	SkippedRules int64 `json:"skipped_rules"`
	Invalidated  int64 `json:"invalidated"`
	QueueDepth   int   `json:"queue_depth"`
}

// BatchResult summarises one processed batch.
type BatchResult struct {
	Events       int
	Keys         []string
	SkippedRules int
	Err          error
}

// Worker owns the mutation-event queue. A single goroutine drains it in
// arrival order, so events of one collection are applied in the order they
// were enqueued.
type Worker struct {
	svc         *Service
	rules       *RuleTable
	queue       chan model.MutationEvent
	batchSize   int
	batchWindow time.Duration

	mu     sync.RWMutex
	closed bool

	enqueued, rejected, processed atomic.Int64
	batches, skipped, invalidated atomic.Int64

	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewWorker(svc *Service, rules *RuleTable, opts WorkerOptions) *Worker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Worker{
		svc:         svc,
		rules:       rules,
		queue:       make(chan model.MutationEvent, opts.QueueSize),
		batchSize:   opts.BatchSize,
		batchWindow: opts.BatchWindow,
		metrics:     opts.Metrics,
		logger:      slog.Default().With("component", "invalidation-worker"),
	}
}

// Enqueue hands ev to the worker without blocking. It fails with
// ErrQueueFull when the queue is at capacity and ErrQueueClosed after Close.
func (w *Worker) Enqueue(ev model.MutationEvent) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return apperrors.ErrQueueClosed
	}
	select {
	case w.queue <- ev:
		w.enqueued.Add(1)
		w.metrics.SetQueueDepth(len(w.queue))
		return nil
	default:
		w.rejected.Add(1)
		return fmt.Errorf("%w: %d events pending", apperrors.ErrQueueFull, cap(w.queue))
	}
}

// Close stops accepting events. Run finishes the events already queued and
// then returns.
func (w *Worker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.queue)
}

// Run processes queued events until the queue is closed and drained, or
// until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("invalidation worker started",
		"queue_size", cap(w.queue),
		"batch_size", w.batchSize,
	)
	defer w.logger.Info("invalidation worker stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.queue:
			if !ok {
				return
			}
			batch, open := w.collect(ctx, ev)
			res := w.Process(ctx, batch)
			if res.Err != nil {
				w.logger.Warn("batch processed with errors", "events", res.Events, "error", res.Err)
			}
			if !open {
				return
			}
		}
	}
}

// collect gathers up to batchSize events starting with first, waiting at
// most batchWindow for stragglers. It reports false once the queue is
// closed and empty.
func (w *Worker) collect(ctx context.Context, first model.MutationEvent) ([]model.MutationEvent, bool) {
	batch := make([]model.MutationEvent, 1, w.batchSize)
	batch[0] = first

	var deadline <-chan time.Time
	if w.batchWindow > 0 {
		timer := time.NewTimer(w.batchWindow)
		defer timer.Stop()
		deadline = timer.C
	}
	for len(batch) < w.batchSize {
		select {
		case ev, ok := <-w.queue:
			if !ok {
				return batch, false
			}
			batch = append(batch, ev)
			continue
		default:
		}
		if deadline == nil {
			break
		}
		select {
		case ev, ok := <-w.queue:
			if !ok {
				return batch, false
			}
			batch = append(batch, ev)
		case <-deadline:
			return batch, true
		case <-ctx.Done():
			return batch, true
		}
	}
	return batch, true
}

type target struct {
	key    string
	reason model.Reason
}

// Process applies a batch synchronously. Events are grouped by collection
// in order of first appearance; keys resolved from the batch are
// de-duplicated before anything is invalidated. A rule whose templates
// cannot be resolved is skipped without affecting the event's other rules.
func (w *Worker) Process(ctx context.Context, batch []model.MutationEvent) BatchResult {
	defer w.metrics.SetQueueDepth(len(w.queue))
	res := BatchResult{Events: len(batch)}

	var order []string
	groups := make(map[string][]model.MutationEvent)
	for _, ev := range batch {
		if _, ok := groups[ev.Collection]; !ok {
			order = append(order, ev.Collection)
		}
		groups[ev.Collection] = append(groups[ev.Collection], ev)
	}

	seen := make(map[string]struct{})
	var targets []target
	add := func(key string, reason model.Reason) {
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		targets = append(targets, target{key: key, reason: reason})
	}

	for _, collection := range order {
		for _, ev := range groups[collection] {
			for _, rule := range w.rules.Lookup(collection, ev.EventType) {
				primary, deps, err := resolveRule(rule, ev)
				if err != nil {
					res.SkippedRules++
					w.metrics.RecordSkippedRule()
					w.logger.Warn("skipping invalidation rule",
						"rule", rule.String(),
						"document_id", ev.DocumentID,
						"error", err,
					)
					continue
				}
				add(primary, primaryReason(ev.EventType))
				for _, d := range deps {
					add(d, model.ReasonDependencyChanged)
				}
			}
		}
	}

	var errs []error
	for _, t := range targets {
		var err error
		if cache.IsWildcard(t.key) {
			_, err = w.svc.InvalidatePattern(ctx, t.key, model.LayerL1, t.reason)
		} else {
			_, err = w.svc.Invalidate(ctx, t.key, model.LayerAll, t.reason)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res.Keys = append(res.Keys, t.key)
	}
	res.Err = errors.Join(errs...)

	w.processed.Add(int64(len(batch)))
	w.batches.Add(1)
	w.skipped.Add(int64(res.SkippedRules))
	w.invalidated.Add(int64(len(res.Keys)))
	w.logger.Debug("invalidation batch applied",
		"events", len(batch),
		"collections", len(order),
		"keys", len(res.Keys),
		"skipped_rules", res.SkippedRules,
	)
	return res
}

func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Enqueued:     w.enqueued.Load(),
		Rejected:     w.rejected.Load(),
		Processed:    w.processed.Load(),
		Batches:      w.batches.Load(),
		SkippedRules: w.skipped.Load(),
		Invalidated:  w.invalidated.Load(),
		QueueDepth:   len(w.queue),
	}
}

// resolveRule resolves every template of rule against ev, failing as a unit.
func resolveRule(rule Rule, ev model.MutationEvent) (string, []string, error) {
	primary, err := Resolve(rule.KeyPattern, ev)
	if err != nil {
		return "", nil, err
	}
	deps := make([]string, 0, len(rule.DependencyPatterns))
	for _, p := range rule.DependencyPatterns {
		d, err := Resolve(p, ev)
		if err != nil {
			return "", nil, err
		}
		deps = append(deps, d)
	}
	return primary, deps, nil
}

func primaryReason(et model.EventType) model.Reason {
	if et == model.EventDelete {
		return model.ReasonDataDeleted
	}
	return model.ReasonDataUpdated
}
