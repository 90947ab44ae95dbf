package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/docstore"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/enhancer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/fusion"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/hybrid"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/model"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/semantic"
	pkgbadger "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/badger"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/redis"
)

// app holds the assembled search core. Optional collaborators are nil when
// disabled or unreachable.
type app struct {
	cfg *config.Config

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	engine       *indexer.Engine
	enhancer     *enhancer.Enhancer
	cache        *cache.Manager
	orchestrator *hybrid.Orchestrator

	pg       *postgres.Client
	docs     *docstore.Store
	redis    *pkgredis.Client
	badger   *pkgbadger.Backend
	semantic *semantic.Client

	closers []func() error
}

// buildOptions selects which optional collaborators to bring up.
type buildOptions struct {
	withCache    bool
	withSemantic bool
}

func buildApp(cfg *config.Config, opts buildOptions) (*app, error) {
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	a.engine = indexer.NewEngine(cfg.Lexical, a.metrics)
	a.enhancer = enhancer.New(cfg.Enhancer, nil)
	a.engine.SetRewriter(a.enhancer)
	a.engine.OnVocabularyChange(a.enhancer.UpdateVocabulary)

	if cfg.Postgres.Enabled {
		pg, err := postgres.New(cfg.Postgres)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.pg = pg
		a.closers = append(a.closers, pg.Close)
		docs, err := docstore.New(pg.DB, pg.DocumentsTable())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.docs = docs
	}

	if opts.withCache {
		if err := a.buildCache(); err != nil {
			a.Close()
			return nil, err
		}
	}

	var searcher hybrid.SemanticSearcher
	if opts.withSemantic && cfg.Semantic.Enabled {
		a.semantic = semantic.New(cfg.Semantic.Addr, cfg.Semantic.DialTimeout)
		a.closers = append(a.closers, a.semantic.Close)
		searcher = a.semantic
	} else if opts.withSemantic {
		slog.Warn("semantic search disabled, hybrid searches degrade to lexical")
	}

	orch, err := hybrid.New(cfg.Hybrid, cfg.Fusion.Algorithm, hybrid.Deps{
		Engine:   a.engine,
		Enhancer: a.enhancer,
		Fusion:   fusion.NewEngine(fusion.ParamsFromConfig(cfg.Fusion)),
		Semantic: searcher,
		Cache:    a.cache,
		Metrics:  a.metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.orchestrator = orch
	a.closers = append(a.closers, func() error {
		orch.Release()
		return nil
	})
	return a, nil
}

// buildCache brings up L1 and the configured durable tier. An unreachable
// Redis leaves the manager running on L1 alone.
func (a *app) buildCache() error {
	cfg := a.cfg.Cache
	l1, err := cache.NewL1(cfg.L1MaxEntries, cfg.L1MaxBytes, nil, a.metrics)
	if err != nil {
		return err
	}

	var l2 cache.Store
	switch cfg.L2Backend {
	case "redis":
		client, err := pkgredis.NewClient(a.cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, durable cache tier disabled", "addr", a.cfg.Redis.Addr, "error", err)
			break
		}
		a.redis = client
		a.closers = append(a.closers, client.Close)
		l2 = cache.NewRedisStore(client, cfg.KeyPrefix, nil)
	case "badger":
		backend, err := pkgbadger.Open(a.cfg.Badger)
		if err != nil {
			return err
		}
		a.badger = backend
		a.closers = append(a.closers, backend.Close)
		l2 = cache.NewBadgerStore(backend, cfg.KeyPrefix, nil)
	}

	a.cache = cache.NewManager(l1, l2, cache.PoliciesFromConfig(cfg.Policies), cache.OptionsFromConfig(cfg, a.metrics))
	slog.Info("cache enabled", "l1_entries", cfg.L1MaxEntries, "l2", cfg.L2Backend, "l2_ready", l2 != nil)
	return nil
}

// loadCorpus indexes documents from path (a JSON array) when given,
// otherwise from the document store. It returns the number indexed.
func (a *app) loadCorpus(ctx context.Context, path string) (int, error) {
	var docs []model.Document
	switch {
	case path != "":
		var err error
		docs, err = readDocuments(path)
		if err != nil {
			return 0, err
		}
	case a.docs != nil:
		var err error
		docs, err = a.docs.LoadAll(ctx)
		if err != nil {
			return 0, fmt.Errorf("loading documents from postgres: %w", err)
		}
	default:
		return 0, errors.New("no corpus: pass --corpus or enable postgres")
	}
	if err := a.engine.IndexDocuments(ctx, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

func readDocuments(path string) ([]model.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus: %w", err)
	}
	defer f.Close()
	return decodeDocuments(f)
}

func decodeDocuments(r io.Reader) ([]model.Document, error) {
	var docs []model.Document
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decoding corpus: %w", err)
	}
	return docs, nil
}

// Close releases collaborators in reverse order of construction.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
