package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/invalidation"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/middleware"
)

const documentsCollection = "documents"

type serveOptions struct {
	corpus string
	port   int
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the search API, cache invalidation and index consumers",
		Long: `Serve loads the corpus into the lexical index and exposes the hybrid
search API over HTTP. With Kafka enabled it also consumes document mutation
events to keep the index and the cache in step with the source data.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.port > 0 {
				root.cfg.Server.Port = opts.port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.corpus, "corpus", "", "JSON file of documents to index at startup (defaults to the postgres store)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "Override the HTTP port")

	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts serveOptions) error {
	cfg := root.cfg
	slog.Info("starting ragcore", "port", cfg.Server.Port, "default_mode", cfg.Hybrid.DefaultMode)

	a, err := buildApp(cfg, buildOptions{withCache: true, withSemantic: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.corpus != "" || a.docs != nil {
		n, err := a.loadCorpus(ctx, opts.corpus)
		if err != nil {
			return err
		}
		slog.Info("corpus indexed", "documents", n, "terms", a.engine.Stats().Terms)
	} else {
		slog.Warn("no corpus configured, starting with an empty index")
	}

	var (
		svc    *invalidation.Service
		worker *invalidation.Worker
	)
	if a.cache != nil {
		var publisher invalidation.AuditPublisher
		if cfg.Kafka.Enabled {
			producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.InvalidationAudit)
			a.closers = append(a.closers, producer.Close)
			publisher = invalidation.NewKafkaAuditPublisher(producer)
		}
		svc = invalidation.NewService(a.cache, invalidation.Options{
			AuditLogSize:  cfg.Invalidation.AuditLogSize,
			SweepInterval: cfg.Cache.SweepInterval,
			Publisher:     publisher,
			Metrics:       a.metrics,
		})
		rules := invalidation.NewRuleTable(invalidation.RulesFromConfig(cfg.Invalidation.Rules)...)
		worker = invalidation.NewWorker(svc, rules, invalidation.WorkerOptionsFromConfig(cfg.Invalidation, a.metrics))
		slog.Info("cache invalidation enabled", "rules", rules.Len())
	}

	g, gctx := errgroup.WithContext(ctx)

	workerDone := make(chan struct{})
	workerCtx, cancelWorker := context.WithCancel(context.Background())
	defer cancelWorker()
	if worker != nil {
		go func() {
			defer close(workerDone)
			worker.Run(workerCtx)
		}()
		g.Go(func() error {
			svc.RunSweeper(gctx)
			return nil
		})
	} else {
		close(workerDone)
	}

	if cfg.Kafka.Enabled {
		var source consumer.DocumentSource
		if a.docs != nil {
			source = a.docs
		}
		handlers := []kafka.MessageHandler{consumer.NewApplier(a.engine, source, documentsCollection).HandleMessage()}
		if worker != nil {
			handlers = append(handlers, invalidation.HandleMutation(worker))
		}
		mutations := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.Mutations, kafka.Chain(handlers...))
		g.Go(func() error {
			return mutations.Start(gctx)
		})
		slog.Info("mutation consumer started", "topic", cfg.Kafka.Topics.Mutations)
	}

	checker := newChecker(a, worker)

	hopts := handler.Options{Cache: a.cache, Engine: a.engine, Worker: worker}
	if svc != nil {
		hopts.Invalidator = svc
	}
	mux := http.NewServeMux()
	handler.New(a.orchestrator, hopts).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler(a.registry))

	var limiter *middleware.Limiter
	if rl := cfg.Server.RateLimit; rl.RequestsPerSecond > 0 {
		limiter = middleware.NewLimiter(rl.RequestsPerSecond, rl.Burst, rl.IdleTimeout)
		g.Go(func() error {
			limiter.Run(gctx)
			return nil
		})
		slog.Info("rate limiting enabled", "rps", rl.RequestsPerSecond, "burst", rl.Burst)
	}

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RateLimit(limiter)(chain)
	chain = middleware.Metrics(a.metrics, mux)(chain)
	chain = middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins...))(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout + time.Second,
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port != cfg.Server.Port {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, a.registry, nil)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = shutdownMetrics(shutdownCtx)
		}()
	}

	g.Go(func() error {
		slog.Info("search api listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	if worker != nil {
		worker.Close()
		select {
		case <-workerDone:
		case <-time.After(cfg.Invalidation.DrainTimeout):
			slog.Warn("invalidation queue not drained before timeout", "pending", worker.Stats().QueueDepth)
			cancelWorker()
			<-workerDone
		}
	}
	if a.cache != nil {
		a.cache.Wait()
	}
	slog.Info("ragcore stopped")
	return err
}

func newChecker(a *app, worker *invalidation.Worker) *health.Checker {
	checker := health.NewChecker()
	checker.Register("lexical_index", health.IndexCheck(func() int { return a.engine.Stats().Documents }))
	checker.Register("semantic_circuit", health.BreakerCheck(func() string { return a.orchestrator.Breaker().GetState().String() }))
	if a.semantic != nil {
		checker.Register("semantic_service", health.OptionalPingCheck(a.semantic.Ping))
	}
	if a.pg != nil {
		checker.Register("postgres", health.PingCheck(a.pg.Ping))
	}
	if a.redis != nil {
		checker.Register("redis", health.OptionalPingCheck(a.redis.Ping))
	}
	if worker != nil {
		checker.Register("invalidation_queue", health.QueueCheck(func() int { return worker.Stats().QueueDepth }, a.cfg.Invalidation.QueueSize))
	}
	return checker
}
