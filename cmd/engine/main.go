// Command engine runs the blog search and relevance engine: it rebuilds the
// in-memory indexes from PostgreSQL, consumes the post change feed from
// Kafka, and serves the query API over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bloghive/relevance/internal/analytics"
	"github.com/bloghive/relevance/internal/engine"
	"github.com/bloghive/relevance/internal/engine/consumer"
	"github.com/bloghive/relevance/internal/httpapi"
	"github.com/bloghive/relevance/internal/store"
	"github.com/bloghive/relevance/pkg/config"
	"github.com/bloghive/relevance/pkg/health"
	"github.com/bloghive/relevance/pkg/kafka"
	"github.com/bloghive/relevance/pkg/logger"
	"github.com/bloghive/relevance/pkg/metrics"
	"github.com/bloghive/relevance/pkg/middleware"
	"github.com/bloghive/relevance/pkg/postgres"
	"github.com/bloghive/relevance/pkg/redis"
	"github.com/bloghive/relevance/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.WithComponent("main")

	if err := run(cfg, log); err != nil {
		log.Error("engine exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pg.Close()
	postStore := store.NewPostStore(pg)

	coord := engine.NewCoordinator(postStore, engine.Options{
		SnippetRadius:     cfg.Engine.SnippetRadius,
		MinSimilarity:     cfg.Engine.MinSimilarity,
		ReweightThreshold: cfg.Engine.ReweightThreshold,
		RetryConfig: resilience.RetryConfig{
			MaxAttempts: cfg.Engine.RebuildRetries,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    10 * time.Second,
		},
	}, m)

	// The query cache is an optimisation; a missing Redis degrades to
	// uncached queries instead of refusing to start.
	var queryCache *httpapi.QueryCache
	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, serving without query cache", "error", err)
	} else {
		defer redisClient.Close()
		queryCache = httpapi.NewQueryCache(redisClient, cfg.Redis.CacheTTL, m)
		coord.OnMutation(queryCache.InvalidateAsync)
	}

	analyticsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
	defer analyticsProducer.Close()
	collector := analytics.NewCollector(analyticsProducer, 1024)
	defer collector.Close()

	log.Info("starting initial index rebuild")
	if err := coord.Rebuild(ctx); err != nil {
		return fmt.Errorf("initial rebuild: %w", err)
	}
	log.Info("initial rebuild complete", "documents", coord.DocCount())

	postConsumer := consumer.New(cfg.Kafka, coord)
	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- postConsumer.Start(ctx)
	}()

	checker := health.NewChecker(5 * time.Second)
	checker.Register("postgres", func(ctx context.Context) health.Result {
		if err := postStore.Ping(ctx); err != nil {
			return health.Down(err.Error())
		}
		return health.OK("")
	})
	if redisClient != nil {
		checker.Register("redis", func(ctx context.Context) health.Result {
			if err := redisClient.Ping(ctx); err != nil {
				return health.Degraded(err.Error())
			}
			return health.OK("")
		})
	}
	checker.Register("index", func(ctx context.Context) health.Result {
		if !coord.Ready() {
			return health.Down("initial rebuild not complete")
		}
		indexed := coord.DocCount()
		if published, err := postStore.CountPublished(ctx); err == nil && published != indexed {
			return health.Degraded(fmt.Sprintf("%d documents indexed, %d published in store", indexed, published))
		}
		return health.OK(fmt.Sprintf("%d documents indexed", indexed))
	})

	mux := http.NewServeMux()
	httpapi.NewHandler(coord, queryCache, collector, cfg.Engine).Routes(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var handler http.Handler = mux
	handler = middleware.Timeout(cfg.Server.WriteTimeout)(handler)
	handler = middleware.Metrics(m)(handler)
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: metricsMux,
		}
		go func() {
			log.Info("metrics server listening", "port", cfg.Metrics.Port)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("query API listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case err := <-consumerDone:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("change-feed consumer: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics server shutdown failed", "error", err)
		}
	}
	if err := postConsumer.Close(); err != nil {
		log.Error("consumer close failed", "error", err)
	}
	log.Info("shutdown complete")
	return nil
}
