package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-resolve/internal/analyzer"
	"github.com/miradorstack/mirador-resolve/internal/api"
	"github.com/miradorstack/mirador-resolve/internal/backends"
	"github.com/miradorstack/mirador-resolve/internal/cache"
	"github.com/miradorstack/mirador-resolve/internal/config"
	"github.com/miradorstack/mirador-resolve/internal/embedding"
	"github.com/miradorstack/mirador-resolve/internal/engine"
	"github.com/miradorstack/mirador-resolve/internal/index"
	"github.com/miradorstack/mirador-resolve/internal/loader"
	"github.com/miradorstack/mirador-resolve/internal/metrics"
	"github.com/miradorstack/mirador-resolve/internal/runner"
	"github.com/miradorstack/mirador-resolve/internal/synth"
	"github.com/miradorstack/mirador-resolve/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-resolve", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.URL != "" {
		provider, err := cache.NewRedisProvider(ctx, cfg.Cache.URL)
		if err != nil {
			logger.Warn("redis cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	textBackend := backends.NewHTTPTextBackend(
		cfg.Backends.Text.BaseURL,
		cfg.Backends.Text.APIKey,
		cfg.Backends.Text.Model,
		cfg.Backends.Text.Timeout,
		cfg.Backends.Text.MaxRetries,
	)
	embedder := backends.NewHTTPEmbedder(
		cfg.Backends.Embedding.BaseURL,
		cfg.Backends.Embedding.APIKey,
		cfg.Backends.Embedding.Model,
		cfg.Backends.Embedding.Dimension,
		cfg.Backends.Embedding.Timeout,
		cfg.Backends.Embedding.MaxRetries,
	)

	generator := embedding.NewGenerator(embedder, cacheProvider, logger)
	similarityIndex := index.New(cfg.Backends.Embedding.Dimension)
	corpus := loader.NewManager(generator, similarityIndex, logger)

	if cfg.Corpus.SeedPath != "" {
		seedCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		loaded, err := corpus.LoadSeed(seedCtx, cfg.Corpus.SeedPath)
		cancel()
		if err != nil {
			logger.Error("corpus seed load failed", slog.String("path", cfg.Corpus.SeedPath), slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("corpus seeded", slog.Int("incidents", loaded))
	}

	incidentAnalyzer := analyzer.New(textBackend, generator, cfg.Pipeline.EmbeddingBudget, logger)
	synthesizer := synth.New(textBackend, cfg.Retrieval.TopK, logger)
	pipeline := engine.NewPipeline(
		logger,
		incidentAnalyzer,
		similarityIndex,
		synthesizer,
		engine.Budgets{
			Overall:   cfg.Pipeline.OverallDeadline,
			Analysis:  cfg.Pipeline.AnalysisBudget,
			Synthesis: cfg.Pipeline.SynthesisBudget,
		},
		cfg.Retrieval.TopK,
		cfg.Retrieval.MinSimilarity,
		cfg.Pipeline.Version,
	)

	runPool := runner.New(logger, pipeline, cfg.Pipeline.Workers, cfg.Pipeline.QueueDepth, cfg.Pipeline.ReportRetention)
	runPool.Start(ctx, cfg.Pipeline.Workers)
	defer runPool.Stop()

	// Retention sweeper drops soft-deleted and aged-out corpus entries.
	if cfg.Corpus.Retention > 0 && cfg.Corpus.SweepInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Corpus.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					cutoff := time.Now().UTC().Add(-cfg.Corpus.Retention)
					if dropped := similarityIndex.Sweep(cutoff); dropped > 0 {
						logger.Info("corpus sweep", slog.Int("dropped", dropped), slog.Int("remaining", similarityIndex.Count()))
					}
				}
			}
		}()
	}

	handlers := api.NewHandlers(logger, runPool, corpus, cfg.Pipeline.Version)
	server := api.NewServer(cfg.Server, api.NewRouter(logger, handlers))

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("mirador-resolve stopped")
}
