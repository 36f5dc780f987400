package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/eklundh/strandr/internal/corpusconf"
	"github.com/eklundh/strandr/internal/engine"
	"github.com/eklundh/strandr/internal/kwic"
	"github.com/eklundh/strandr/internal/lemma"
	"github.com/eklundh/strandr/internal/query"
	"github.com/eklundh/strandr/internal/search"
	"github.com/eklundh/strandr/pkg/config"
	"github.com/eklundh/strandr/pkg/health"
	"github.com/eklundh/strandr/pkg/logger"
	"github.com/eklundh/strandr/pkg/metrics"
	pkgredis "github.com/eklundh/strandr/pkg/redis"
	"github.com/eklundh/strandr/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search api", "port", cfg.Server.Port, "engine", cfg.Engine.URL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	client := engine.NewClient(cfg.Engine)
	if err := client.Ping(ctx); err != nil {
		slog.Warn("search engine not reachable at startup", "error", err)
	}

	loader := corpusconf.NewLoader(cfg.Corpora.ConfigDir)

	lemmas := lemma.NewClient(cfg.Lemmatizer, func(name string, state resilience.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
		slog.Info("circuit breaker state changed", "name", name, "state", state.String())
	})

	var searchCache *search.Cache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			searchCache = search.NewCache(redisClient, cfg.Redis, m)
			slog.Info("search cache enabled",
				"addr", cfg.Redis.Addr,
				"ttl", cfg.Redis.CacheTTL,
			)
		}
	}

	compiler := query.NewCompiler(lemmas, m)
	reconstructor := kwic.New(client, cfg.Search.ContextSize, cfg.Search.PreviewSize, m)
	service := search.NewService(client, loader, compiler, reconstructor, lemmas, searchCache, cfg.Search, m)
	h := search.NewHandler(service)

	checker := health.NewChecker()
	checker.Register("engine", func(ctx context.Context) health.ComponentHealth {
		if err := client.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdownMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      search.NewRouter(h, checker, m, cfg.Server.WriteTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search api listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search api stopped")
}
