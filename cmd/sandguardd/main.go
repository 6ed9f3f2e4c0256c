package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sandguard/sandguard/pkg/alerting"
	"github.com/sandguard/sandguard/pkg/config"
	"github.com/sandguard/sandguard/pkg/domain"
	"github.com/sandguard/sandguard/pkg/events"
	"github.com/sandguard/sandguard/pkg/lifecycle"
	"github.com/sandguard/sandguard/pkg/limits"
	"github.com/sandguard/sandguard/pkg/metrics"
	"github.com/sandguard/sandguard/pkg/obs"
	"github.com/sandguard/sandguard/pkg/registry"
	"github.com/sandguard/sandguard/pkg/throttle"
	"github.com/sandguard/sandguard/pkg/worker"
)

func main() {
	cfg := config.Load()
	logger := obs.NewSlogAdapterTo(os.Stdout, parseLevel(cfg.LogLevel))
	ctx := context.Background()
	logger.Info(ctx, "Starting sandguardd", map[string]any{
		"listen":  cfg.ListenAddr,
		"backend": cfg.WorkerBackend,
		"redis":   cfg.RedisAddr != "",
	})

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	appMetrics := obs.NewPrometheusMetricsWith(promReg)

	var (
		store  registry.Store
		alerts alerting.Store
		cache  metrics.SampleCache
		bus    events.Bus = events.NopBus{}
		err    error
	)
	if cfg.RedisAddr != "" {
		store, err = registry.NewRedisStore(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPassword)
		if err == nil {
			alerts, err = alerting.NewRedisStore(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPassword)
		}
		if err == nil {
			cache, err = metrics.NewRedisCache(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPassword, cfg.SampleTTL)
		}
		if err == nil {
			bus, err = events.NewRedisBus(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPassword, "sandguard:events")
		}
		if err != nil {
			logger.Error(ctx, "Failed to connect to redis", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	} else {
		store = registry.NewMemoryStore()
		alerts = alerting.NewMemoryStore()
		cache = metrics.NewMemoryCache(cfg.SampleTTL)
	}

	pids := metrics.NewPIDTable()
	counters := metrics.NewUsageCounters()
	source := metrics.NewProcessSource(pids, counters)

	workers, err := buildWorkerFactory(cfg, pids)
	if err != nil {
		logger.Error(ctx, "Failed to initialize worker backend", map[string]any{
			"backend": cfg.WorkerBackend, "error": err.Error(),
		})
		os.Exit(1)
	}

	mgr := lifecycle.NewManager(lifecycle.ManagerConfig{
		Registry: store,
		Alerts:   alerts,
		Source:   source,
		Cache:    cache,
		Throttlers: map[domain.ResourceType]throttle.Throttler{
			domain.ResourceAPI: throttle.NewAPIRateThrottler(300, 600),
		},
		Workers:        workers,
		Bus:            bus,
		Logger:         logger,
		Metrics:        appMetrics,
		Interval:       cfg.TickInterval,
		CollectTimeout: cfg.CollectTimeout,
	})

	var profileRules []domain.ThrottleRule
	if cfg.RuleProfilePath != "" {
		profileRules, err = limits.LoadRuleProfile(cfg.RuleProfilePath)
		if err != nil {
			logger.Error(ctx, "Failed to load rule profile", map[string]any{
				"path": cfg.RuleProfilePath, "error": err.Error(),
			})
			os.Exit(1)
		}
		logger.Info(ctx, "Loaded rule profile", map[string]any{
			"path": cfg.RuleProfilePath, "rules": len(profileRules),
		})
	}

	api := &apiServer{
		manager:      mgr,
		counters:     counters,
		profileRules: profileRules,
		logger:       logger,
	}
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.routes(),
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.MetricsListen, Handler: metricsMux}

	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "Metrics server failed", map[string]any{"error": err.Error()})
		}
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "Server failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "Shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Server forced to shutdown", map[string]any{"error": err.Error()})
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
	mgr.Shutdown(shutdownCtx)
	logger.Info(ctx, "Exited", nil)
}

func buildWorkerFactory(cfg *config.Config, pids worker.PIDRegistry) (worker.Factory, error) {
	switch cfg.WorkerBackend {
	case "docker":
		return worker.NewDockerFactory(cfg.DockerSocket, cfg.DockerImage, pids)
	case "wasm":
		module := cfg.WasmModule
		return worker.NewWasmFactory(func(domain.SandboxKey) string { return module }), nil
	default:
		return worker.NewFakeFactory(), nil
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
