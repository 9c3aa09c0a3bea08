// Package main is the entry point for the relay. It loads configuration,
// builds the fallback chains and the guards around their dependencies,
// assembles the middleware stack, starts the HTTP server, and handles
// graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dskow/toolgate/internal/admin"
	"github.com/dskow/toolgate/internal/auth"
	"github.com/dskow/toolgate/internal/cache"
	"github.com/dskow/toolgate/internal/circuitbreaker"
	"github.com/dskow/toolgate/internal/config"
	"github.com/dskow/toolgate/internal/health"
	"github.com/dskow/toolgate/internal/logging"
	"github.com/dskow/toolgate/internal/metrics"
	"github.com/dskow/toolgate/internal/middleware"
	"github.com/dskow/toolgate/internal/ratelimit"
	"github.com/dskow/toolgate/internal/relay"
	"github.com/dskow/toolgate/internal/telemetry"
	"github.com/dskow/toolgate/internal/tlsutil"
)

func main() {
	configPath := flag.String("config", "configs/toolgate.yaml", "path to configuration file")
	flag.Parse()

	// Bootstrap logger for everything that can fail before the configured
	// logger exists.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.NewLogger(cfg.Logging, middleware.ParseLogLevel(cfg.Logging.Level))
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to open log output", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"chains", len(cfg.Chains),
		"auth_enabled", cfg.Auth.Enabled,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
		"cache_backend", cfg.Cache.Backend,
		"throttle_enabled", cfg.Throttle.Enabled,
		"tls_enabled", cfg.Server.TLS.Enabled,
		"max_body_bytes", cfg.Server.MaxBodyBytes,
	)

	// Initialize Prometheus metrics
	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	// Build the cache store backing cached strategies and write-through.
	// A dead redis at boot is a warning, not a failure: the relay's whole
	// point is serving something when a backend is down.
	var store cache.Store
	switch cfg.Cache.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
		})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable at startup, cached strategies will miss until it returns",
				"addr", cfg.Cache.Redis.Addr, "error", err)
		}
		cancel()
		store = cache.NewRedis(rdb, cfg.Cache.KeyPrefix, cfg.Cache.TTL)
	default:
		store = cache.NewMemory(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	}

	// Breaker and chain events go to the log at debug; the breaker logs its
	// own state transitions at info independently of the sink.
	sink := telemetry.NewLogSink(logger, slog.LevelDebug)

	breakers := circuitbreaker.NewRegistry(func(key string) circuitbreaker.Settings {
		return relay.BreakerSettings(cfg.Breakers.Resolve(key))
	}, logger, sink)

	// Build the outbound per-dependency throttle gate
	limiter := ratelimit.New(cfg.Throttle, logger)
	defer limiter.Stop()

	// Build the fallback chains
	chains, err := relay.BuildChains(cfg, relay.Deps{
		Store:     store,
		Breakers:  breakers,
		Bulkheads: relay.BuildBulkheads(cfg),
		Throttle:  limiter,
		Sink:      sink,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to build chains", "error", err)
		os.Exit(1)
	}
	for _, cc := range cfg.Chains {
		logger.Info("chain mounted",
			"chain", cc.Name,
			"path_prefix", cc.PathPrefix,
			"strategies", len(cc.Strategies),
			"auth_required", cc.AuthRequired,
			"cache_write", cc.CacheWrite,
		)
	}

	// Build the relay router
	router, err := relay.New(cfg, chains, logger)
	if err != nil {
		logger.Error("failed to create relay router", "error", err)
		os.Exit(1)
	}

	// Assemble middleware stack:
	// Recovery → RequestID → SecurityHeaders → Logging → Deadline → BodyLimit → Auth → Relay
	bodyLog := &middleware.LoggingConfig{
		BodyLogging:     cfg.Logging.BodyLogging,
		MaxBodyLogBytes: cfg.Logging.MaxBodyLogBytes,
	}
	// The hard deadline is a watchdog for wedged handlers, so it must outlast
	// a well-behaved request running at the maximum budget.
	watchdog := cfg.Server.MaxDeadline() + 2*time.Second

	var handler http.Handler = router
	handler = auth.Middleware(cfg.Auth, router.ChainRequiresAuth, logger)(handler)
	handler = middleware.BodyLimit(cfg.Server.MaxBodyBytes)(handler)
	handler = middleware.Deadline(watchdog)(handler)
	handler = middleware.Logging(logger, nil, bodyLog)(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	// Initialize config reloader (admin reads live config through it)
	reloader := config.NewReloader(*configPath, cfg, logger)

	// Register health, metrics, and admin routes on a separate mux,
	// then combine with the main handler
	mux := http.NewServeMux()
	healthHandler := health.New(cfg.Chains, breakers, logger)
	healthHandler.RegisterRoutes(mux)

	metricsPath := cfg.Metrics.Path
	if cfg.Metrics.IsEnabled() {
		mux.Handle(metricsPath, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", metricsPath)
	}

	if cfg.Admin.Enabled {
		adminHandler := admin.New(reloader, breakers, limiter, cfg.Chains, cfg.Admin.IPAllowlist, logger)
		adminHandler.RegisterRoutes(mux)
		logger.Info("admin endpoints registered", "allowlist", cfg.Admin.IPAllowlist)
	}

	// Combine: ops endpoints bypass the middleware stack
	combined := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		if p == "/health" || p == "/ready" ||
			(cfg.Metrics.IsEnabled() && p == metricsPath) ||
			(cfg.Admin.Enabled && strings.HasPrefix(p, "/admin/")) {
			mux.ServeHTTP(w, r)
			return
		}
		handler.ServeHTTP(w, r)
	})

	reloader.Start()
	defer reloader.Stop()

	// Chains, breakers, and mounts are fixed at boot; only the throttle gate
	// follows the file between restarts.
	reloader.OnReload(func(newCfg *config.Config) {
		limiter.UpdateConfig(newCfg.Throttle)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      combined,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Server.TLS.Enabled {
		tlsCfg, certLoader, err := tlsutil.ServerConfig(cfg.Server.TLS, logger)
		if err != nil {
			logger.Error("failed to configure TLS", "error", err)
			os.Exit(1)
		}
		defer certLoader.Stop()
		srv.TLSConfig = tlsCfg
	}

	// Start server in a goroutine
	go func() {
		logger.Info("starting relay", "addr", srv.Addr, "tls", cfg.Server.TLS.Enabled)
		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("relay stopped gracefully")
}
