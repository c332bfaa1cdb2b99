// SPDX-License-Identifier: MIT

// Command gated runs the Access Decision Core: the TCP scan ingress, the
// admin HTTP surface, and the Prometheus metrics listener, all sharing one
// persistence store and one OpenTelemetry tracer provider. Grounded in the
// teacher's cmd/daemon/main.go startup sequence (signal-context shutdown,
// structured startup logging, a Prometheus metrics server alongside the
// primary listener) adapted to this module's three listeners instead of
// one.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/accessctl/core/internal/adminhttp"
	"github.com/accessctl/core/internal/audit"
	"github.com/accessctl/core/internal/cache"
	"github.com/accessctl/core/internal/config"
	"github.com/accessctl/core/internal/events"
	"github.com/accessctl/core/internal/hardware"
	"github.com/accessctl/core/internal/health"
	"github.com/accessctl/core/internal/ingress"
	gatelog "github.com/accessctl/core/internal/log"
	"github.com/accessctl/core/internal/override"
	"github.com/accessctl/core/internal/persistence"
	"github.com/accessctl/core/internal/persistence/postgres"
	"github.com/accessctl/core/internal/persistence/sqlite"
	"github.com/accessctl/core/internal/ratelimit"
	"github.com/accessctl/core/internal/rules"
	"github.com/accessctl/core/internal/telemetry"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("gated", version)
		os.Exit(0)
	}

	gatelog.Configure(gatelog.Config{Level: "info", Service: "gated", Version: version})
	logger := gatelog.WithComponent("gated")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	gatelog.Configure(gatelog.Config{Level: cfg.LogLevel, Service: "gated", Version: version})
	logger = gatelog.WithComponent("gated")
	logger.Info().Str("event", "config.loaded").Str("config", cfg.String()).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    "gated",
		ServiceVersion: version,
		Endpoint:       cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSampleRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("error shutting down tracer provider")
		}
	}()

	store, healthChecker, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "store.open_failed").Msg("failed to open persistence store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing persistence store")
		}
	}()

	auditLog := audit.NewLogger()
	hub := events.NewHub(gatelog.WithComponent("events"), 100)
	hwSender := hardware.NewSenderWithOptions(auditLog, cfg.HardwareDialTimeout, cfg.DefaultHardwarePort)
	ruleRepo := rules.NewRepository(store)

	debounce, err := debounceCache(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build debounce cache")
	}

	ingressSrv, err := ingress.New(ingress.Config{
		ListenAddr:  cfg.TCPAddr,
		Logger:      gatelog.WithComponent("ingress"),
		Store:       store,
		Rules:       ruleRepo,
		Hardware:    hwSender,
		Events:      hub,
		Audit:       auditLog,
		Debounce:    debounce,
		DebounceTTL: cfg.DebounceWindow,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to construct ingress server")
	}

	overrideSvc := override.NewService(store, hwSender, hub, auditLog)

	rlDefaults := ratelimit.DefaultConfig()
	limiter := ratelimit.New(ratelimit.Config{
		GlobalRate:      rlDefaults.GlobalRate,
		GlobalBurst:     rlDefaults.GlobalBurst,
		PerIPRate:       rate.Limit(cfg.RateLimitRPS),
		PerIPBurst:      cfg.RateLimitBurst,
		CleanupInterval: rlDefaults.CleanupInterval,
	})

	adminRouter := adminhttp.NewRouter(adminhttp.Config{
		Logger:   gatelog.WithComponent("adminhttp"),
		Override: overrideSvc,
		Rules:    store,
		Limiter:  limiter,
	})

	hm := health.NewManager(version)
	hm.RegisterChecker(healthChecker)
	hm.RegisterChecker(health.NewIngressListenerChecker(ingressSrv.Listening))
	if rc, ok := debounce.(*cache.RedisCache); ok {
		hm.RegisterChecker(health.NewRuleCacheChecker(rc.HealthCheck))
	}
	adminRouter.Get("/healthz", hm.ServeHealth)
	adminRouter.Get("/readyz", hm.ServeReady)

	var wg errGroup

	wg.Go(func() error {
		logger.Info().Str("event", "ingress.start").Str("addr", cfg.TCPAddr).Msg("starting TCP scan ingress")
		return ingressSrv.Start(ctx)
	})

	adminHandler := otelhttp.NewHandler(adminRouter, "adminhttp")
	adminHTTPSrv := &http.Server{Addr: cfg.AdminAddr, Handler: adminHandler}
	wg.Go(func() error {
		logger.Info().Str("event", "adminhttp.start").Str("addr", cfg.AdminAddr).Msg("starting admin HTTP surface")
		if err := adminHTTPSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("adminhttp: %w", err)
		}
		return nil
	})

	var metricsSrv *http.Server
	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		wg.Go(func() error {
			logger.Info().Str("event", "metrics.start").Str("addr", cfg.MetricsAddr).Msg("starting metrics listener")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
	}

	<-ctx.Done()
	logger.Info().Str("event", "shutdown.begin").Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ingressSrv.Stop(); err != nil {
		logger.Warn().Err(err).Msg("error stopping ingress server")
	}
	if err := adminHTTPSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("error shutting down admin HTTP server")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("error shutting down metrics server")
		}
	}

	if err := wg.Wait(); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
	}
	logger.Info().Str("event", "shutdown.complete").Msg("shutdown complete")
}

// openStore opens the configured persistence.Store and returns a health
// checker suited to that backend.
func openStore(ctx context.Context, cfg config.AppConfig) (persistence.Store, health.Checker, error) {
	switch cfg.DBDriver {
	case "postgres":
		store, err := postgres.Open(ctx, cfg.DBURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: open: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, store); err != nil {
			return nil, nil, fmt.Errorf("postgres: ensure schema: %w", err)
		}
		return store, pgPoolChecker{pool: store.Pool()}, nil
	case "sqlite", "":
		path := sqlitePath(cfg.DBURL)
		db, err := sqlite.Open(path, sqlite.DefaultConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: open: %w", err)
		}
		if err := sqlite.EnsureSchema(ctx, db); err != nil {
			return nil, nil, fmt.Errorf("sqlite: ensure schema: %w", err)
		}
		return sqlite.New(db), health.NewDBChecker(db), nil
	default:
		return nil, nil, fmt.Errorf("unsupported DB driver %q", cfg.DBDriver)
	}
}

// pgPoolChecker implements health.Checker against a pgxpool.Pool; the
// health package itself only ships a *sql.DB checker for the sqlite path.
type pgPoolChecker struct {
	pool *pgxpool.Pool
}

func (c pgPoolChecker) Name() string { return "store_connection" }

func (c pgPoolChecker) Type() health.CheckType { return health.CheckHealth | health.CheckReadiness }

func (c pgPoolChecker) Check(ctx context.Context) health.CheckResult {
	if err := c.pool.Ping(ctx); err != nil {
		return health.CheckResult{Status: health.StatusUnhealthy, Error: err.Error(), Message: "store unreachable"}
	}
	return health.CheckResult{Status: health.StatusHealthy, Message: "store connected"}
}

// sqlitePath strips the "file:" scheme and any trailing query string from
// a sqlite DSN, since sqlite.Open builds its own PRAGMA-bearing DSN from a
// bare filesystem path.
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i != -1 {
		path = path[:i]
	}
	return path
}

// debounceCache builds the duplicate-scan suppression cache: Redis when
// ACCESS_CORE_REDIS_ADDR is set (so multiple gated instances behind the
// same gate share debounce state), otherwise an in-memory cache.
func debounceCache(cfg config.AppConfig) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		return cache.NewMemoryCache(time.Minute), nil
	}
	return cache.NewRedisCache(cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, gatelog.WithComponent("cache"))
}

// errGroup runs a small fixed set of long-lived goroutines and collects
// the first non-nil error, without pulling in golang.org/x/sync/errgroup
// for what is here just three fire-and-forget listeners.
type errGroup struct {
	errs chan error
	n    int
}

func (g *errGroup) Go(fn func() error) {
	if g.errs == nil {
		g.errs = make(chan error, 8)
	}
	g.n++
	go func() { g.errs <- fn() }()
}

func (g *errGroup) Wait() error {
	var first error
	for i := 0; i < g.n; i++ {
		if err := <-g.errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}
