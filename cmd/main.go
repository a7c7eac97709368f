package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/mindlab/internal/adapters/cache"
	"github.com/okian/mindlab/internal/adapters/http/api"
	"github.com/okian/mindlab/internal/adapters/http/swagger"
	"github.com/okian/mindlab/internal/adapters/repository"
	"github.com/okian/mindlab/internal/adapters/repository/memory"
	"github.com/okian/mindlab/internal/adapters/repository/postgres"
	"github.com/okian/mindlab/internal/adapters/repository/sqlite"
	app "github.com/okian/mindlab/internal/app"
	"github.com/okian/mindlab/internal/config"
	"github.com/okian/mindlab/pkg/logger"
	"github.com/okian/mindlab/pkg/metrics"
	"github.com/okian/mindlab/pkg/tracing"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 15 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	dialTimeout               = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	if err := logger.Init(); err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> .env -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "mindlab stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := logger.SetFormat(cfg.LogFormat); err != nil {
		return fmt.Errorf("log format: %w", err)
	}
	log := logger.Get()
	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	metrics.Configure(
		metrics.WithNamespace(cfg.MetricsNamespace),
		metrics.WithMetricsEnabled(cfg.MetricsEnabled),
		metrics.WithRefreshInterval(cfg.MetricsRefreshInterval),
		metrics.WithServiceLabel(cfg.ServiceName),
	)

	shutdownTracing, err := tracing.Setup(ctx, cfg.OTelEndpoint, cfg.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn(ctx, "trace flush failed", logger.Error(err))
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn(ctx, "closing store", logger.Error(err))
		}
	}()

	lbCache := openCache(ctx, cfg, log)
	defer func() { _ = lbCache.Close() }()

	svc, err := newService(cfg, store, lbCache, log)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop(context.WithoutCancel(ctx))

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(cfg, svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// openStore opens the configured durable store.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DatabaseURL,
			postgres.WithMaxConns(int32(cfg.DBMaxConns)), //nolint:gosec // validated range
			postgres.WithMinConns(int32(cfg.DBMinConns)), //nolint:gosec // validated range
		)
	case config.DriverMemory:
		return memory.New(ctx), nil
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("%w: store_driver %q", config.ErrInvalidConfig, cfg.StoreDriver)
	}
}

// openCache picks the leaderboard cache. An unreachable Redis degrades to a
// per-process cache instead of failing startup.
func openCache(ctx context.Context, cfg *config.Config, log logger.Logger) cache.Cache {
	if !cfg.CacheEnabled {
		return cache.Noop{}
	}
	if cfg.RedisURL == "" {
		return cache.NewMemory()
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	c, err := cache.DialRedis(dialCtx, cfg.RedisURL)
	if err != nil {
		log.Warn(ctx, "redis unavailable; using in-process leaderboard cache", logger.Error(err))
		return cache.NewMemory()
	}
	return c
}

func newService(cfg *config.Config, store repository.Store, c cache.Cache, log logger.Logger) (*app.Service, error) {
	bucketer, err := cfg.Bucketer()
	if err != nil {
		return nil, err
	}
	rules, err := cfg.Rules(bucketer)
	if err != nil {
		return nil, err
	}
	return app.New(
		app.WithLogger(log),
		app.WithStore(store),
		app.WithCache(c),
		app.WithCacheTTL(cfg.CacheTTL),
		app.WithBucketer(bucketer),
		app.WithScoringRules(rules),
		app.WithWorkerCount(cfg.WarmWorkerCount),
		app.WithQueueSize(cfg.WarmQueueSize),
		app.WithWarming(cfg.WarmWorkerCount > 0),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithLimits(cfg.DefaultLeaderboardLimit, cfg.MaxLeaderboardLimit),
		app.WithRetention(cfg.RetentionSchedule, cfg.DailyRetentionDays, cfg.WeeklyRetentionWeeks),
	), nil
}

// newHandler builds the HTTP routes: business API plus docs.
func newHandler(cfg *config.Config, svc api.Dependencies) http.Handler {
	apiServer := api.NewServer(svc,
		api.WithMaxBatchSize(cfg.MaxBatchSize),
		api.WithCORSOrigins(cfg.CORSOrigins...),
	)
	swagger.Register(apiServer.Router())
	return apiServer.Handler()
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes store and queue gauges.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics updates service-level metrics. GetStats already
// refreshes the store record gauges.
func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()

	if queueLen, ok := stats["warmQueueLength"].(int); ok {
		metrics.UpdateQueueSize(queueLen)
	}
	if workerCount, ok := stats["workerCount"].(int); ok {
		metrics.UpdateWorkerCount(workerCount)
	}
	if dedupe, ok := stats["dedupeEntries"].(int64); ok {
		metrics.UpdateDedupeSize(dedupe)
	}
}
