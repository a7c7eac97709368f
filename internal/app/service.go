// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/mindlab/internal/adapters/cache"
	"github.com/okian/mindlab/internal/adapters/mq/queue"
	"github.com/okian/mindlab/internal/adapters/mq/worker"
	"github.com/okian/mindlab/internal/adapters/repository"
	"github.com/okian/mindlab/internal/adapters/repository/memory"
	"github.com/okian/mindlab/internal/domain/dedupe"
	"github.com/okian/mindlab/internal/domain/ingest"
	"github.com/okian/mindlab/internal/domain/model"
	"github.com/okian/mindlab/internal/domain/period"
	"github.com/okian/mindlab/internal/domain/ranking"
	"github.com/okian/mindlab/internal/domain/scoring"
	"github.com/okian/mindlab/internal/retention"
	"github.com/okian/mindlab/pkg/logger"
	"github.com/okian/mindlab/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultWorkerCount  = 2
	defaultQueueSize    = 1024
	defaultDedupeSize   = 100_000
	defaultLimit        = 100
	statsTimeout        = 5 * time.Second
	workerStopTimeout   = 10 * time.Second
	retentionStopWindow = 30 * time.Second
)

// ErrNotStarted is returned by operations called before Start.
var ErrNotStarted = errors.New("service not started")

// Service implements the API dependencies for the sync and leaderboard
// system.
type Service struct {
	mu sync.RWMutex

	// Injected or built on Start.
	store    repository.Store
	cache    cache.Cache
	rules    *scoring.Rules
	bucketer *period.Bucketer

	deduper   dedupe.Deduper
	ingest    *ingest.Engine
	ranking   *ranking.Engine
	warmQueue *queue.InMemoryQueue
	warmPool  *worker.Pool
	retention *retention.Job

	// Configuration
	workerCount       int
	queueSize         int
	dedupeSize        int
	cacheTTL          time.Duration
	maxLimit          int
	defaultLimit      int
	warmEnabled       bool
	retentionSchedule string
	dailyRetention    int
	weeklyRetention   int

	// State
	started   bool
	startedAt time.Time
	ownsStore bool
	cancel    context.CancelFunc

	logger logger.Logger
	now    func() time.Time
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:     defaultWorkerCount,
		queueSize:       defaultQueueSize,
		dedupeSize:      defaultDedupeSize,
		cacheTTL:        ranking.DefaultCacheTTL,
		maxLimit:        ranking.DefaultMaxLimit,
		defaultLimit:    defaultLimit,
		warmEnabled:     true,
		dailyRetention:  retention.DefaultDailyRetentionDays,
		weeklyRetention: retention.DefaultWeeklyRetentionWeeks,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bucketer == nil {
		s.bucketer = period.NewBucketer()
	}
	if s.rules == nil {
		s.rules = scoring.NewRules(scoring.WithBucketer(s.bucketer))
	}
	if s.cache == nil {
		s.cache = cache.Noop{}
	}
	return s
}

// Start builds the engines and starts the background workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	if s.retentionSchedule != "" {
		if _, err := retention.ParseSchedule(s.retentionSchedule); err != nil {
			return fmt.Errorf("start retention: %w", err)
		}
	}
	s.logger.Info(ctx, "starting sync service...")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	if s.store == nil {
		s.store = memory.New(runCtx)
		s.ownsStore = true
		s.logger.Info(ctx, "using in-memory store")
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.ranking = ranking.NewEngine(s.store,
		ranking.WithCache(s.cache),
		ranking.WithCacheTTL(s.cacheTTL),
		ranking.WithMaxLimit(s.maxLimit),
	)

	ingestOpts := []ingest.Option{
		ingest.WithDeduper(s.deduper),
		ingest.WithInvalidator(s.ranking),
	}
	_, cacheDisabled := s.cache.(cache.Noop)
	if s.warmEnabled && !cacheDisabled {
		s.warmQueue = queue.NewInMemoryQueue(
			queue.WithCapacity(s.queueSize),
			queue.WithBufferSize(s.queueSize),
		)
		s.warmPool = worker.NewPool(s.workerCount, s.warmQueue, worker.WarmerFunc(s.warm))
		s.warmPool.Start(runCtx)
		ingestOpts = append(ingestOpts, ingest.WithCommitHook(s.enqueueWarm))
	}
	s.ingest = ingest.NewEngine(s.store, s.rules, ingestOpts...)

	if s.retentionSchedule != "" {
		s.retention = retention.New(s.store, s.bucketer,
			retention.WithDailyRetention(s.dailyRetention),
			retention.WithWeeklyRetention(s.weeklyRetention),
			retention.WithInvalidator(s.ranking),
		)
		if err := s.retention.Start(runCtx, s.retentionSchedule); err != nil {
			cancel()
			return fmt.Errorf("start retention: %w", err)
		}
	}

	s.started = true
	s.startedAt = s.now()
	s.logger.Info(ctx, "sync service started",
		logger.Int("warmWorkers", s.workerCount),
		logger.Int("warmQueueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Bool("warming", s.warmPool != nil),
		logger.Bool("retention", s.retention != nil),
	)
	return nil
}

// Stop gracefully shuts down the service. The store is closed only when the
// service created it.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.logger.Info(ctx, "stopping sync service...")

	if s.retention != nil {
		stopCtx, cancel := context.WithTimeout(ctx, retentionStopWindow)
		s.retention.Stop(stopCtx)
		cancel()
	}
	if s.warmPool != nil {
		stopCtx, cancel := context.WithTimeout(ctx, workerStopTimeout)
		if err := s.warmPool.Shutdown(stopCtx); err != nil {
			s.logger.Warn(ctx, "warm pool shutdown", logger.Error(err))
		}
		cancel()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(ctx, "closing store", logger.Error(err))
		}
		s.store = nil
		s.ownsStore = false
	}

	s.started = false
	s.logger.Info(ctx, "sync service stopped")
}

func (s *Service) enqueueWarm(ctx context.Context, buckets []model.Bucket) {
	for _, b := range buckets {
		job := queue.Job{Scope: b.Scope, Period: b.Period, Limit: s.defaultLimit}
		if !s.warmQueue.Enqueue(ctx, job) {
			s.logger.Debug(ctx, "warm job dropped",
				logger.String("scope", b.Scope.String()),
				logger.String("period", b.Period),
			)
		}
	}
}

func (s *Service) warm(ctx context.Context, j queue.Job) error {
	_, err := s.ranking.Refresh(ctx, j)
	return err
}

func (s *Service) engines() (*ingest.Engine, *ranking.Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, nil, fmt.Errorf("%w: %w", model.ErrStorageUnavailable, ErrNotStarted)
	}
	return s.ingest, s.ranking, nil
}

// Sync ingests one client batch.
func (s *Service) Sync(ctx context.Context, batch []model.Event) (ingest.Result, error) {
	in, _, err := s.engines()
	if err != nil {
		return ingest.Result{}, err
	}
	return in.Sync(ctx, batch)
}

// Leaderboard returns a ranked leaderboard.
func (s *Service) Leaderboard(ctx context.Context, q model.LeaderboardQuery) ([]model.LeaderboardEntry, error) {
	_, rk, err := s.engines()
	if err != nil {
		return nil, err
	}
	return rk.Leaderboard(ctx, q)
}

// UserRank returns one user's ranked entry.
func (s *Service) UserRank(ctx context.Context, scope model.Scope, periodKey, userID string) (model.LeaderboardEntry, error) {
	_, rk, err := s.engines()
	if err != nil {
		return model.LeaderboardEntry{}, err
	}
	return rk.UserRank(ctx, scope, periodKey, userID)
}

// ResolvePeriod turns a period alias or key into the bucket key to query.
func (s *Service) ResolvePeriod(aliasOrKey string) (string, error) {
	return s.bucketer.Resolve(aliasOrKey, s.now())
}

// DefaultLimit returns the limit used when a query names none.
func (s *Service) DefaultLimit() int { return s.defaultLimit }

// MaxLimit returns the largest accepted leaderboard limit.
func (s *Service) MaxLimit() int { return s.maxLimit }

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil {
		return fmt.Errorf("%w: %w", model.ErrStorageUnavailable, ErrNotStarted)
	}
	return store.Ping(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
		"periods":     periodNames(s.bucketer),
		"timezone":    s.bucketer.Location().String(),
	}
	if !s.started {
		return stats
	}

	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	stats["uptimeSeconds"] = int64(s.now().Sub(s.startedAt).Seconds())
	stats["dedupeEntries"] = s.deduper.Size()
	if s.warmQueue != nil {
		stats["warmQueueLength"] = s.warmQueue.Len(ctx)
	}
	if st, err := s.store.Stats(ctx); err == nil {
		stats["store"] = st
		metrics.UpdateStoreRecords("events", st.Events)
		metrics.UpdateStoreRecords("players", st.Players)
		metrics.UpdateStoreRecords("game_scores", st.GameScores)
		metrics.UpdateStoreRecords("global_scores", st.GlobalScores)
	} else {
		stats["storeError"] = err.Error()
	}
	return stats
}

func periodNames(b *period.Bucketer) []string {
	kinds := b.Kinds()
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = k.String()
	}
	return out
}
