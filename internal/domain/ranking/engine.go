package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/okian/mindlab/internal/adapters/cache"
	"github.com/okian/mindlab/internal/adapters/repository"
	"github.com/okian/mindlab/internal/domain/model"
	"github.com/okian/mindlab/internal/domain/period"
	"github.com/okian/mindlab/pkg/logger"
	"github.com/okian/mindlab/pkg/metrics"
)

// Default engine configuration constants.
const (
	DefaultMaxLimit = 1000
	DefaultCacheTTL = 30 * time.Second
	// DefaultLoadTimeout bounds a shared store read once it no longer
	// belongs to any single caller.
	DefaultLoadTimeout = 10 * time.Second

	generationSlots = 256

	cacheKeyPrefix = "lb:"
	tracerName     = "github.com/okian/mindlab/internal/domain/ranking"
)

// Cache lookup outcomes reported to metrics.
const (
	cacheHit      = "hit"
	cacheMiss     = "miss"
	cacheError    = "error"
	cacheDisabled = "disabled"
)

// Engine answers leaderboard queries. Reads go through the cache when one
// is configured; a failing cache degrades to a store read.
type Engine struct {
	store    repository.Store
	cache    cache.Cache
	ttl      time.Duration
	maxLimit int
	timeout  time.Duration
	group    singleflight.Group
	logger   logger.Logger
	tracer   trace.Tracer

	// gens counts invalidations per bucket, striped by a hash of the
	// bucket prefix. A load only caches its result when its slot did not
	// move while it ran; a collision costs a skipped cache write.
	gens [generationSlots]atomic.Uint64
}

// NewEngine returns an engine reading from store without a cache.
func NewEngine(store repository.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		cache:    cache.Noop{},
		ttl:      DefaultCacheTTL,
		maxLimit: DefaultMaxLimit,
		timeout:  DefaultLoadTimeout,
		logger:   logger.Get().Named("ranking"),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxLimit returns the largest accepted query limit.
func (e *Engine) MaxLimit() int { return e.maxLimit }

// CacheKey returns the cache key of a leaderboard query.
func CacheKey(q model.LeaderboardQuery) string {
	return BucketPrefix(q.Scope, q.Period) + strconv.Itoa(q.Limit)
}

// BucketPrefix returns the prefix shared by every cached leaderboard of one
// (scope, period) bucket.
func BucketPrefix(scope model.Scope, periodKey string) string {
	return cacheKeyPrefix + scope.String() + ":" + periodKey + ":"
}

// Validate rejects queries that can never be answered.
func (e *Engine) Validate(q model.LeaderboardQuery) error {
	if q.Limit < 1 || q.Limit > e.maxLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", model.ErrInvalidQuery, e.maxLimit)
	}
	if _, err := period.Parse(q.Period); err != nil {
		return err
	}
	return nil
}

// Leaderboard returns the top q.Limit entries of the bucket, ranked with
// competition ranking. Ranking the score-ordered prefix gives the same
// ranks as ranking the full bucket because every record that outscores a
// returned one is itself returned.
func (e *Engine) Leaderboard(ctx context.Context, q model.LeaderboardQuery) ([]model.LeaderboardEntry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordLeaderboardLatency(float64(time.Since(start).Milliseconds()))
	}()

	ctx, span := e.tracer.Start(ctx, "ranking.Leaderboard", trace.WithAttributes(
		attribute.String("leaderboard.scope", q.Scope.String()),
		attribute.String("leaderboard.period", q.Period),
		attribute.Int("leaderboard.limit", q.Limit),
	))
	defer span.End()

	if err := e.Validate(q); err != nil {
		span.SetStatus(codes.Error, "invalid query")
		return nil, err
	}

	key := CacheKey(q)
	if _, ok := e.cache.(cache.Noop); ok {
		metrics.RecordLeaderboardQuery(q.Scope.String(), cacheDisabled)
		return e.load(ctx, q, span)
	}

	cached, ok, err := e.cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.RecordCacheError("get")
		metrics.RecordLeaderboardQuery(q.Scope.String(), cacheError)
		e.logger.Warn(ctx, "leaderboard cache read failed", logger.String("key", key), logger.Error(err))
	case ok:
		var entries []model.LeaderboardEntry
		if jerr := json.Unmarshal(cached, &entries); jerr == nil {
			metrics.RecordLeaderboardQuery(q.Scope.String(), cacheHit)
			span.SetAttributes(attribute.Bool("leaderboard.cache_hit", true))
			return entries, nil
		}
		metrics.RecordLeaderboardQuery(q.Scope.String(), cacheMiss)
	default:
		metrics.RecordLeaderboardQuery(q.Scope.String(), cacheMiss)
	}

	// The shared load runs detached from the caller that started it so a
	// cancelled request cannot fail the others waiting on the same key.
	ch := e.group.DoChan(key, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()
		return e.loadAndRemember(lctx, q, key, span)
	})
	select {
	case <-ctx.Done():
		span.SetStatus(codes.Error, "cancelled")
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]model.LeaderboardEntry), nil
	}
}

// Refresh recomputes a leaderboard from the store and overwrites its cache
// entry.
func (e *Engine) Refresh(ctx context.Context, q model.LeaderboardQuery) ([]model.LeaderboardEntry, error) {
	ctx, span := e.tracer.Start(ctx, "ranking.Refresh", trace.WithAttributes(
		attribute.String("leaderboard.scope", q.Scope.String()),
		attribute.String("leaderboard.period", q.Period),
	))
	defer span.End()

	if err := e.Validate(q); err != nil {
		return nil, err
	}
	return e.loadAndRemember(ctx, q, CacheKey(q), span)
}

// Invalidate drops every cached leaderboard of the bucket.
func (e *Engine) Invalidate(ctx context.Context, scope model.Scope, periodKey string) error {
	prefix := BucketPrefix(scope, periodKey)
	e.generation(prefix).Add(1)
	n, err := e.cache.DeletePrefix(ctx, prefix)
	if err != nil {
		metrics.RecordCacheError("invalidate")
		return fmt.Errorf("invalidate %s %s: %w", scope, periodKey, err)
	}
	metrics.RecordCacheInvalidation(n)
	return nil
}

// InvalidateAll drops every cached leaderboard.
func (e *Engine) InvalidateAll(ctx context.Context) error {
	for i := range e.gens {
		e.gens[i].Add(1)
	}
	n, err := e.cache.DeletePrefix(ctx, cacheKeyPrefix)
	if err != nil {
		metrics.RecordCacheError("invalidate")
		return fmt.Errorf("invalidate all: %w", err)
	}
	metrics.RecordCacheInvalidation(n)
	return nil
}

// UserRank returns one user's entry in the bucket: its rank is one plus
// the number of records with a strictly greater score.
func (e *Engine) UserRank(ctx context.Context, scope model.Scope, periodKey, userID string) (model.LeaderboardEntry, error) {
	ctx, span := e.tracer.Start(ctx, "ranking.UserRank", trace.WithAttributes(
		attribute.String("leaderboard.scope", scope.String()),
		attribute.String("leaderboard.period", periodKey),
	))
	defer span.End()

	if userID == "" {
		return model.LeaderboardEntry{}, fmt.Errorf("%w: userId is required", model.ErrInvalidQuery)
	}
	if _, err := period.Parse(periodKey); err != nil {
		return model.LeaderboardEntry{}, err
	}

	q := repository.ScoreQuery{Scope: scope, Period: periodKey}
	rec, err := e.store.ScoreOf(ctx, q, userID)
	if err != nil {
		return model.LeaderboardEntry{}, e.storeError(span, "score of", err)
	}
	above, err := e.store.CountAbove(ctx, q, rec.Score)
	if err != nil {
		return model.LeaderboardEntry{}, e.storeError(span, "count above", err)
	}
	return model.LeaderboardEntry{
		UserID:   rec.UserID,
		Username: displayName(rec),
		Score:    rec.Score,
		Rank:     above + 1,
	}, nil
}

func (e *Engine) load(ctx context.Context, q model.LeaderboardQuery, span trace.Span) ([]model.LeaderboardEntry, error) {
	records, err := e.store.TopScores(ctx, repository.ScoreQuery{Scope: q.Scope, Period: q.Period, Limit: q.Limit})
	if err != nil {
		return nil, e.storeError(span, "top scores", err)
	}
	span.SetAttributes(attribute.Int("leaderboard.records", len(records)))
	return Rank(records), nil
}

// loadAndRemember reads the bucket and caches the result unless the bucket
// was invalidated while the read ran. An invalidation that lands between
// the check and the write is caught afterwards and the bucket is dropped
// again.
func (e *Engine) loadAndRemember(ctx context.Context, q model.LeaderboardQuery, key string, span trace.Span) ([]model.LeaderboardEntry, error) {
	prefix := BucketPrefix(q.Scope, q.Period)
	gen := e.generation(prefix)
	before := gen.Load()
	entries, err := e.load(ctx, q, span)
	if err != nil {
		return nil, err
	}
	if gen.Load() != before {
		return entries, nil
	}
	e.remember(ctx, key, entries)
	if gen.Load() != before {
		if _, derr := e.cache.DeletePrefix(ctx, prefix); derr != nil {
			metrics.RecordCacheError("invalidate")
		}
	}
	return entries, nil
}

func (e *Engine) generation(prefix string) *atomic.Uint64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(prefix))
	return &e.gens[h.Sum32()%generationSlots]
}

func (e *Engine) remember(ctx context.Context, key string, entries []model.LeaderboardEntry) {
	if _, ok := e.cache.(cache.Noop); ok {
		return
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, key, raw, e.ttl); err != nil {
		metrics.RecordCacheError("set")
		e.logger.Warn(ctx, "leaderboard cache write failed", logger.String("key", key), logger.Error(err))
	}
}

func (e *Engine) storeError(span trace.Span, op string, err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	metrics.RecordErrorByComponent("ranking", op)
	if errors.Is(err, repository.ErrInvalidLimit) {
		return fmt.Errorf("%w: %w", model.ErrInvalidQuery, err)
	}
	return fmt.Errorf("ranking %s: %w", op, err)
}
