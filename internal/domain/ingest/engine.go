// Package ingest stores batches of client events exactly once and folds
// their scores into the leaderboard aggregates.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/mindlab/internal/adapters/repository"
	"github.com/okian/mindlab/internal/domain/dedupe"
	"github.com/okian/mindlab/internal/domain/model"
	"github.com/okian/mindlab/internal/domain/scoring"
	"github.com/okian/mindlab/pkg/logger"
	"github.com/okian/mindlab/pkg/metrics"
)

const tracerName = "github.com/okian/mindlab/internal/domain/ingest"

// Batch outcomes reported to metrics.
const (
	outcomeOK          = "ok"
	outcomeEmpty       = "empty"
	outcomeUnavailable = "unavailable"
	outcomeFailed      = "failed"
	outcomeInvalid     = "invalid"
)

// Ack is the per-event outcome of a sync.
type Ack string

// Ack values.
const (
	AckNew       Ack = "new"
	AckDuplicate Ack = "duplicate"
)

// Result summarizes a sync. Acks is indexed like the input batch.
type Result struct {
	Synced int
	Total  int
	Acks   []Ack
}

// Invalidator drops cached leaderboards of one bucket.
type Invalidator interface {
	Invalidate(ctx context.Context, scope model.Scope, periodKey string) error
}

// CommitHook observes the buckets changed by a committed batch.
type CommitHook func(ctx context.Context, buckets []model.Bucket)

// Engine is the ingestion engine.
type Engine struct {
	store       repository.Store
	rules       *scoring.Rules
	dedupe      dedupe.Deduper
	invalidator Invalidator
	onCommit    CommitHook
	now         func() time.Time
	logger      logger.Logger
	tracer      trace.Tracer
}

// NewEngine returns an engine writing to store and scoring with rules.
func NewEngine(store repository.Store, rules *scoring.Rules, opts ...Option) *Engine {
	if rules == nil {
		rules = scoring.NewRules()
	}
	e := &Engine{
		store:  store,
		rules:  rules,
		dedupe: dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0)),
		now:    time.Now,
		logger: logger.Get().Named("ingest"),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// batchState is rebuilt on every transaction attempt.
type batchState struct {
	inserted []bool
	buckets  map[model.Bucket]struct{}
	changed  int
}

// Sync stores batch in one transaction. Events whose idempotency key is
// already stored are acknowledged as duplicates and contribute nothing.
// Either every new event of the batch and all of its score updates become
// visible, or none do.
func (e *Engine) Sync(ctx context.Context, batch []model.Event) (Result, error) {
	if len(batch) == 0 {
		metrics.RecordSyncBatch(outcomeEmpty)
		return Result{}, nil
	}
	for i := range batch {
		if err := batch[i].CheckScore(); err != nil {
			metrics.RecordSyncBatch(outcomeInvalid)
			return Result{}, fmt.Errorf("sync: event %d: %w", i, err)
		}
	}

	start := e.now()
	ctx, span := e.tracer.Start(ctx, "ingest.Sync", trace.WithAttributes(
		attribute.Int("sync.batch_size", len(batch)),
	))
	defer span.End()
	metrics.RecordSyncBatchSize(len(batch))

	res := Result{Total: len(batch), Acks: make([]Ack, len(batch))}

	// Keys known to be committed skip the transaction entirely.
	pending := make([]int, 0, len(batch))
	for i := range batch {
		if e.dedupe.Contains(ctx, batch[i].Key()) {
			res.Acks[i] = AckDuplicate
			continue
		}
		pending = append(pending, i)
	}
	if hits := len(batch) - len(pending); hits > 0 {
		metrics.RecordDedupeHits(hits)
	}

	var st batchState
	if len(pending) > 0 {
		err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			st = batchState{inserted: make([]bool, len(pending)), buckets: make(map[model.Bucket]struct{})}
			return e.apply(ctx, tx, batch, pending, &st)
		})
		if err != nil {
			return Result{}, e.fail(ctx, span, len(batch), err)
		}
	}

	keys := make([]model.Key, 0, len(pending))
	for j, i := range pending {
		keys = append(keys, batch[i].Key())
		if st.inserted[j] {
			res.Acks[i] = AckNew
			res.Synced++
		} else {
			res.Acks[i] = AckDuplicate
		}
	}
	e.dedupe.Record(ctx, keys...)
	metrics.UpdateDedupeSize(e.dedupe.Size())

	buckets := sortedBuckets(st.buckets)
	e.afterCommit(ctx, buckets)

	metrics.RecordSyncBatch(outcomeOK)
	metrics.RecordEventsSynced(res.Synced)
	metrics.RecordEventsDuplicate(res.Total - res.Synced)
	metrics.RecordScoreRecordsChanged(st.changed)
	metrics.RecordSyncLatency(float64(e.now().Sub(start).Milliseconds()))
	span.SetAttributes(
		attribute.Int("sync.synced", res.Synced),
		attribute.Int("sync.buckets_changed", len(buckets)),
	)
	e.logger.Debug(ctx, "batch synced",
		logger.Int("total", res.Total),
		logger.Int("synced", res.Synced),
		logger.Int("buckets", len(buckets)),
	)
	return res, nil
}

func (e *Engine) apply(ctx context.Context, tx repository.Tx, batch []model.Event, pending []int, st *batchState) error {
	for j, i := range pending {
		ev := batch[i]
		ok, err := tx.InsertEvent(ctx, ev)
		if err != nil {
			return fmt.Errorf("insert event %d: %w", i, err)
		}
		if !ok {
			continue
		}
		st.inserted[j] = true

		for _, d := range e.rules.Deltas(ev) {
			changed, err := tx.ApplyScore(ctx, d)
			if err != nil {
				return fmt.Errorf("apply score of event %d: %w", i, err)
			}
			if changed {
				st.buckets[d.Bucket()] = struct{}{}
				st.changed++
			}
		}
		if name, ok := ev.Username(); ok {
			if err := tx.UpsertPlayer(ctx, ev.UserID, name); err != nil {
				return fmt.Errorf("upsert player of event %d: %w", i, err)
			}
		}
	}
	return nil
}

// afterCommit runs once the batch is durable. Its failures only make cached
// leaderboards stale until their TTL expires, so they are logged and not
// returned.
func (e *Engine) afterCommit(ctx context.Context, buckets []model.Bucket) {
	if len(buckets) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if e.invalidator != nil {
		for _, b := range buckets {
			if err := e.invalidator.Invalidate(ctx, b.Scope, b.Period); err != nil {
				metrics.RecordErrorByComponent("ingest", "invalidate")
				e.logger.Warn(ctx, "cache invalidation failed",
					logger.String("scope", b.Scope.String()),
					logger.String("period", b.Period),
					logger.Error(err),
				)
			}
		}
	}
	if e.onCommit != nil {
		e.onCommit(ctx, buckets)
	}
}

func (e *Engine) fail(ctx context.Context, span trace.Span, size int, err error) error {
	span.RecordError(err)
	if errors.Is(err, model.ErrStorageUnavailable) {
		span.SetStatus(codes.Error, outcomeUnavailable)
		metrics.RecordSyncBatch(outcomeUnavailable)
		metrics.RecordErrorByType("storage_unavailable", "high")
		e.logger.Warn(ctx, "sync rejected, storage unavailable", logger.Int("batch", size), logger.Error(err))
		return fmt.Errorf("sync: %w", err)
	}
	span.SetStatus(codes.Error, outcomeFailed)
	metrics.RecordSyncBatch(outcomeFailed)
	metrics.RecordErrorByType("ingestion_failed", "high")
	e.logger.Error(ctx, "sync rolled back", logger.Int("batch", size), logger.Error(err))
	return fmt.Errorf("%w: %w", model.ErrIngestionFailed, err)
}

func sortedBuckets(set map[model.Bucket]struct{}) []model.Bucket {
	out := make([]model.Bucket, 0, len(set))
	for b := range set {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope.GameID != out[j].Scope.GameID {
			return out[i].Scope.GameID < out[j].Scope.GameID
		}
		return out[i].Period < out[j].Period
	})
	return out
}
